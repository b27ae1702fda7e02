package writer

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cryptocsv/internal/errkind"
	"cryptocsv/logger"
	"cryptocsv/models"
)

// CSVSink appends rows to one CSV file. The file and its parent directory are
// created on first use and the header is written when the file is empty.
// Every Append is flushed and synced before it returns.
type CSVSink struct {
	path   string
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	header bool
	log    *logger.Log
}

// NewCSVSink returns a sink for path. Nothing touches the filesystem until the
// first Append.
func NewCSVSink(path string) *CSVSink {
	return &CSVSink{
		path: filepath.Clean(path),
		log:  logger.GetLogger(),
	}
}

// Path is the file the sink appends to.
func (s *CSVSink) Path() string {
	return s.path
}

func (s *CSVSink) open() error {
	if s.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errkind.Wrap(errkind.ErrIO, fmt.Errorf("create data directory: %w", err))
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errkind.Wrap(errkind.ErrIO, fmt.Errorf("open %s: %w", s.path, err))
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errkind.Wrap(errkind.ErrIO, fmt.Errorf("stat %s: %w", s.path, err))
	}

	s.file = f
	s.writer = csv.NewWriter(f)
	s.header = info.Size() > 0

	s.log.WithComponent("csv_sink").WithFields(logger.Fields{
		"path":     s.path,
		"existing": s.header,
	}).Debug("csv file opened")
	return nil
}

// Append writes row as one line, preceded by the header line if the file is new.
func (s *CSVSink) Append(row models.Row) error {
	if len(row) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.open(); err != nil {
		return err
	}

	if !s.header {
		if err := s.writer.Write(row.Header()); err != nil {
			return errkind.Wrap(errkind.ErrIO, fmt.Errorf("write header to %s: %w", s.path, err))
		}
	}
	if err := s.writer.Write(row.Values()); err != nil {
		return errkind.Wrap(errkind.ErrIO, fmt.Errorf("write row to %s: %w", s.path, err))
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return errkind.Wrap(errkind.ErrIO, fmt.Errorf("flush %s: %w", s.path, err))
	}
	if err := s.file.Sync(); err != nil {
		return errkind.Wrap(errkind.ErrIO, fmt.Errorf("sync %s: %w", s.path, err))
	}
	s.header = true
	return nil
}

// Close releases the underlying file. The sink reopens it on the next Append.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.writer = nil
	if err != nil {
		return errkind.Wrap(errkind.ErrIO, fmt.Errorf("close %s: %w", s.path, err))
	}
	return nil
}
