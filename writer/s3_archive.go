package writer

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "cryptocsv/config"
	"cryptocsv/logger"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type fileState struct {
	size    int64
	modTime time.Time
}

// S3Archiver copies the CSV files under the data directory to S3. Files are
// uploaded whole and only when they changed since the previous sync.
type S3Archiver struct {
	client   objectPutter
	bucket   string
	prefix   string
	dataDir  string
	interval time.Duration
	version  string
	log      *logger.Log

	mu   sync.Mutex
	seen map[string]fileState
}

// NewS3Archiver builds the S3 client from the storage section.
func NewS3Archiver(ctx context.Context, cfg *appconfig.Config) (*S3Archiver, error) {
	log := logger.GetLogger()
	s3cfg := cfg.Storage.S3

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(s3cfg.Region),
	}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_archiver").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		o.UsePathStyle = s3cfg.PathStyle
	})

	a := newS3Archiver(client, s3cfg.Bucket, s3cfg.Prefix, cfg.Collector.DataDir, s3cfg.Interval)
	a.version = cfg.App.Version

	log.WithComponent("s3_archiver").WithFields(logger.Fields{
		"bucket":     s3cfg.Bucket,
		"region":     s3cfg.Region,
		"endpoint":   s3cfg.Endpoint,
		"path_style": s3cfg.PathStyle,
		"interval":   s3cfg.Interval.String(),
	}).Info("s3 archiver initialized")
	return a, nil
}

func newS3Archiver(client objectPutter, bucket, prefix, dataDir string, interval time.Duration) *S3Archiver {
	return &S3Archiver{
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		dataDir:  filepath.Clean(dataDir),
		interval: interval,
		log:      logger.GetLogger(),
		seen:     make(map[string]fileState),
	}
}

// Run syncs every interval until ctx is cancelled.
func (a *S3Archiver) Run(ctx context.Context) {
	if a.interval <= 0 {
		return
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Sync(ctx); err != nil {
				a.log.WithComponent("s3_archiver").WithError(err).Warn("periodic sync failed")
			}
		}
	}
}

// Sync uploads changed CSV files and returns how many were sent.
func (a *S3Archiver) Sync(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	log := a.log.WithComponent("s3_archiver")
	uploaded := 0
	var firstErr error

	err := filepath.WalkDir(a.dataDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == a.dataDir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ".csv" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		state := fileState{size: info.Size(), modTime: info.ModTime()}
		if prev, ok := a.seen[p]; ok && prev == state {
			return nil
		}

		key, err := a.objectKey(p)
		if err != nil {
			return err
		}
		if err := a.upload(ctx, p, key); err != nil {
			log.WithError(err).WithFields(logger.Fields{"path": p, "key": key}).Warn("upload failed")
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}
		a.seen[p] = state
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, fmt.Errorf("walk %s: %w", a.dataDir, err)
	}

	if uploaded > 0 {
		logger.AddArchivedFiles(uploaded)
		log.WithFields(logger.Fields{"files": uploaded, "bucket": a.bucket}).Info("csv files archived")
	}
	return uploaded, firstErr
}

// objectKey mirrors the file's location below the data directory.
func (a *S3Archiver) objectKey(p string) (string, error) {
	rel, err := filepath.Rel(a.dataDir, p)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if a.prefix == "" {
		return rel, nil
	}
	return path.Join(a.prefix, rel), nil
}

func (a *S3Archiver) upload(ctx context.Context, p, key string) error {
	data, err := os.ReadFile(p)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
	}
	if a.version != "" {
		input.Metadata = map[string]string{"cryptocsv-version": a.version}
	}

	if _, err := a.client.PutObject(context.WithoutCancel(ctx), input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", a.bucket, err)
	}
	return nil
}
