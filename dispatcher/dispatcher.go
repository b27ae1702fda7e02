// Package dispatcher runs one polling worker per stream.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"cryptocsv/config"
	"cryptocsv/internal/errkind"
	"cryptocsv/logger"
	"cryptocsv/models"
	"cryptocsv/reader"
)

// Sink receives the rows of one stream.
type Sink interface {
	Append(row models.Row) error
	Path() string
}

// Worker binds a stream to its adapter and sink.
type Worker struct {
	Stream  models.Stream
	Adapter reader.Adapter
	Sink    Sink
}

// Options control batching, pacing and retries for all workers.
type Options struct {
	// BatchSize workers are started together, followed by Pause. Zero starts all at once.
	BatchSize int
	Pause     time.Duration
	// Duration bounds each worker's run time. Zero runs until ctx is cancelled.
	Duration          time.Duration
	RequestsPerSecond float64
	Burst             int
	Retry             config.RetryConfig
}

// OptionsFromConfig reads the collector and reader sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BatchSize:         cfg.Collector.Stagger.BatchSize,
		Pause:             cfg.Collector.Stagger.Pause,
		Duration:          cfg.Collector.Duration,
		RequestsPerSecond: cfg.Reader.RateLimit.RequestsPerSecond,
		Burst:             cfg.Reader.RateLimit.BurstSize,
		Retry:             cfg.Reader.Retry,
	}
}

// Stats counts one worker's activity.
type Stats struct {
	Fetches int64
	Rows    int64
	Errors  int64
	Exited  bool
	Reason  string
}

type workerStats struct {
	fetches int64
	rows    int64
	errors  int64
	mu      sync.Mutex
	exited  bool
	reason  string
}

func (s *workerStats) exit(reason string) {
	s.mu.Lock()
	s.exited = true
	s.reason = reason
	s.mu.Unlock()
}

// Dispatcher polls every worker's adapter on its own goroutine and appends
// the rows to the worker's sink. Failures stay contained in the worker that
// produced them; fatal ones stop only that worker.
type Dispatcher struct {
	workers []Worker
	opts    Options
	log     *logger.Log
	stats   []*workerStats
	wg      sync.WaitGroup
	done    chan struct{}
	once    sync.Once
}

// New validates that no two workers share a target file.
func New(workers []Worker, opts Options) (*Dispatcher, error) {
	streams := make([]models.Stream, 0, len(workers))
	for i, w := range workers {
		if w.Adapter == nil || w.Sink == nil {
			return nil, errkind.Wrap(errkind.ErrConfiguration, fmt.Errorf("worker %d for %s is incomplete", i, w.Stream.Name()))
		}
		s := w.Stream
		s.Target = w.Sink.Path()
		streams = append(streams, s)
	}
	if err := config.CheckDisjointTargets(streams); err != nil {
		return nil, err
	}

	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = time.Second
	}
	if opts.Retry.MaxDelay < opts.Retry.BaseDelay {
		opts.Retry.MaxDelay = opts.Retry.BaseDelay
	}
	if opts.Retry.BackoffMultiplier < 1 {
		opts.Retry.BackoffMultiplier = 2
	}

	stats := make([]*workerStats, len(workers))
	for i := range stats {
		stats[i] = &workerStats{}
	}

	return &Dispatcher{
		workers: workers,
		opts:    opts,
		log:     logger.GetLogger(),
		stats:   stats,
		done:    make(chan struct{}),
	}, nil
}

// Start launches the workers in batches and returns immediately.
func (d *Dispatcher) Start(ctx context.Context) {
	log := d.log.WithComponent("dispatcher")
	log.WithFields(logger.Fields{
		"workers":    len(d.workers),
		"batch_size": d.opts.BatchSize,
		"pause":      d.opts.Pause.String(),
	}).Info("starting workers")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for i := range d.workers {
			if i > 0 && d.opts.BatchSize > 0 && i%d.opts.BatchSize == 0 {
				log.WithFields(logger.Fields{"started": i}).Debug("pausing between batches")
				select {
				case <-ctx.Done():
					for j := i; j < len(d.workers); j++ {
						d.stats[j].exit("not started")
					}
					return
				case <-time.After(d.opts.Pause):
				}
			}
			d.wg.Add(1)
			go d.run(ctx, i)
		}
	}()

	go func() {
		d.wg.Wait()
		d.once.Do(func() { close(d.done) })
	}()
}

// Wait blocks until every worker has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

// Done is closed once every worker has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Stats returns a copy of each worker's counters keyed by stream name.
func (d *Dispatcher) Stats() map[string]Stats {
	out := make(map[string]Stats, len(d.workers))
	for i, w := range d.workers {
		s := d.stats[i]
		s.mu.Lock()
		out[w.Stream.Name()] = Stats{
			Fetches: atomic.LoadInt64(&s.fetches),
			Rows:    atomic.LoadInt64(&s.rows),
			Errors:  atomic.LoadInt64(&s.errors),
			Exited:  s.exited,
			Reason:  s.reason,
		}
		s.mu.Unlock()
	}
	return out
}

func (d *Dispatcher) run(ctx context.Context, idx int) {
	defer d.wg.Done()

	w := d.workers[idx]
	stats := d.stats[idx]

	if d.opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Duration)
		defer cancel()
	}

	log := d.log.WithComponent("worker").WithFields(logger.Fields{
		"worker_id": uuid.NewString(),
		"exchange":  w.Adapter.Exchange(),
		"data_type": w.Adapter.DataType(),
		"symbol":    w.Stream.Symbol,
		"target":    w.Sink.Path(),
	})
	log.Info("worker started")

	limiter := rate.NewLimiter(rate.Limit(d.opts.RequestsPerSecond), d.opts.Burst)
	b := &backoff.Backoff{
		Min:    d.opts.Retry.BaseDelay,
		Max:    d.opts.Retry.MaxDelay,
		Factor: d.opts.Retry.BackoffMultiplier,
		Jitter: true,
	}

	interval := w.Stream.Interval
	if interval <= 0 {
		interval = 20 * time.Second
	}

	for {
		if err := limiter.Wait(ctx); err != nil {
			stats.exit("stopped")
			log.Info("worker stopped")
			return
		}

		rows, err := w.Adapter.Fetch(ctx)
		atomic.AddInt64(&stats.fetches, 1)
		logger.IncrementFetch()

		var delay time.Duration
		if err != nil {
			if ctx.Err() != nil {
				stats.exit("stopped")
				log.Info("worker stopped")
				return
			}
			atomic.AddInt64(&stats.errors, 1)
			logger.IncrementFetchError()

			switch {
			case errkind.Fatal(err):
				d.exit(log, w.Adapter, stats, kindName(err))
				log.WithError(err).Error("fatal fetch error, worker exiting")
				return
			case errors.Is(err, errkind.ErrRateLimit):
				logger.IncrementRateLimited()
				delay = b.Duration()
				log.WithError(err).WithFields(logger.Fields{"backoff": delay.String()}).Warn("rate limited")
			default:
				delay = b.Duration()
				if delay < interval {
					delay = interval
				}
				log.WithError(err).WithFields(logger.Fields{
					"kind":  kindName(err),
					"retry": delay.String(),
				}).Warn("fetch failed")
			}
		} else {
			b.Reset()
			if err := d.appendRows(w.Sink, rows, stats); err != nil {
				d.exit(log, w.Adapter, stats, kindName(err))
				log.WithError(err).Error("sink failed, worker exiting")
				return
			}
			logger.LogDataFlowEntry(log, w.Adapter.Exchange(), w.Sink.Path(), len(rows), w.Adapter.DataType())
			delay = interval
		}

		select {
		case <-ctx.Done():
			stats.exit("stopped")
			log.Info("worker stopped")
			return
		case <-time.After(delay):
		}
	}
}

// exit records a worker that stopped on a fatal error.
func (d *Dispatcher) exit(log *logger.Entry, adapter reader.Adapter, stats *workerStats, reason string) {
	stats.exit(reason)
	logger.IncrementWorkerExit()
	log.Metric("WorkerExits", 1, map[string]string{
		"exchange":  adapter.Exchange(),
		"data_type": adapter.DataType(),
		"reason":    reason,
	})
}

func (d *Dispatcher) appendRows(sink Sink, rows []models.Row, stats *workerStats) error {
	for _, row := range rows {
		if err := sink.Append(row); err != nil {
			return errkind.Wrap(errkind.ErrIO, err)
		}
		atomic.AddInt64(&stats.rows, 1)
		logger.AddRowsWritten(1)
	}
	return nil
}

func kindName(err error) string {
	switch errkind.Kind(err) {
	case errkind.ErrAuth:
		return "auth"
	case errkind.ErrTransient:
		return "transient"
	case errkind.ErrRateLimit:
		return "rate_limit"
	case errkind.ErrIO:
		return "io"
	case errkind.ErrConfiguration:
		return "configuration"
	}
	return "unclassified"
}
