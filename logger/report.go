package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

var (
	warnCount    int64
	errorCount   int64
	fetches      int64
	rowsWritten  int64
	fetchErrors  int64
	rateLimited  int64
	workerExits  int64
	archiveFiles int64
)

func recordWarn()  { atomic.AddInt64(&warnCount, 1) }
func recordError() { atomic.AddInt64(&errorCount, 1) }

func IncrementFetch()        { atomic.AddInt64(&fetches, 1) }
func IncrementFetchError()   { atomic.AddInt64(&fetchErrors, 1) }
func IncrementRateLimited()  { atomic.AddInt64(&rateLimited, 1) }
func IncrementWorkerExit()   { atomic.AddInt64(&workerExits, 1) }
func AddRowsWritten(n int)   { atomic.AddInt64(&rowsWritten, int64(n)) }
func AddArchivedFiles(n int) { atomic.AddInt64(&archiveFiles, int64(n)) }

// Snapshot returns the current counter values keyed by report field name.
func Snapshot() map[string]int64 {
	return map[string]int64{
		"warns":          atomic.LoadInt64(&warnCount),
		"errors":         atomic.LoadInt64(&errorCount),
		"fetches":        atomic.LoadInt64(&fetches),
		"rows_written":   atomic.LoadInt64(&rowsWritten),
		"fetch_errors":   atomic.LoadInt64(&fetchErrors),
		"rate_limited":   atomic.LoadInt64(&rateLimited),
		"worker_exits":   atomic.LoadInt64(&workerExits),
		"archived_files": atomic.LoadInt64(&archiveFiles),
	}
}

// counterDeltas turns the cumulative counters into per-report increments, so
// CloudWatch Sum statistics add up to the run totals.
type counterDeltas struct {
	mu   sync.Mutex
	last map[string]int64
}

func (c *counterDeltas) next(counters map[string]int64) map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		c.last = make(map[string]int64, len(counters))
	}
	out := make(map[string]int64, len(counters))
	for k, v := range counters {
		out[k] = v - c.last[k]
		c.last[k] = v
	}
	return out
}

var reportDeltas = &counterDeltas{}

// StartReport begins periodic logging of runtime and collection statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	memMB := 0.0
	if memStats != nil {
		memMB = float64(memStats.Used) / 1024 / 1024
	}

	counters := Snapshot()
	fields := Fields{
		"goroutines":  runtime.NumGoroutine(),
		"cpu_percent": cpuPct,
		"memory_mb":   int64(memMB),
	}
	for k, v := range counters {
		fields[k] = v
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	publishMetrics(ctx, reportData(cpuPct, memMB, reportDeltas.next(counters)))
}

// reportData builds the datums for one report. Counter values are the
// increase since the previous report.
func reportData(cpuPct, memMB float64, delta map[string]int64) []cwtypes.MetricDatum {
	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memMB)},
	}
	for _, m := range []struct{ name, key string }{
		{"Fetches", "fetches"},
		{"RowsWritten", "rows_written"},
		{"FetchErrors", "fetch_errors"},
		{"RateLimited", "rate_limited"},
		{"WorkerExits", "worker_exits"},
	} {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(m.name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(delta[m.key])),
		})
	}
	return data
}
