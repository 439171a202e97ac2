package knnshard

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/knnshard/partition"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
// Implementations must be safe for concurrent use by all workers.
type MetricsCollector interface {
	// RecordQuery is called after each neighbor query.
	RecordQuery(duration time.Duration, err error)

	// RecordWrite is called after each locked append to a shard file.
	// wait is the time spent acquiring the shard lock, hold the time it was held.
	RecordWrite(shard, records, bytes int, wait, hold time.Duration, err error)

	// RecordWorker is called when a worker exits.
	// words is the number of words whose records were written.
	RecordWorker(kind partition.Kind, words int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordQuery(time.Duration, error)                               {}
func (NoopMetricsCollector) RecordWrite(int, int, int, time.Duration, time.Duration, error) {}
func (NoopMetricsCollector) RecordWorker(partition.Kind, int, time.Duration, error)         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	QueryCount       atomic.Int64
	QueryErrors      atomic.Int64
	QueryTotalNanos  atomic.Int64
	WriteCount       atomic.Int64
	WriteErrors      atomic.Int64
	WriteRecords     atomic.Int64
	WriteBytes       atomic.Int64
	LockWaitNanos    atomic.Int64
	LockHoldNanos    atomic.Int64
	WorkerCount      atomic.Int64
	WorkerErrors     atomic.Int64
	WorkerWords      atomic.Int64
	WorkerTotalNanos atomic.Int64
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(shard, records, bytes int, wait, hold time.Duration, err error) {
	b.WriteCount.Add(1)
	b.WriteBytes.Add(int64(bytes))
	b.LockWaitNanos.Add(wait.Nanoseconds())
	b.LockHoldNanos.Add(hold.Nanoseconds())
	if err != nil {
		b.WriteErrors.Add(1)
		return
	}
	b.WriteRecords.Add(int64(records))
}

// RecordWorker implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWorker(kind partition.Kind, words int, duration time.Duration, err error) {
	b.WorkerCount.Add(1)
	b.WorkerWords.Add(int64(words))
	b.WorkerTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WorkerErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		QueryCount:     b.QueryCount.Load(),
		QueryErrors:    b.QueryErrors.Load(),
		QueryAvgNanos:  avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		WriteCount:     b.WriteCount.Load(),
		WriteErrors:    b.WriteErrors.Load(),
		WriteRecords:   b.WriteRecords.Load(),
		WriteBytes:     b.WriteBytes.Load(),
		LockWaitNanos:  b.LockWaitNanos.Load(),
		LockHoldNanos:  b.LockHoldNanos.Load(),
		WorkerCount:    b.WorkerCount.Load(),
		WorkerErrors:   b.WorkerErrors.Load(),
		WorkerWords:    b.WorkerWords.Load(),
		WorkerAvgNanos: avg(b.WorkerTotalNanos.Load(), b.WorkerCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	QueryCount     int64
	QueryErrors    int64
	QueryAvgNanos  int64
	WriteCount     int64
	WriteErrors    int64
	WriteRecords   int64
	WriteBytes     int64
	LockWaitNanos  int64
	LockHoldNanos  int64
	WorkerCount    int64
	WorkerErrors   int64
	WorkerWords    int64
	WorkerAvgNanos int64
}
