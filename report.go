package knnshard

import (
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/knnshard/partition"
	"github.com/hupe1980/knnshard/shardfile"
)

// WorkerResult is the outcome of one work unit.
type WorkerResult struct {
	Assignment partition.Assignment

	// Words is the number of words whose records were formatted.
	Words int
	// Records is the number of records appended to the shard file.
	Records int
	// Bytes is the number of bytes appended, including a torn tail on error.
	Bytes int
	// Failed holds the vocabulary indices whose query failed.
	Failed []uint32

	LockWait time.Duration
	LockHold time.Duration
	Duration time.Duration

	// Err is a fatal worker error: an *IOError or a context error.
	Err error
}

// ShardStats aggregates worker results per shard.
type ShardStats struct {
	ID      int
	Units   int
	Records int64
	Bytes   int64
}

// Report summarizes a run. It is returned even when some workers failed.
type Report struct {
	RunID     string
	StartTime time.Time
	EndTime   time.Time

	Kind       partition.Kind
	K          int
	Shards     int
	StartIndex int
	EndIndex   int
	OutputDir  string

	// Workers is the number of workers launched, one per unit.
	Workers int
	// Records is the number of records appended by this run.
	Records int64
	// BytesAppended is the number of bytes appended by this run.
	BytesAppended int64
	// BytesWritten is the total size of all shard files found under the
	// output directory after the join, including earlier runs.
	BytesWritten int64

	// Files lists the shard files found under the output directory.
	Files []shardfile.Info
	// ShardStats holds per-shard totals for this run, indexed by shard id.
	ShardStats []ShardStats
	// Failed is the set of vocabulary indices whose query failed.
	Failed *roaring.Bitmap
	// Results holds one entry per unit in launch order.
	Results []WorkerResult
}

func newReport(runID string, o *options, start time.Time) *Report {
	stats := make([]ShardStats, o.shards)
	for id := range stats {
		stats[id].ID = id
	}
	return &Report{
		RunID:      runID,
		StartTime:  start,
		Kind:       o.kind,
		K:          o.k,
		Shards:     o.shards,
		StartIndex: o.start,
		EndIndex:   o.end,
		OutputDir:  o.outputDir,
		ShardStats: stats,
		Failed:     roaring.New(),
	}
}

// add folds a worker result into the report. Not safe for concurrent use.
func (r *Report) add(res WorkerResult) {
	r.Results = append(r.Results, res)
	r.Records += int64(res.Records)
	r.BytesAppended += int64(res.Bytes)
	r.Failed.AddMany(res.Failed)

	s := &r.ShardStats[res.Assignment.Shard]
	s.Units++
	s.Records += int64(res.Records)
	s.Bytes += int64(res.Bytes)
}

// Elapsed returns the wall time of the run.
func (r *Report) Elapsed() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// FailedCount returns the number of words whose query failed.
func (r *Report) FailedCount() int {
	if r.Failed == nil {
		return 0
	}
	return int(r.Failed.GetCardinality())
}

// Errors returns the fatal worker errors in launch order.
func (r *Report) Errors() []error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errs
}

// OK reports whether every worker finished and every query succeeded.
func (r *Report) OK() bool {
	return r.FailedCount() == 0 && len(r.Errors()) == 0
}
