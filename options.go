package knnshard

import (
	"github.com/hupe1980/knnshard/internal/fs"
	"github.com/hupe1980/knnshard/partition"
	"github.com/hupe1980/knnshard/resource"
	"github.com/hupe1980/knnshard/shardlock"
)

// Defaults applied by New.
const (
	DefaultK      = 10
	DefaultShards = 1
)

type options struct {
	k          int
	shards     int
	outputDir  string
	start      int
	end        int // -1 means the vocabulary size
	kind       partition.Kind
	logger     *Logger
	metrics    MetricsCollector
	maxWorkers int
	fsys       fs.FileSystem
	lockOpts   []func(*shardlock.Options)
	fileLocks  bool
	rc         *resource.Controller
}

func defaultOptions() options {
	return options{
		k:       DefaultK,
		shards:  DefaultShards,
		end:     -1,
		kind:    partition.KindWord,
		logger:  NoopLogger(),
		metrics: NoopMetricsCollector{},
		fsys:    fs.Default,
	}
}

// Option configures an Orchestrator.
type Option func(*options)

// WithK sets the number of neighbors written per word.
func WithK(k int) Option {
	return func(o *options) {
		o.k = k
	}
}

// WithShards sets the number of shard files (and shard locks).
func WithShards(n int) Option {
	return func(o *options) {
		o.shards = n
	}
}

// WithOutputDir sets the directory receiving shard_<id>.csv files.
// It is created if missing. Existing shard files are appended to.
func WithOutputDir(dir string) Option {
	return func(o *options) {
		o.outputDir = dir
	}
}

// WithStart sets the first vocabulary index processed (inclusive).
func WithStart(idx int) Option {
	return func(o *options) {
		o.start = idx
	}
}

// WithEnd sets the vocabulary index where processing stops (exclusive).
// By default the whole vocabulary is processed.
func WithEnd(idx int) Option {
	return func(o *options) {
		o.end = idx
	}
}

// WithRangeMode partitions the index range into one contiguous sub-range per
// shard instead of one unit per word.
func WithRangeMode(enabled bool) Option {
	return func(o *options) {
		if enabled {
			o.kind = partition.KindRange
		} else {
			o.kind = partition.KindWord
		}
	}
}

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics collector.
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithMaxWorkers bounds how many workers query and write at once.
// Every unit still gets its own goroutine; excess goroutines wait for a slot.
// Zero (the default) means unbounded.
func WithMaxWorkers(n int) Option {
	return func(o *options) {
		o.maxWorkers = n
	}
}

// WithResourceController shares a resource controller across runs.
// It takes precedence over WithMaxWorkers.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithFileSystem sets the filesystem used for shard files.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys == nil {
			fsys = fs.Default
		}
		o.fsys = fsys
	}
}

// WithLockFactory supplies the shard lock implementation.
func WithLockFactory(f shardlock.Factory) Option {
	return func(o *options) {
		o.lockOpts = append(o.lockOpts, shardlock.WithFactory(f))
		o.fileLocks = false
	}
}

// WithFileLocks guards each shard with an OS advisory lock on a sidecar file
// in the output directory, so several processes may share it.
func WithFileLocks(enabled bool) Option {
	return func(o *options) {
		o.fileLocks = enabled
	}
}
