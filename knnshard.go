package knnshard

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/knnshard/embedding"
	"github.com/hupe1980/knnshard/partition"
	"github.com/hupe1980/knnshard/resource"
	"github.com/hupe1980/knnshard/shardfile"
	"github.com/hupe1980/knnshard/shardlock"
	"golang.org/x/sync/errgroup"
)

// Phase is the lifecycle state of an Orchestrator.
type Phase int32

const (
	PhaseInit Phase = iota
	PhasePartitioned
	PhaseLaunching
	PhaseRunning
	PhaseJoined
	PhaseReported
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "Init"
	case PhasePartitioned:
		return "Partitioned"
	case PhaseLaunching:
		return "Launching"
	case PhaseRunning:
		return "Running"
	case PhaseJoined:
		return "Joined"
	case PhaseReported:
		return "Reported"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(p))
	}
}

// Orchestrator runs one batch: it partitions the index range, launches one
// worker per unit, joins them and reports. An Orchestrator is single-use.
type Orchestrator struct {
	model embedding.Model
	vocab []string
	opts  options
	rc    *resource.Controller

	phase   atomic.Int32
	started atomic.Bool
}

// New validates the configuration against model and returns an Orchestrator.
// Invalid parameters yield a *ConfigurationError.
func New(model embedding.Model, optFns ...Option) (*Orchestrator, error) {
	if model == nil {
		return nil, configError("model", nil, ErrMissingModel)
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	vocab := model.Vocabulary()
	if opts.end < 0 {
		opts.end = len(vocab)
	}

	switch {
	case opts.k <= 0:
		return nil, configError("k", opts.k, ErrInvalidK)
	case opts.shards <= 0:
		return nil, configError("shards", opts.shards, ErrInvalidShards)
	case opts.outputDir == "":
		return nil, configError("output_dir", opts.outputDir, ErrMissingOutputDir)
	case opts.start < 0:
		return nil, configError("start", opts.start, ErrInvalidBounds)
	case opts.end > len(vocab):
		return nil, configError("end", opts.end, fmt.Errorf("%w: vocabulary has %d words", ErrInvalidBounds, len(vocab)))
	case opts.maxWorkers < 0:
		return nil, configError("max_workers", opts.maxWorkers, errors.New("must not be negative"))
	}

	rc := opts.rc
	if rc == nil && opts.maxWorkers > 0 {
		rc = resource.NewController(resource.Config{MaxWorkers: int64(opts.maxWorkers)})
	}

	return &Orchestrator{
		model: model,
		vocab: vocab,
		opts:  opts,
		rc:    rc,
	}, nil
}

// Phase returns the current lifecycle state.
func (o *Orchestrator) Phase() Phase {
	return Phase(o.phase.Load())
}

func (o *Orchestrator) setPhase(p Phase) {
	o.phase.Store(int32(p))
}

// Run executes the batch and blocks until every worker has exited.
//
// The Report is returned whenever workers were launched, even if some of them
// failed or the output directory could not be walked afterwards; the error is
// then the join of those errors. Query failures are not errors; they are
// listed in Report.Failed.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	if !o.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	start := time.Now()
	runID := uuid.NewString()
	logger := o.opts.logger.WithRunID(runID)
	dir := o.opts.outputDir

	if err := o.opts.fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, &IOError{Shard: -1, Path: dir, Op: "mkdir", cause: err}
	}

	lockOpts := o.opts.lockOpts
	if o.opts.fileLocks {
		lockOpts = append(lockOpts[:len(lockOpts):len(lockOpts)], shardlock.WithFileLocks(dir))
	}
	locks, err := shardlock.New(o.opts.shards, lockOpts...)
	if err != nil {
		return nil, configError("shards", o.opts.shards, err)
	}
	defer func() { _ = locks.Close() }()

	plan, err := partition.Plan(o.opts.kind, o.opts.start, o.opts.end, o.opts.shards)
	if err != nil {
		return nil, configError("mode", o.opts.kind, err)
	}
	o.setPhase(PhasePartitioned)

	logger.LogRunStart(ctx, o.opts.kind, o.opts.k, o.opts.shards, o.opts.start, o.opts.end, len(plan))

	unitLocks := make([]shardlock.Locker, len(plan))
	for i, a := range plan {
		if unitLocks[i], err = locks.Get(a.Shard); err != nil {
			return nil, err
		}
	}

	o.setPhase(PhaseLaunching)
	results := make([]WorkerResult, len(plan))

	// Workers never return an error to the group, so one failure does not
	// cancel its siblings.
	var g errgroup.Group
	for i, a := range plan {
		lock := unitLocks[i]
		g.Go(func() error {
			wlog := logger.WithShard(a.Shard)
			queued := time.Now()
			if err := o.rc.AcquireWorker(ctx); err != nil {
				results[i] = o.abandonWorker(ctx, a, wlog, queued, err)
				return nil
			}
			defer o.rc.ReleaseWorker()

			results[i] = o.runWorker(ctx, a, lock, wlog)
			return nil
		})
	}
	o.setPhase(PhaseRunning)

	_ = g.Wait()
	o.setPhase(PhaseJoined)

	report := newReport(runID, &o.opts, start)
	report.Workers = len(plan)
	for _, res := range results {
		report.add(res)
	}

	errs := report.Errors()
	files, err := shardfile.Stat(o.opts.fsys, dir)
	if err != nil {
		errs = append(errs, &IOError{Shard: -1, Path: dir, Op: "walk", cause: err})
	} else {
		report.Files = files
		report.BytesWritten = shardfile.TotalSize(files)
	}
	report.EndTime = time.Now()

	logger.LogReport(ctx, report)
	o.setPhase(PhaseReported)

	return report, errors.Join(errs...)
}

// Run computes the top-k neighbors of the vocabulary indices [0, end) of
// model and appends them to shards files under outputDir. WithStart and
// WithRangeMode adjust the range and partitioning.
func Run(ctx context.Context, k int, model embedding.Model, shards int, outputDir string, end int, optFns ...Option) (*Report, error) {
	fns := append([]Option{
		WithK(k),
		WithShards(shards),
		WithOutputDir(outputDir),
		WithEnd(end),
	}, optFns...)

	o, err := New(model, fns...)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx)
}
