package knnshard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/knnshard/embedding"
	"github.com/hupe1980/knnshard/internal/fs"
	"github.com/hupe1980/knnshard/partition"
	"github.com/hupe1980/knnshard/resource"
	"github.com/hupe1980/knnshard/shardfile"
	"github.com/hupe1980/knnshard/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordLine = regexp.MustCompile(`^[^\t\n]+\t[^\t\n]+\t[^\t\n]+$`)

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	model := testutil.NewStubModel([]string{"a", "b", "c", "d"})

	report, err := Run(context.Background(), 1, model, 2, dir, 4)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Workers)
	require.Len(t, report.Results, 4)
	for i, res := range report.Results {
		assert.Equal(t, i%2, res.Assignment.Shard, "unit %d", i)
		assert.Equal(t, partition.Unit{Kind: partition.KindWord, Start: i, End: i + 1}, res.Assignment.Unit)
	}

	shards := testutil.ReadShards(t, dir, 2)
	assert.ElementsMatch(t, []string{"a", "c"}, testutil.Sources(shards[0]))
	assert.ElementsMatch(t, []string{"b", "d"}, testutil.Sources(shards[1]))
	assert.Equal(t, int64(4), report.Records)

	for id := range 2 {
		raw, err := os.ReadFile(shardfile.Path(dir, id))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
		require.Len(t, lines, 2)
		for _, line := range lines {
			assert.Regexp(t, recordLine, line)
		}
	}

	want := map[string]string{"a": "b", "b": "c", "c": "d", "d": "a"}
	for _, recs := range shards {
		for _, r := range recs {
			assert.Equal(t, want[r.Source], r.Neighbor)
			assert.Equal(t, float32(1), r.Score)
		}
	}
}

func TestRun_RecordCountIsWordsTimesK(t *testing.T) {
	model := testutil.NewRNG(4711).Model(57, 8)

	for _, rangeMode := range []bool{false, true} {
		t.Run(partitionName(rangeMode), func(t *testing.T) {
			dir := t.TempDir()

			report, err := Run(context.Background(), 5, model, 4, dir, 57, WithRangeMode(rangeMode))
			require.NoError(t, err)
			assert.True(t, report.OK())

			total := 0
			for _, recs := range testutil.ReadShards(t, dir, 4) {
				total += len(recs)
			}
			assert.Equal(t, 57*5, total)
			assert.Equal(t, int64(57*5), report.Records)
			assert.Equal(t, report.BytesAppended, report.BytesWritten)
			assert.Len(t, report.Files, 4)
		})
	}
}

func partitionName(rangeMode bool) string {
	if rangeMode {
		return "range"
	}
	return "word"
}

func TestRun_RangeModeWritesEveryWord(t *testing.T) {
	dir := t.TempDir()
	words := testutil.Words(10)
	model := testutil.NewStubModel(words)

	report, err := Run(context.Background(), 2, model, 3, dir, 10, WithRangeMode(true))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Workers)

	shards := testutil.ReadShards(t, dir, 3)
	assert.Equal(t, words[0:4], testutil.Sources(shards[0]))
	assert.Equal(t, words[4:7], testutil.Sources(shards[1]))
	assert.Equal(t, words[7:10], testutil.Sources(shards[2]))
	assert.Len(t, shards[0], 8)
}

func TestRun_StartOffset(t *testing.T) {
	dir := t.TempDir()
	words := testutil.Words(6)
	model := testutil.NewStubModel(words)

	report, err := Run(context.Background(), 1, model, 2, dir, 5, WithStart(2))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Workers)

	shards := testutil.ReadShards(t, dir, 2)
	assert.ElementsMatch(t, []string{"w2", "w4"}, testutil.Sources(shards[0]))
	assert.ElementsMatch(t, []string{"w3"}, testutil.Sources(shards[1]))
}

func TestRun_WritesDoNotInterleave(t *testing.T) {
	dir := t.TempDir()
	log := testutil.NewLockLog()
	model := testutil.NewStubModel(testutil.Words(60))
	model.SetDelay(time.Millisecond)

	report, err := Run(context.Background(), 3, model, 3, dir, 60, WithLockFactory(log.Factory()))
	require.NoError(t, err)

	assert.True(t, testutil.WellNested(log.Events()))
	for id := range 3 {
		// One acquisition per unit, one unit per word.
		assert.Equal(t, report.ShardStats[id].Units, log.Acquisitions(id))
		assert.Equal(t, 20, report.ShardStats[id].Units)
	}

	for id, recs := range testutil.ReadShards(t, dir, 3) {
		assert.True(t, contiguousSources(recs), "shard %d has interleaved units", id)
	}
}

func TestRun_RangeModeLocksOncePerUnit(t *testing.T) {
	dir := t.TempDir()
	log := testutil.NewLockLog()
	model := testutil.NewStubModel(testutil.Words(40))
	model.SetDelay(time.Millisecond)

	report, err := Run(context.Background(), 2, model, 3, dir, 40,
		WithRangeMode(true),
		WithLockFactory(log.Factory()),
	)
	require.NoError(t, err)
	require.Equal(t, 3, report.Workers)

	assert.True(t, testutil.WellNested(log.Events()))
	for id := range 3 {
		assert.Equal(t, 1, report.ShardStats[id].Units)
		assert.Equal(t, report.ShardStats[id].Units, log.Acquisitions(id), "shard %d", id)
	}
	assert.Equal(t, int64(40*2), report.Records)
}

// lockCheckingModel fails any query issued while a shard lock is held.
type lockCheckingModel struct {
	embedding.Model
	log        *testutil.LockLog
	violations atomic.Int64
}

func (m *lockCheckingModel) Nearest(ctx context.Context, word string, k int) ([]embedding.Neighbor, error) {
	if m.log.Held() > 0 {
		m.violations.Add(1)
	}
	return m.Model.Nearest(ctx, word, k)
}

func TestRun_QueriesNeverRunUnderLock(t *testing.T) {
	for _, rangeMode := range []bool{false, true} {
		t.Run(partitionName(rangeMode), func(t *testing.T) {
			log := testutil.NewLockLog()
			model := &lockCheckingModel{Model: testutil.NewStubModel(testutil.Words(24)), log: log}

			// One worker at a time, so any held lock belongs to the querying worker.
			report, err := Run(context.Background(), 3, model, 4, t.TempDir(), 24,
				WithRangeMode(rangeMode),
				WithLockFactory(log.Factory()),
				WithMaxWorkers(1),
			)
			require.NoError(t, err)
			assert.Equal(t, int64(24*3), report.Records)
			assert.Zero(t, model.violations.Load())
			assert.NotZero(t, log.Acquisitions(0))
		})
	}
}

// contiguousSources reports whether every source's records form one run.
func contiguousSources(recs []shardfile.Record) bool {
	done := make(map[string]bool)
	for i, r := range recs {
		if done[r.Source] {
			return false
		}
		if i+1 < len(recs) && recs[i+1].Source != r.Source {
			done[r.Source] = true
		}
	}
	return true
}

func TestRun_EmptyRange(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	log := testutil.NewLockLog()
	model := testutil.NewStubModel([]string{"a", "b"})

	report, err := Run(context.Background(), 1, model, 2, dir, 1, WithStart(1), WithLockFactory(log.Factory()))
	require.NoError(t, err)

	assert.Zero(t, report.Workers)
	assert.Zero(t, report.Records)
	assert.Zero(t, report.BytesWritten)
	assert.Empty(t, report.Files)
	assert.Empty(t, log.Events())
	assert.Zero(t, model.Calls())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_QueryFailuresAreNotFatal(t *testing.T) {
	dir := t.TempDir()
	model := testutil.NewStubModel([]string{"a", "b", "c", "d"})
	model.FailOn("b", errors.New("boom"))

	var logs bytes.Buffer
	logger := NewLogger(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	report, err := Run(context.Background(), 2, model, 2, dir, 4, WithLogger(logger))
	require.NoError(t, err)

	assert.False(t, report.OK())
	assert.Equal(t, 1, report.FailedCount())
	assert.True(t, report.Failed.Contains(1))
	assert.Equal(t, int64(6), report.Records)
	assert.Contains(t, logs.String(), "neighbor query failed")
	assert.Contains(t, logs.String(), "run completed with failures")

	// Shard 1 held only "b" and "d"; "d" still made it.
	assert.Equal(t, []string{"d"}, testutil.Sources(testutil.ReadShard(t, dir, 1)))
}

func TestRun_UnitWithoutRecordsSkipsLock(t *testing.T) {
	dir := t.TempDir()
	log := testutil.NewLockLog()
	model := testutil.NewStubModel([]string{"a", "b"})
	model.FailOn("a", errors.New("boom"))

	_, err := Run(context.Background(), 1, model, 2, dir, 2, WithLockFactory(log.Factory()))
	require.NoError(t, err)

	assert.Zero(t, log.Acquisitions(0))
	assert.Equal(t, 1, log.Acquisitions(1))
	_, err = os.Stat(shardfile.Path(dir, 0))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_IOErrorIsIsolated(t *testing.T) {
	dir := t.TempDir()
	log := testutil.NewLockLog()
	model := testutil.NewStubModel(testutil.Words(9))

	fsys := fs.NewFaultyFS(nil)
	fsys.AddRule(shardfile.Name(1), fs.Fault{FailOnOpen: true})

	report, err := Run(context.Background(), 2, model, 3, dir, 9,
		WithFileSystem(fsys),
		WithLockFactory(log.Factory()),
	)
	require.Error(t, err)
	require.NotNil(t, report)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, 1, ioErr.Shard)
	assert.Equal(t, "append", ioErr.Op)
	assert.ErrorIs(t, err, fs.ErrInjected)
	assert.Len(t, report.Errors(), 3)

	// Every failed writer released its lock.
	assert.True(t, testutil.WellNested(log.Events()))
	assert.Equal(t, 3, log.Acquisitions(1))

	shards := testutil.ReadShards(t, dir, 3)
	assert.Len(t, shards[0], 6)
	assert.Empty(t, shards[1])
	assert.Len(t, shards[2], 6)
	assert.Equal(t, int64(12), report.Records)
}

func TestRun_TornWrite(t *testing.T) {
	dir := t.TempDir()
	model := testutil.NewStubModel([]string{"a", "b", "c"})

	fsys := fs.NewFaultyFS(nil)
	fsys.AddRule(shardfile.Name(0), fs.Fault{FailOnWrite: true, FailAfterBytes: 3})

	report, err := Run(context.Background(), 2, model, 1, dir, 3, WithFileSystem(fsys), WithRangeMode(true))
	require.Error(t, err)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, 3, res.Bytes)
	assert.Zero(t, res.Records)
	assert.Equal(t, int64(3), report.BytesWritten)
}

func TestRun_Cancelled(t *testing.T) {
	dir := t.TempDir()
	model := testutil.NewStubModel([]string{"a", "b", "c"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := Run(ctx, 1, model, 2, dir, 3)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, report.Workers)
	assert.Len(t, report.Errors(), 3)
	assert.Zero(t, report.Records)
	assert.Empty(t, report.Files)
}

func TestRun_CancelledWorkersAreRecorded(t *testing.T) {
	for _, maxWorkers := range []int{0, 1} {
		t.Run(fmt.Sprintf("max_workers=%d", maxWorkers), func(t *testing.T) {
			var logs bytes.Buffer
			metrics := &BasicMetricsCollector{}
			model := testutil.NewStubModel(testutil.Words(5))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			report, err := Run(ctx, 1, model, 2, t.TempDir(), 5,
				WithMaxWorkers(maxWorkers),
				WithMetricsCollector(metrics),
				WithLogger(NewLogger(slog.NewTextHandler(&logs, nil))),
			)
			require.ErrorIs(t, err, context.Canceled)
			require.Equal(t, 5, report.Workers)

			stats := metrics.GetStats()
			assert.Equal(t, int64(report.Workers), stats.WorkerCount)
			assert.Equal(t, int64(report.Workers), stats.WorkerErrors)
			assert.Equal(t, report.Workers, strings.Count(logs.String(), "worker failed"))
			assert.Zero(t, model.Calls())
		})
	}
}

// unwalkableFS fails directory listings so the post-join walk breaks.
type unwalkableFS struct {
	fs.FileSystem
}

func (unwalkableFS) ReadDir(string) ([]os.DirEntry, error) {
	return nil, os.ErrPermission
}

func TestRun_WalkFailureKeepsReport(t *testing.T) {
	dir := t.TempDir()
	model := testutil.NewStubModel(testutil.Words(4))

	report, err := Run(context.Background(), 2, model, 2, dir, 4,
		WithFileSystem(unwalkableFS{FileSystem: fs.Default}),
	)
	require.Error(t, err)
	require.NotNil(t, report)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "walk", ioErr.Op)
	assert.ErrorIs(t, err, os.ErrPermission)

	assert.Equal(t, int64(8), report.Records)
	assert.Positive(t, report.BytesAppended)
	assert.Empty(t, report.Files)
	assert.Zero(t, report.BytesWritten)
	assert.Empty(t, report.Errors(), "workers themselves succeeded")

	total := 0
	for _, recs := range testutil.ReadShards(t, dir, 2) {
		total += len(recs)
	}
	assert.Equal(t, 8, total)
}

func TestRun_CancelledMidRun(t *testing.T) {
	dir := t.TempDir()
	model := testutil.NewStubModel(testutil.Words(8))
	model.SetDelay(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	report, err := Run(ctx, 1, model, 2, dir, 8, WithRangeMode(true))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, report.FailedCount(), "cancellation is not a query failure")
	assert.Zero(t, report.Records)
}

// concurrencyModel tracks how many queries run at once.
type concurrencyModel struct {
	*testutil.StubModel
	active atomic.Int64
	peak   atomic.Int64
}

func (m *concurrencyModel) Nearest(ctx context.Context, word string, k int) ([]embedding.Neighbor, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return m.StubModel.Nearest(ctx, word, k)
}

func TestRun_MaxWorkers(t *testing.T) {
	dir := t.TempDir()
	stub := testutil.NewStubModel(testutil.Words(12))
	stub.SetDelay(5 * time.Millisecond)
	model := &concurrencyModel{StubModel: stub}

	report, err := Run(context.Background(), 1, model, 4, dir, 12, WithMaxWorkers(2))
	require.NoError(t, err)

	assert.Equal(t, int64(12), report.Records)
	assert.LessOrEqual(t, model.peak.Load(), int64(2))
}

func TestRun_SharedResourceController(t *testing.T) {
	rc := resource.NewController(resource.Config{MaxWorkers: 1})
	model := testutil.NewStubModel(testutil.Words(4))

	report, err := Run(context.Background(), 1, model, 2, t.TempDir(), 4, WithResourceController(rc))
	require.NoError(t, err)
	assert.Equal(t, int64(4), report.Records)
	assert.Zero(t, rc.ActiveWorkers())
}

func TestRun_Metrics(t *testing.T) {
	model := testutil.NewStubModel(testutil.Words(6))
	model.FailOn("w5", errors.New("boom"))
	mc := &BasicMetricsCollector{}

	_, err := Run(context.Background(), 2, model, 2, t.TempDir(), 6, WithMetricsCollector(mc))
	require.NoError(t, err)

	stats := mc.GetStats()
	assert.Equal(t, int64(6), stats.QueryCount)
	assert.Equal(t, int64(1), stats.QueryErrors)
	assert.Equal(t, int64(5), stats.WriteCount)
	assert.Equal(t, int64(10), stats.WriteRecords)
	assert.Equal(t, int64(6), stats.WorkerCount)
	assert.Equal(t, int64(5), stats.WorkerWords)
	assert.Zero(t, stats.WorkerErrors)
}

func TestRun_FileLocks(t *testing.T) {
	dir := t.TempDir()
	model := testutil.NewStubModel(testutil.Words(5))

	report, err := Run(context.Background(), 1, model, 2, dir, 5, WithFileLocks(true))
	require.NoError(t, err)

	for id := range 2 {
		_, err := os.Stat(filepath.Join(dir, shardfile.Name(id)+".lock"))
		assert.NoError(t, err, "lock file for shard %d", id)
	}
	assert.Len(t, report.Files, 2)
	assert.Equal(t, report.BytesAppended, report.BytesWritten)
}

func TestRun_AppendsAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	model := testutil.NewStubModel(testutil.Words(4))

	first, err := Run(context.Background(), 1, model, 2, dir, 4)
	require.NoError(t, err)
	second, err := Run(context.Background(), 1, model, 2, dir, 4)
	require.NoError(t, err)

	assert.Equal(t, 2*first.BytesWritten, second.BytesWritten)
	assert.NotEqual(t, first.RunID, second.RunID)

	total := 0
	for _, recs := range testutil.ReadShards(t, dir, 2) {
		total += len(recs)
	}
	assert.Equal(t, 8, total)
}

func TestNew_ConfigurationErrors(t *testing.T) {
	model := testutil.NewStubModel([]string{"a", "b", "c"})

	tests := []struct {
		name  string
		model embedding.Model
		opts  []Option
		field string
		want  error
	}{
		{"nil model", nil, []Option{WithOutputDir("x")}, "model", ErrMissingModel},
		{"zero k", model, []Option{WithOutputDir("x"), WithK(0)}, "k", ErrInvalidK},
		{"zero shards", model, []Option{WithOutputDir("x"), WithShards(0)}, "shards", ErrInvalidShards},
		{"negative shards", model, []Option{WithOutputDir("x"), WithShards(-2)}, "shards", ErrInvalidShards},
		{"missing output", model, nil, "output_dir", ErrMissingOutputDir},
		{"negative start", model, []Option{WithOutputDir("x"), WithStart(-1)}, "start", ErrInvalidBounds},
		{"end past vocabulary", model, []Option{WithOutputDir("x"), WithEnd(4)}, "end", ErrInvalidBounds},
		{"negative max workers", model, []Option{WithOutputDir("x"), WithMaxWorkers(-1)}, "max_workers", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := New(tt.model, tt.opts...)
			require.Error(t, err)
			assert.Nil(t, o)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestRun_ConfigurationErrorLaunchesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	model := testutil.NewStubModel([]string{"a"})

	report, err := Run(context.Background(), 0, model, 1, dir, 1)
	assert.ErrorIs(t, err, ErrInvalidK)
	assert.Nil(t, report)
	assert.Zero(t, model.Calls())

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestOrchestrator_Phases(t *testing.T) {
	o, err := New(testutil.NewStubModel([]string{"a", "b"}), WithOutputDir(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, PhaseInit, o.Phase())

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseReported, o.Phase())
	assert.Equal(t, 2, report.EndIndex, "end defaults to the vocabulary size")
	assert.Equal(t, DefaultK, report.K)
	assert.GreaterOrEqual(t, report.Elapsed(), time.Duration(0))

	_, err = o.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "Init", PhaseInit.String())
	assert.Equal(t, "Running", PhaseRunning.String())
	assert.Equal(t, "Reported", PhaseReported.String())
	assert.Equal(t, "Unknown(42)", Phase(42).String())
}
