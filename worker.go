package knnshard

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/knnshard/partition"
	"github.com/hupe1980/knnshard/shardfile"
	"github.com/hupe1980/knnshard/shardlock"
)

// runWorker computes the neighbors of every word in the unit and appends
// them to the unit's shard in a single locked burst.
//
// Queries run before the lock is taken. A failed query drops that word and
// the worker moves on; only IO and cancellation end a worker early.
func (o *Orchestrator) runWorker(ctx context.Context, a partition.Assignment, lock shardlock.Locker, logger *Logger) (res WorkerResult) {
	start := time.Now()
	res.Assignment = a
	logger.LogWorkerStart(ctx, a)

	defer func() {
		res.Duration = time.Since(start)
		o.opts.metrics.RecordWorker(a.Unit.Kind, res.Words, res.Duration, res.Err)
		logger.LogWorkerEnd(ctx, a, res.Records, res.Duration, res.Err)
	}()

	var (
		buf     []byte
		records int
	)
	for idx := a.Unit.Start; idx < a.Unit.End; idx++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		n, next, err := o.formatWord(ctx, idx, buf)
		if err != nil {
			if ctx.Err() != nil {
				res.Err = ctx.Err()
				return res
			}
			logger.LogQueryFailure(ctx, err)
			res.Failed = append(res.Failed, uint32(idx))
			continue
		}
		buf = next
		records += n
		res.Words++
	}

	if len(buf) == 0 {
		return res
	}

	written, wait, hold, err := o.appendLocked(lock, a.Shard, buf)
	res.Bytes = written
	res.LockWait = wait
	res.LockHold = hold
	o.opts.metrics.RecordWrite(a.Shard, records, written, wait, hold, err)
	if err != nil {
		res.Err = err
		return res
	}
	res.Records = records
	return res
}

// abandonWorker reports a unit whose worker never obtained a slot.
func (o *Orchestrator) abandonWorker(ctx context.Context, a partition.Assignment, logger *Logger, queued time.Time, err error) WorkerResult {
	res := WorkerResult{Assignment: a, Err: err, Duration: time.Since(queued)}
	o.opts.metrics.RecordWorker(a.Unit.Kind, 0, res.Duration, err)
	logger.LogWorkerEnd(ctx, a, 0, res.Duration, err)
	return res
}

// formatWord queries the neighbors of vocabulary index idx and appends their
// records to buf. On error buf is returned unchanged.
func (o *Orchestrator) formatWord(ctx context.Context, idx int, buf []byte) (int, []byte, *ModelQueryError) {
	word := o.vocab[idx]

	start := time.Now()
	neighbors, err := o.model.Nearest(ctx, word, o.opts.k)
	o.opts.metrics.RecordQuery(time.Since(start), err)
	if err != nil {
		return 0, buf, &ModelQueryError{Word: word, Index: idx, cause: err}
	}

	out := buf
	for _, n := range neighbors {
		out, err = shardfile.AppendRecord(out, shardfile.Record{
			Source:   word,
			Neighbor: n.Word,
			Score:    n.Score,
		})
		if err != nil {
			return 0, buf, &ModelQueryError{Word: word, Index: idx, cause: err}
		}
	}
	return len(neighbors), out, nil
}

// appendLocked appends data to shard under its lock. The lock is released on
// every path once acquired.
func (o *Orchestrator) appendLocked(lock shardlock.Locker, shard int, data []byte) (n int, wait, hold time.Duration, err error) {
	path := shardfile.Path(o.opts.outputDir, shard)

	lockStart := time.Now()
	if err := lock.Lock(); err != nil {
		return 0, time.Since(lockStart), 0, &IOError{Shard: shard, Path: path, Op: "lock", cause: err}
	}
	wait = time.Since(lockStart)

	held := time.Now()
	defer func() {
		if uerr := lock.Unlock(); uerr != nil && err == nil {
			err = &IOError{Shard: shard, Path: path, Op: "unlock", cause: uerr}
		}
		hold = time.Since(held)
	}()

	n, err = shardfile.Append(o.opts.fsys, o.opts.outputDir, shard, data)
	if err != nil {
		return n, wait, 0, &IOError{Shard: shard, Path: path, Op: "append", cause: fmt.Errorf("%d of %d bytes written: %w", n, len(data), err)}
	}
	return n, wait, 0, nil
}
