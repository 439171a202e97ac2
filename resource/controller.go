// Package resource bounds worker concurrency and IO throughput for a run.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MaxWorkers is the maximum number of workers running at once.
	// If 0, unlimited.
	MaxWorkers int64

	// IOLimitBytesPerSec is the maximum throughput for shard uploads.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages run-wide limits. A nil *Controller imposes none.
type Controller struct {
	cfg Config

	// Concurrency
	workerSem *semaphore.Weighted // nil if unlimited
	active    atomic.Int64

	// IO
	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}

	if cfg.MaxWorkers > 0 {
		c.workerSem = semaphore.NewWeighted(cfg.MaxWorkers)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// Config returns the limits the controller was created with.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg
}

// AcquireWorker reserves a worker slot.
// Blocks if all slots are busy, until one frees up or ctx is canceled.
func (c *Controller) AcquireWorker(ctx context.Context) error {
	if c == nil {
		return ctx.Err()
	}
	if c.workerSem != nil {
		if err := c.workerSem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	c.active.Add(1)
	return nil
}

// ReleaseWorker releases a worker slot.
func (c *Controller) ReleaseWorker() {
	if c == nil {
		return
	}
	c.active.Add(-1)
	if c.workerSem != nil {
		c.workerSem.Release(1)
	}
}

// ActiveWorkers returns the number of slots currently held.
func (c *Controller) ActiveWorkers() int64 {
	if c == nil {
		return 0
	}
	return c.active.Load()
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
// Requests larger than one second of budget are split into bursts.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
