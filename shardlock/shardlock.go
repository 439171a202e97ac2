// Package shardlock provides the per-shard mutual exclusion used while
// appending to shard files.
//
// A Table holds exactly one Locker per shard id. It is fully populated by New
// and never resized, so every worker assigned a shard receives the same
// Locker reference.
//
//	tbl, _ := shardlock.New(4)
//	l, _ := tbl.Get(2)
//	if err := l.Lock(); err != nil { ... }
//	defer l.Unlock()
package shardlock

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/hupe1980/knnshard/partition"
	"github.com/hupe1980/knnshard/shardfile"
)

// Locker guards one shard file.
//
// Lock blocks until the shard is exclusively held. Unlock must be called once
// for every successful Lock.
type Locker interface {
	Lock() error
	Unlock() error
}

// Mutex is an in-process Locker.
type Mutex struct {
	mu sync.Mutex
}

// Lock implements Locker.
func (m *Mutex) Lock() error {
	m.mu.Lock()
	return nil
}

// Unlock implements Locker.
func (m *Mutex) Unlock() error {
	m.mu.Unlock()
	return nil
}

// FileLock serializes writers within this process and, through an advisory
// OS lock on a sidecar file, across processes sharing an output directory.
type FileLock struct {
	mu sync.Mutex
	fl *flock.Flock
}

// NewFileLock creates a FileLock backed by the lock file at path.
// The file is created on first Lock.
func NewFileLock(path string) *FileLock {
	return &FileLock{fl: flock.New(path)}
}

// Path returns the sidecar lock file path.
func (l *FileLock) Path() string {
	return l.fl.Path()
}

// Lock implements Locker.
func (l *FileLock) Lock() error {
	l.mu.Lock()
	if err := l.fl.Lock(); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("shardlock: lock %s: %w", l.fl.Path(), err)
	}
	return nil
}

// Unlock implements Locker. The in-process mutex is released even when the
// OS lock cannot be.
func (l *FileLock) Unlock() error {
	defer l.mu.Unlock()
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("shardlock: unlock %s: %w", l.fl.Path(), err)
	}
	return nil
}

// Close releases the lock file handle. The lock must not be held.
func (l *FileLock) Close() error {
	return l.fl.Close()
}

// LockFileName returns the sidecar lock file name for a shard.
func LockFileName(id int) string {
	return shardfile.Name(id) + ".lock"
}

// Factory creates the Locker for a shard id.
type Factory func(id int) Locker

// Options configures a Table.
type Options struct {
	Factory Factory
}

// WithFactory sets a custom Locker factory.
func WithFactory(f Factory) func(*Options) {
	return func(o *Options) {
		o.Factory = f
	}
}

// WithFileLocks selects FileLock lockers with sidecar files in dir.
func WithFileLocks(dir string) func(*Options) {
	return func(o *Options) {
		o.Factory = func(id int) Locker {
			return NewFileLock(filepath.Join(dir, LockFileName(id)))
		}
	}
}

// Table maps shard ids to their Locker.
type Table struct {
	locks []Locker
}

// New creates a table with one unlocked Locker per shard id in [0, n).
func New(n int, optFns ...func(*Options)) (*Table, error) {
	if n <= 0 {
		return nil, fmt.Errorf("shardlock: %w: %d", partition.ErrInvalidShards, n)
	}

	opts := Options{
		Factory: func(int) Locker { return &Mutex{} },
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	locks := make([]Locker, n)
	for id := range locks {
		l := opts.Factory(id)
		if l == nil {
			return nil, fmt.Errorf("shardlock: factory returned nil locker for shard %d", id)
		}
		locks[id] = l
	}

	return &Table{locks: locks}, nil
}

// Get returns the shared Locker for shard id.
func (t *Table) Get(id int) (Locker, error) {
	if id < 0 || id >= len(t.locks) {
		return nil, fmt.Errorf("shardlock: shard %d out of range [0,%d)", id, len(t.locks))
	}
	return t.locks[id], nil
}

// Len returns the number of shards.
func (t *Table) Len() int {
	return len(t.locks)
}

// Close releases OS resources held by lockers that have any.
func (t *Table) Close() error {
	var errs []error
	for _, l := range t.locks {
		if c, ok := l.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
