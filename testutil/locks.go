package testutil

import (
	"sync"

	"github.com/hupe1980/knnshard/shardlock"
)

// LockEventKind distinguishes acquire and release events.
type LockEventKind int

const (
	// Acquired is logged after a lock is obtained.
	Acquired LockEventKind = iota
	// Released is logged just before a lock is given up.
	Released
)

func (k LockEventKind) String() string {
	if k == Acquired {
		return "acquired"
	}
	return "released"
}

// LockEvent is one entry of a LockLog.
type LockEvent struct {
	Shard int
	Kind  LockEventKind
	// Holder is a per-acquisition token, unique within the log.
	Holder int
}

// LockLog records the global order of lock events across all shards.
type LockLog struct {
	mu     sync.Mutex
	events []LockEvent
	next   int
	held   int
}

// NewLockLog creates an empty log.
func NewLockLog() *LockLog {
	return &LockLog{}
}

// Factory returns a shardlock.Factory producing RecordingLockers on this log.
func (l *LockLog) Factory() shardlock.Factory {
	return func(id int) shardlock.Locker {
		return &RecordingLocker{shard: id, log: l}
	}
}

// Events returns a copy of the recorded events.
func (l *LockLog) Events() []LockEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LockEvent(nil), l.events...)
}

// Acquisitions returns the number of Acquired events for shard.
func (l *LockLog) Acquisitions(shard int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Shard == shard && e.Kind == Acquired {
			n++
		}
	}
	return n
}

// Held returns the number of locks currently held across all shards.
func (l *LockLog) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *LockLog) add(shard int, kind LockEventKind, holder int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if kind == Acquired {
		holder = l.next
		l.next++
		l.held++
	} else {
		l.held--
	}
	l.events = append(l.events, LockEvent{Shard: shard, Kind: kind, Holder: holder})
	return holder
}

// RecordingLocker is a mutex that logs acquire and release order.
type RecordingLocker struct {
	mu     sync.Mutex
	shard  int
	log    *LockLog
	holder int
}

// Lock implements shardlock.Locker.
func (r *RecordingLocker) Lock() error {
	r.mu.Lock()
	r.holder = r.log.add(r.shard, Acquired, 0)
	return nil
}

// Unlock implements shardlock.Locker.
func (r *RecordingLocker) Unlock() error {
	r.log.add(r.shard, Released, r.holder)
	r.mu.Unlock()
	return nil
}

// WellNested reports whether, for every shard, each acquisition is released
// before the next one on that shard begins.
func WellNested(events []LockEvent) bool {
	held := make(map[int]int) // shard -> holder, present while held
	for _, e := range events {
		h, busy := held[e.Shard]
		switch e.Kind {
		case Acquired:
			if busy {
				return false
			}
			held[e.Shard] = e.Holder
		case Released:
			if !busy || h != e.Holder {
				return false
			}
			delete(held, e.Shard)
		}
	}
	return len(held) == 0
}
