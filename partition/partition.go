// Package partition assigns vocabulary work units to output shards.
//
// Two enumeration modes are supported:
//
//   - Word mode: one unit per vocabulary index in [start, end).
//   - Range mode: [start, end) is split into balanced contiguous sub-ranges,
//     one per shard.
//
// In both modes shard ids are handed out round-robin in enumeration order:
// 0, 1, ..., shards-1, 0, 1, ...
//
//	plan, err := partition.Words(0, 4, 2)
//	// units 0,1,2,3 -> shards 0,1,0,1
package partition

import (
	"errors"
	"fmt"
)

// ErrInvalidShards is returned when the shard count is not positive.
var ErrInvalidShards = errors.New("number of shards must be positive")

// Kind identifies how a unit was enumerated.
type Kind uint8

const (
	// KindWord is a single vocabulary index.
	KindWord Kind = iota
	// KindRange is a contiguous span of vocabulary indices.
	KindRange
)

func (k Kind) String() string {
	switch k {
	case KindWord:
		return "word"
	case KindRange:
		return "range"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// Unit is a half-open span [Start, End) of vocabulary indices.
// A word unit always has End == Start+1.
type Unit struct {
	Kind  Kind
	Start int
	End   int
}

// Len returns the number of vocabulary indices covered by u.
func (u Unit) Len() int {
	if u.End <= u.Start {
		return 0
	}
	return u.End - u.Start
}

func (u Unit) String() string {
	if u.Kind == KindWord {
		return fmt.Sprintf("word(%d)", u.Start)
	}
	return fmt.Sprintf("range[%d,%d)", u.Start, u.End)
}

// Assignment binds a unit to the shard it writes into.
type Assignment struct {
	// Seq is the position of the unit in enumeration (and launch) order.
	Seq   int
	Unit  Unit
	Shard int
}

// Plan enumerates [start, end) in the given mode.
func Plan(kind Kind, start, end, shards int) ([]Assignment, error) {
	switch kind {
	case KindWord:
		return Words(start, end, shards)
	case KindRange:
		return Ranges(start, end, shards)
	default:
		return nil, fmt.Errorf("partition: unsupported kind %v", kind)
	}
}

// Words returns one word unit per index in [start, end).
// start >= end yields an empty plan.
func Words(start, end, shards int) ([]Assignment, error) {
	if shards <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidShards, shards)
	}
	if start >= end {
		return nil, nil
	}

	var rr roundRobin
	rr.n = shards

	out := make([]Assignment, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, Assignment{
			Seq:   len(out),
			Unit:  Unit{Kind: KindWord, Start: i, End: i + 1},
			Shard: rr.next(),
		})
	}
	return out, nil
}

// Ranges splits [start, end) into at most shards balanced sub-ranges.
// start >= end yields an empty plan.
func Ranges(start, end, shards int) ([]Assignment, error) {
	if shards <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidShards, shards)
	}

	units := Split(start, end, shards)
	if len(units) == 0 {
		return nil, nil
	}

	var rr roundRobin
	rr.n = shards

	out := make([]Assignment, len(units))
	for i, u := range units {
		out[i] = Assignment{Seq: i, Unit: u, Shard: rr.next()}
	}
	return out, nil
}

// Split divides [start, end) into min(parts, end-start) contiguous range
// units. Sizes differ by at most one: the first span%n units carry the
// remainder. The units cover [start, end) exactly, in order.
func Split(start, end, parts int) []Unit {
	span := end - start
	if span <= 0 || parts <= 0 {
		return nil
	}

	n := min(parts, span)
	base, rem := span/n, span%n

	units := make([]Unit, 0, n)
	lo := start
	for i := range n {
		size := base
		if i < rem {
			size++
		}
		units = append(units, Unit{Kind: KindRange, Start: lo, End: lo + size})
		lo += size
	}
	return units
}

// roundRobin hands out shard ids 0..n-1 cyclically.
type roundRobin struct {
	n       int
	counter int
}

func (r *roundRobin) next() int {
	id := r.counter
	r.counter++
	if r.counter == r.n {
		r.counter = 0
	}
	return id
}
