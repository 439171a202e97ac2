package testutil

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/knnshard/distance"
	"github.com/hupe1980/knnshard/embedding"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// UniformRangeVectors generates random vectors with values in range [-1, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformRangeVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = r.rand.Float32()*2 - 1
		}
		vectors[i] = vec
	}

	return vectors
}

// UnitVectors generates random vectors normalized to unit length.
func (r *RNG) UnitVectors(num int, dimensions int) [][]float32 {
	vectors := r.UniformRangeVectors(num, dimensions)
	for _, v := range vectors {
		distance.NormalizeL2InPlace(v)
	}
	return vectors
}

// Words returns the synthetic vocabulary "w0", "w1", ..., "w<n-1>".
func Words(n int) []string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return words
}

// Model builds an in-memory model over Words(num) with random vectors.
func (r *RNG) Model(num, dimensions int, optFns ...func(*embedding.Options)) *embedding.Memory {
	m, err := embedding.NewMemory(Words(num), r.UnitVectors(num, dimensions), optFns...)
	if err != nil {
		panic(err) // unreachable for generated input
	}
	return m
}

// StubModel is a deterministic embedding.Model. The neighbors of the word at
// index i are the next k words in vocabulary order, wrapping around, with
// scores 1, 1/2, 1/3, ...
type StubModel struct {
	words []string
	index map[string]int

	mu    sync.RWMutex
	fails map[string]error
	delay time.Duration

	calls atomic.Int64
}

// NewStubModel creates a stub over words.
func NewStubModel(words []string) *StubModel {
	index := make(map[string]int, len(words))
	for i, w := range words {
		index[w] = i
	}
	return &StubModel{
		words: words,
		index: index,
		fails: make(map[string]error),
	}
}

// FailOn makes queries for word return err.
func (m *StubModel) FailOn(word string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fails[word] = err
}

// SetDelay makes every query sleep for d, honoring context cancellation.
func (m *StubModel) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns the number of Nearest calls so far.
func (m *StubModel) Calls() int {
	return int(m.calls.Load())
}

// Vocabulary implements embedding.Model.
func (m *StubModel) Vocabulary() []string {
	return m.words
}

// Nearest implements embedding.Model.
func (m *StubModel) Nearest(ctx context.Context, word string, k int) ([]embedding.Neighbor, error) {
	m.calls.Add(1)

	m.mu.RLock()
	failErr, fail := m.fails[word]
	delay := m.delay
	m.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail {
		return nil, failErr
	}
	if k <= 0 {
		return nil, embedding.ErrInvalidK
	}
	i, ok := m.index[word]
	if !ok {
		return nil, fmt.Errorf("%w: %q", embedding.ErrUnknownWord, word)
	}

	n := min(k, len(m.words)-1)
	out := make([]embedding.Neighbor, n)
	for j := range n {
		out[j] = embedding.Neighbor{
			Word:  m.words[(i+1+j)%len(m.words)],
			Score: 1 / float32(j+1),
		}
	}
	return out, nil
}
