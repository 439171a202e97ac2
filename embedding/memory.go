package embedding

import (
	"container/heap"
	"context"
	"fmt"
	"sort"

	"github.com/hupe1980/knnshard/distance"
	"github.com/x448/float16"
)

// ctxCheckInterval is how many rows a scan visits between context checks.
const ctxCheckInterval = 4096

// Memory is an in-memory model with exact cosine similarity search.
//
// Vectors are L2-normalized on construction, so similarity is a dot product.
// Zero vectors are kept as-is and score 0 against everything.
type Memory struct {
	words []string
	index map[string]int
	dim   int

	f32 []float32         // row-major, nil in half precision mode
	f16 []float16.Float16 // row-major, nil in full precision mode
}

// NewMemory builds a model from words and their vectors.
// vectors[i] belongs to words[i]; all vectors must share one dimension.
func NewMemory(words []string, vectors [][]float32, optFns ...func(*Options)) (*Memory, error) {
	opts := applyOptions(optFns)

	if len(words) != len(vectors) {
		return nil, fmt.Errorf("%w: %d words but %d vectors", ErrMalformed, len(words), len(vectors))
	}

	b := newMemoryBuilder(len(words), 0, opts.Float16)
	for i, w := range words {
		if err := b.add(w, vectors[i]); err != nil {
			return nil, err
		}
	}
	return b.build(), nil
}

// memoryBuilder accumulates rows for a Memory model.
type memoryBuilder struct {
	m       *Memory
	float16 bool
	scratch []float32
}

func newMemoryBuilder(capacity, dim int, half bool) *memoryBuilder {
	m := &Memory{
		words: make([]string, 0, capacity),
		index: make(map[string]int, capacity),
		dim:   dim,
	}
	if dim > 0 {
		if half {
			m.f16 = make([]float16.Float16, 0, capacity*dim)
		} else {
			m.f32 = make([]float32, 0, capacity*dim)
		}
	}
	return &memoryBuilder{m: m, float16: half}
}

func (b *memoryBuilder) add(word string, vec []float32) error {
	m := b.m
	if len(m.words) == 0 && m.dim == 0 {
		m.dim = len(vec)
	}
	if len(vec) != m.dim {
		return fmt.Errorf("%w: word %q has %d dimensions, want %d", ErrDimensionMismatch, word, len(vec), m.dim)
	}
	if _, ok := m.index[word]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateWord, word)
	}

	b.scratch = append(b.scratch[:0], vec...)
	distance.NormalizeL2InPlace(b.scratch)

	if b.float16 {
		for _, v := range b.scratch {
			m.f16 = append(m.f16, float16.Fromfloat32(v))
		}
	} else {
		m.f32 = append(m.f32, b.scratch...)
	}

	m.index[word] = len(m.words)
	m.words = append(m.words, word)
	return nil
}

func (b *memoryBuilder) build() *Memory {
	return b.m
}

// Vocabulary implements Model.
func (m *Memory) Vocabulary() []string {
	return m.words
}

// Len returns the vocabulary size.
func (m *Memory) Len() int {
	return len(m.words)
}

// Dimension returns the vector dimension.
func (m *Memory) Dimension() int {
	return m.dim
}

// HalfPrecision reports whether vectors are stored as float16.
func (m *Memory) HalfPrecision() bool {
	return m.f16 != nil
}

// Vector returns a copy of the normalized vector of word.
func (m *Memory) Vector(word string) ([]float32, bool) {
	i, ok := m.index[word]
	if !ok {
		return nil, false
	}
	return m.row(i, make([]float32, m.dim)), true
}

// row copies row i into dst and returns it.
func (m *Memory) row(i int, dst []float32) []float32 {
	lo, hi := i*m.dim, (i+1)*m.dim
	if m.f16 != nil {
		for j, h := range m.f16[lo:hi] {
			dst[j] = h.Float32()
		}
		return dst
	}
	copy(dst, m.f32[lo:hi])
	return dst
}

// Nearest implements Model. Results are ordered by descending similarity;
// equal scores keep vocabulary order.
func (m *Memory) Nearest(ctx context.Context, word string, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidK, k)
	}
	qi, ok := m.index[word]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWord, word)
	}

	query := m.row(qi, make([]float32, m.dim))

	var buf []float32
	if m.f16 != nil {
		buf = make([]float32, m.dim)
	}

	h := make(candidateHeap, 0, min(k, len(m.words)))
	for i := range m.words {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if i == qi {
			continue
		}

		var row []float32
		if m.f16 != nil {
			row = m.row(i, buf)
		} else {
			row = m.f32[i*m.dim : (i+1)*m.dim]
		}

		c := candidate{index: i, score: distance.Dot(query, row)}
		if len(h) < k {
			heap.Push(&h, c)
		} else if c.better(h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}

	sort.Slice(h, func(a, b int) bool { return h[a].better(h[b]) })

	out := make([]Neighbor, len(h))
	for i, c := range h {
		out[i] = Neighbor{Word: m.words[c.index], Score: c.score}
	}
	return out, nil
}

type candidate struct {
	index int
	score float32
}

// better reports whether c ranks before o.
func (c candidate) better(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	return c.index < o.index
}

// candidateHeap keeps the worst retained candidate on top.
type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[j].better(h[i]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) { *h = append(*h, x.(candidate)) }

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
