// Package embedding provides the word embedding models queried by the
// orchestrator.
//
// A Model exposes an ordered vocabulary and a top-K nearest neighbor query.
// Models are immutable once built and safe for concurrent use by any number
// of workers.
//
// # Sources
//
//   - NewMemory: vectors already in memory
//   - LoadWord2Vec: the word2vec binary format, read through a memory map
//   - LoadSQLite: a (word, embedding) table in a SQLite database
//
// All built-in models rank neighbors by exact cosine similarity.
package embedding

import (
	"context"
	"errors"
	"log/slog"
)

var (
	// ErrUnknownWord is returned when a query word is not in the vocabulary.
	ErrUnknownWord = errors.New("embedding: unknown word")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("embedding: k must be positive")

	// ErrDimensionMismatch is returned when vectors have different lengths.
	ErrDimensionMismatch = errors.New("embedding: dimension mismatch")

	// ErrDuplicateWord is returned when a vocabulary lists a word twice.
	ErrDuplicateWord = errors.New("embedding: duplicate word")

	// ErrMalformed is returned when a model file or table cannot be parsed.
	ErrMalformed = errors.New("embedding: malformed model")
)

// Neighbor is one result of a nearest neighbor query.
type Neighbor struct {
	Word  string
	Score float32
}

// Model is a read-only word embedding model.
type Model interface {
	// Vocabulary returns the words in index order. Callers must not modify
	// the returned slice.
	Vocabulary() []string

	// Nearest returns up to k words most similar to word, best first.
	// The query word itself is excluded.
	Nearest(ctx context.Context, word string, k int) ([]Neighbor, error)
}

// Options configures model construction.
type Options struct {
	// Float16 stores vectors as IEEE 754 half floats, halving memory.
	Float16 bool

	// Limit loads only the first Limit words of a file or table.
	// Zero means no limit. Ignored by NewMemory.
	Limit int

	// Logger receives load timing. Nil disables logging.
	Logger *slog.Logger
}

// WithFloat16 stores vectors in half precision.
func WithFloat16() func(*Options) {
	return func(o *Options) {
		o.Float16 = true
	}
}

// WithLimit loads only the first n words.
func WithLimit(n int) func(*Options) {
	return func(o *Options) {
		o.Limit = n
	}
}

// WithLogger sets the logger used by loaders.
func WithLogger(l *slog.Logger) func(*Options) {
	return func(o *Options) {
		o.Logger = l
	}
}

func applyOptions(optFns []func(*Options)) Options {
	var o Options
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}
