package knnshard

import (
	"errors"
	"fmt"

	"github.com/hupe1980/knnshard/partition"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrInvalidBounds is returned when the index range lies outside the
	// vocabulary.
	ErrInvalidBounds = errors.New("index bounds out of range")

	// ErrInvalidShards is returned when the shard count is not positive.
	ErrInvalidShards = partition.ErrInvalidShards

	// ErrMissingModel is returned when no embedding model is supplied.
	ErrMissingModel = errors.New("model is required")

	// ErrMissingOutputDir is returned when no output directory is configured.
	ErrMissingOutputDir = errors.New("output directory is required")

	// ErrAlreadyRun is returned when Run is called twice on one Orchestrator.
	ErrAlreadyRun = errors.New("orchestrator already run")
)

// ConfigurationError reports an invalid run parameter. No worker is launched
// when a run fails with a ConfigurationError.
//
// The matching sentinel (ErrInvalidK, ErrInvalidBounds, ...) can be tested
// with errors.Is.
type ConfigurationError struct {
	Field string
	Value any
	cause error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s=%v: %v", e.Field, e.Value, e.cause)
}

func (e *ConfigurationError) Unwrap() error { return e.cause }

// ModelQueryError reports a failed neighbor query for one word. It is logged
// and counted, never fatal to the worker.
type ModelQueryError struct {
	Word  string
	Index int
	cause error
}

func (e *ModelQueryError) Error() string {
	return fmt.Sprintf("query %q (index %d): %v", e.Word, e.Index, e.cause)
}

func (e *ModelQueryError) Unwrap() error { return e.cause }

// IOError reports a filesystem failure. Shard is -1 when the failure is not
// tied to one shard.
type IOError struct {
	Shard int
	Path  string
	Op    string
	cause error
}

func (e *IOError) Error() string {
	if e.Shard < 0 {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.cause)
	}
	return fmt.Sprintf("shard %d: %s %s: %v", e.Shard, e.Op, e.Path, e.cause)
}

func (e *IOError) Unwrap() error { return e.cause }

func configError(field string, value any, cause error) error {
	return &ConfigurationError{Field: field, Value: value, cause: cause}
}
