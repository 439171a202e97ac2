package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction over a flat namespace of immutable blobs.
// Names use forward slashes regardless of platform.
type Store interface {
	// Put writes a blob atomically: readers see either the old or the full
	// new content. size is the content length, or -1 if unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// List returns the sorted names of all blobs starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
