// Package blobstore provides the object storage targets shard files are
// published to.
//
// Store is the interface for writing, reading and listing named blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem with atomic writes and mmap reads
//   - MemoryStore: in-memory, for tests
//   - minio.Store: MinIO and S3-compatible storage
//   - s3.Store: Amazon S3 with multipart uploads
//
// # Custom Implementations
//
//	type Store interface {
//	    Put(ctx, name, r, size) error              // Atomic write
//	    Open(ctx, name) (io.ReadCloser, error)     // Read back
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
