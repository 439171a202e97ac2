// Package s3 provides an Amazon S3 implementation of blobstore.Store.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("knn/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//
// # Features
//
//   - Multipart uploads for large shards
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//   - Custom endpoints for S3-compatible services
package s3
