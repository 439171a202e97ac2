// Package knnshard computes the top-K nearest neighbors of every word in an
// embedding vocabulary and appends them to a fixed set of shard files.
//
// A run partitions a vocabulary index range into work units, launches one
// goroutine per unit, and joins them. Units are assigned to shards round
// robin, and every shard file is guarded by one lock so concurrent workers
// never interleave their writes.
//
// # Quick Start
//
//	model, err := embedding.LoadWord2Vec("vectors.bin")
//	if err != nil {
//	    return err
//	}
//	report, err := knnshard.Run(ctx, 10, model, 8, "./out", len(model.Vocabulary()))
//	if err != nil {
//	    // Some workers failed; report is still populated.
//	}
//	fmt.Println(report.Records, report.BytesWritten)
//
// # Work Units
//
// In word mode (the default) every vocabulary index is its own unit. With
// WithRangeMode(true) the range is split into at most one contiguous
// sub-range per shard, with sizes differing by at most one.
//
// # Output
//
// Shard files are named shard_<id>.csv and hold one record per line:
//
//	source<TAB>neighbor<TAB>score
//
// Files are opened in append mode and never truncated, so a rerun into the
// same directory adds to earlier output.
//
// # Failures
//
// A failed neighbor query drops that word (see Report.Failed) and the worker
// continues. A failed append ends only that worker with an *IOError; its
// shard lock is released and its siblings are unaffected. Invalid parameters
// are reported as *ConfigurationError before any worker starts.
//
// # Multiple Processes
//
// WithFileLocks(true) adds an OS advisory lock per shard so that separate
// processes can share one output directory.
package knnshard
