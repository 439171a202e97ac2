// Package testutil provides testing utilities for knnshard.
//
// This package is intended for use in tests and benchmarks only.
// It provides deterministic random vectors and vocabularies, stub embedding
// models, recording shard locks, and shard file readers.
//
// # Random Models
//
//	rng := testutil.NewRNG(seed)
//	model := rng.Model(1000, 64)  // *embedding.Memory over "w0".."w999"
//
// # Stub Models
//
//	model := testutil.NewStubModel([]string{"a", "b", "c", "d"})
//	model.FailOn("c", errBoom)
//
// # Lock Ordering
//
//	log := testutil.NewLockLog()
//	tbl, _ := shardlock.New(2, shardlock.WithFactory(log.Factory()))
//	// ... run ...
//	log.Events()
package testutil
