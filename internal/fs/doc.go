// Package fs provides the filesystem seam used for shard output.
//
//   - [LocalFS]: Production implementation using the os package
//   - [FaultyFS]: Test utility that injects open, write, sync and close errors
//
// Production code uses fs.Default:
//
//	f, err := fs.Default.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
//
// Tests inject a [FaultyFS] to make a single shard fail:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("shard_1.csv", fs.Fault{FailOnOpen: true})
package fs
