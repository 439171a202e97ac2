// Package mmap provides read-only memory-mapped file access.
//
// It is used to parse large embedding model files without copying them
// through kernel buffers.
//
//	m, err := mmap.Open("vectors.bin")
//	if err != nil { ... }
//	defer m.Close()
//
//	_ = m.Advise(mmap.AccessSequential)
//	data := m.Bytes()
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with madvise(2) hints
//   - Windows: CreateFileMapping/MapViewOfFile (Advise is a no-op)
package mmap
