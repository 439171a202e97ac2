package mmap

import (
	"errors"
	"os"
	"sync/atomic"
)

// Access is a kernel hint describing the expected access pattern.
type Access int

const (
	// AccessDefault leaves the kernel default.
	AccessDefault Access = iota
	// AccessSequential hints at a front-to-back scan.
	AccessSequential
	// AccessRandom hints at scattered reads.
	AccessRandom
)

// File is a read-only memory-mapped file.
type File struct {
	data   []byte
	f      *os.File
	closed atomic.Bool
}

// Open maps the file at path into memory as read-only.
// Empty files are valid and yield an empty mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	size := fi.Size()
	if size == 0 {
		return &File{f: f}, nil
	}
	if size < 0 || int64(int(size)) != size {
		_ = f.Close()
		return nil, errors.New("mmap: file size out of range")
	}

	data, err := mmap(f, int(size))
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &File{data: data, f: f}, nil
}

// Bytes returns the mapped contents. The slice is invalid after Close.
func (m *File) Bytes() []byte {
	return m.data
}

// Len returns the mapped size in bytes.
func (m *File) Len() int {
	return len(m.data)
}

// Advise passes an access pattern hint to the kernel.
func (m *File) Advise(a Access) error {
	if len(m.data) == 0 {
		return nil
	}
	return madvise(m.data, a)
}

// Close unmaps the memory and closes the underlying file. It is idempotent.
func (m *File) Close() error {
	if m == nil || !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if m.data != nil {
		err = munmap(m.data)
		m.data = nil
	}
	if cerr := m.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
