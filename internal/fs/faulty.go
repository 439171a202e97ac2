package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the error returned by a Fault without an explicit Err.
var ErrInjected = errors.New("injected fault error")

// Fault defines the failure behavior for files matching a rule.
type Fault struct {
	FailOnOpen  bool
	FailOnWrite bool
	// FailAfterBytes lets this many bytes through before writes fail.
	FailAfterBytes int64
	FailOnSync     bool
	FailOnClose    bool
	Err            error
}

func (f Fault) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

// FaultyFS is a FileSystem wrapper that injects errors into files whose name
// contains a rule pattern.
type FaultyFS struct {
	FS FileSystem

	mu    sync.Mutex
	rules map[string]Fault
	opens map[string]int
}

// NewFaultyFS creates a FaultyFS wrapping fs (or Default if nil).
func NewFaultyFS(fs FileSystem) *FaultyFS {
	if fs == nil {
		fs = Default
	}
	return &FaultyFS{
		FS:    fs,
		rules: make(map[string]Fault),
		opens: make(map[string]int),
	}
}

// AddRule adds a fault for every file whose name contains pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
}

// Opens returns how many times files containing pattern were opened,
// including failed attempts.
func (f *FaultyFS) Opens(pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for name, c := range f.opens {
		if strings.Contains(name, pattern) {
			n += c
		}
	}
	return n
}

func (f *FaultyFS) match(name string) (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opens[name]++

	var (
		fault   Fault
		found   bool
		longest int
	)
	// Longest matching pattern wins.
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) && len(pattern) >= longest {
			fault, found, longest = rule, true, len(pattern)
		}
	}
	return fault, found
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	fault, found := f.match(name)
	if !found {
		return f.FS.OpenFile(name, flag, perm)
	}
	if fault.FailOnOpen {
		return nil, &os.PathError{Op: "open", Path: name, Err: fault.err()}
	}

	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, fault: fault}, nil
}

func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error {
	return f.FS.MkdirAll(path, perm)
}

func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error) {
	return f.FS.ReadDir(name)
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error) {
	return f.FS.Stat(name)
}

type faultyFile struct {
	File
	fault   Fault
	written int64
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if ff.fault.FailOnWrite && ff.written+int64(len(p)) > ff.fault.FailAfterBytes {
		// Write the allowed prefix to simulate a torn append.
		allowed := max(ff.fault.FailAfterBytes-ff.written, 0)
		n, err := ff.File.Write(p[:allowed])
		ff.written += int64(n)
		if err != nil {
			return n, err
		}
		return n, ff.fault.err()
	}

	n, err := ff.File.Write(p)
	ff.written += int64(n)
	return n, err
}

func (ff *faultyFile) Sync() error {
	if ff.fault.FailOnSync {
		return ff.fault.err()
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	if ff.fault.FailOnClose {
		_ = ff.File.Close()
		return ff.fault.err()
	}
	return ff.File.Close()
}
