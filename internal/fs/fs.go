package fs

import (
	"io"
	"os"
)

// File is an open, writable file.
type File interface {
	io.WriteCloser
	Sync() error
}

// FileSystem abstracts the operations needed to append shard files and walk
// an output directory.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	MkdirAll(path string, perm os.FileMode) error
	ReadDir(name string) ([]os.DirEntry, error)
	Stat(name string) (os.FileInfo, error)
}

// LocalFS implements FileSystem using the local os package.
type LocalFS struct{}

func (LocalFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm)
}

func (LocalFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (LocalFS) ReadDir(name string) ([]os.DirEntry, error)   { return os.ReadDir(name) }
func (LocalFS) Stat(name string) (os.FileInfo, error)        { return os.Stat(name) }

// Default is the default local file system.
var Default FileSystem = LocalFS{}
