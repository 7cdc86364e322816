package vfs

import "io"

// Mount is a read-only view of a directory tree. Paths passed to a mount are
// already sanitized and relative to the mount root.
type Mount interface {
	Exists(p string) (bool, error)
	IsDir(p string) (bool, error)
	// List returns the names of the direct children of directory p.
	List(p string) ([]string, error)
	Size(p string) (int64, error)
	OpenForRead(p string) (io.ReadCloser, error)
}

// WritableMount adds mutation and capacity accounting to a Mount.
type WritableMount interface {
	Mount
	MakeDir(p string) error
	Delete(p string) error
	Rename(from, to string) error
	// OpenForWrite truncates the file unless appending. The returned writer
	// fails with ErrOutOfSpace as soon as a write would exceed the capacity;
	// the failed write leaves nothing behind.
	OpenForWrite(p string, appendMode bool) (io.WriteCloser, error)
	RemainingSpace() int64
	Capacity() int64
}
