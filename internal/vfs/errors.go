package vfs

import "errors"

var (
	ErrNotFound     = errors.New("no such file")
	ErrPathInvalid  = errors.New("invalid path")
	ErrOutOfSpace   = errors.New("out of space")
	ErrReadOnly     = errors.New("access denied")
	ErrNotDirectory = errors.New("not a directory")
	ErrIsDirectory  = errors.New("is a directory")
	ErrExists       = errors.New("file exists")
	ErrClosed       = errors.New("file closed")
)

// PathError records the operation and path that caused a mount error.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return "/" + e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error { return e.Err }

func pathErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PathError
	if errors.As(err, &pe) {
		return err
	}
	return &PathError{Op: op, Path: path, Err: err}
}
