package vfs

import "io"

// EmptyMount is a mount with nothing but an empty root directory. It is used
// where a binding must exist but has no backing data yet, such as a drive
// without a disk.
type EmptyMount struct{}

func (EmptyMount) Exists(p string) (bool, error) { return p == "", nil }

func (EmptyMount) IsDir(p string) (bool, error) { return p == "", nil }

func (EmptyMount) List(p string) ([]string, error) {
	if p != "" {
		return nil, &PathError{Op: "list", Path: p, Err: ErrNotFound}
	}
	return []string{}, nil
}

func (EmptyMount) Size(p string) (int64, error) {
	if p != "" {
		return 0, &PathError{Op: "size", Path: p, Err: ErrNotFound}
	}
	return 0, nil
}

func (EmptyMount) OpenForRead(p string) (io.ReadCloser, error) {
	return nil, &PathError{Op: "open", Path: p, Err: ErrNotFound}
}
