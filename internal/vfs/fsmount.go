package vfs

import (
	"errors"
	"io"
	"io/fs"
)

// FSMount exposes an io/fs.FS (an embedded ROM, a host directory) as a
// read-only mount.
type FSMount struct {
	fsys fs.FS
}

// NewFSMount wraps fsys.
func NewFSMount(fsys fs.FS) *FSMount {
	return &FSMount{fsys: fsys}
}

func fsName(p string) string {
	if p == "" {
		return "."
	}
	return p
}

func (m *FSMount) stat(op, p string) (fs.FileInfo, error) {
	info, err := fs.Stat(m.fsys, fsName(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &PathError{Op: op, Path: p, Err: ErrNotFound}
		}
		return nil, &PathError{Op: op, Path: p, Err: err}
	}
	return info, nil
}

func (m *FSMount) Exists(p string) (bool, error) {
	_, err := m.stat("exists", p)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *FSMount) IsDir(p string) (bool, error) {
	info, err := m.stat("isdir", p)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (m *FSMount) List(p string) ([]string, error) {
	info, err := m.stat("list", p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &PathError{Op: "list", Path: p, Err: ErrNotDirectory}
	}
	entries, err := fs.ReadDir(m.fsys, fsName(p))
	if err != nil {
		return nil, &PathError{Op: "list", Path: p, Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (m *FSMount) Size(p string) (int64, error) {
	info, err := m.stat("size", p)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, nil
	}
	return info.Size(), nil
}

func (m *FSMount) OpenForRead(p string) (io.ReadCloser, error) {
	info, err := m.stat("open", p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &PathError{Op: "open", Path: p, Err: ErrIsDirectory}
	}
	f, err := m.fsys.Open(p)
	if err != nil {
		return nil, &PathError{Op: "open", Path: p, Err: err}
	}
	return f, nil
}
