package vfs

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

type binding struct {
	prefix   string
	mount    Mount
	writable WritableMount
}

// FileSystem merges several mounts into one namespace.
type FileSystem struct {
	mu       sync.RWMutex
	bindings []binding
}

// NewFileSystem creates a FileSystem whose root is backed by root.
func NewFileSystem(root Mount) *FileSystem {
	fs := &FileSystem{}
	if root != nil {
		_ = fs.Mount("", root)
	}
	return fs
}

// Mount binds m at prefix. A writable mount is detected by its type; wrap it
// in ReadOnly to bind it without write access.
func (fs *FileSystem) Mount(prefix string, m Mount) error {
	clean, err := Sanitize(prefix)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, b := range fs.bindings {
		if b.prefix == clean {
			return &PathError{Op: "mount", Path: clean, Err: ErrExists}
		}
	}
	b := binding{prefix: clean, mount: m}
	if w, ok := m.(WritableMount); ok {
		b.writable = w
	}
	fs.bindings = append(fs.bindings, b)
	// Longest prefix first, so resolution takes the first match.
	sort.SliceStable(fs.bindings, func(i, j int) bool {
		return len(fs.bindings[i].prefix) > len(fs.bindings[j].prefix)
	})
	return nil
}

// Unmount removes the binding at prefix, if any.
func (fs *FileSystem) Unmount(prefix string) {
	clean, err := Sanitize(prefix)
	if err != nil {
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i, b := range fs.bindings {
		if b.prefix == clean {
			fs.bindings = append(fs.bindings[:i], fs.bindings[i+1:]...)
			return
		}
	}
}

// IsMountPoint reports whether a binding exists exactly at p.
func (fs *FileSystem) IsMountPoint(p string) bool {
	clean, err := Sanitize(p)
	if err != nil {
		return false
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	for _, b := range fs.bindings {
		if b.prefix == clean {
			return true
		}
	}
	return false
}

// Resolve sanitizes p and finds the most specific binding covering it.
func (fs *FileSystem) Resolve(p string) (Mount, string, error) {
	b, rel, _, err := fs.resolve("resolve", p)
	if err != nil {
		return nil, "", err
	}
	return b.mount, rel, nil
}

func (fs *FileSystem) resolve(op, p string) (binding, string, string, error) {
	clean, err := Sanitize(p)
	if err != nil {
		return binding{}, "", "", err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	for _, b := range fs.bindings {
		if within(clean, b.prefix) {
			return b, relative(clean, b.prefix), clean, nil
		}
	}
	return binding{}, "", clean, &PathError{Op: op, Path: clean, Err: ErrNotFound}
}

func (fs *FileSystem) resolveWritable(op, p string) (WritableMount, string, string, error) {
	b, rel, clean, err := fs.resolve(op, p)
	if err != nil {
		return nil, "", "", err
	}
	if b.writable == nil {
		return nil, "", clean, &PathError{Op: op, Path: clean, Err: ErrReadOnly}
	}
	return b.writable, rel, clean, nil
}

// childMounts returns the names of mount points directly under dir.
func (fs *FileSystem) childMounts(dir string) []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var names []string
	for _, b := range fs.bindings {
		if b.prefix != "" && parent(b.prefix) == dir {
			names = append(names, Name(b.prefix))
		}
	}
	return names
}

func (fs *FileSystem) Exists(p string) (bool, error) {
	b, rel, clean, err := fs.resolve("exists", p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if fs.IsMountPoint(clean) {
		return true, nil
	}
	return b.mount.Exists(rel)
}

func (fs *FileSystem) IsDir(p string) (bool, error) {
	b, rel, clean, err := fs.resolve("isdir", p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if fs.IsMountPoint(clean) {
		return true, nil
	}
	return b.mount.IsDir(rel)
}

// List returns the sorted union of the backing mount's entries and any mount
// points that sit directly inside the directory.
func (fs *FileSystem) List(p string) ([]string, error) {
	b, rel, clean, err := fs.resolve("list", p)
	if err != nil {
		return nil, err
	}
	mounts := fs.childMounts(clean)

	entries, err := b.mount.List(rel)
	if err != nil {
		if !errors.Is(err, ErrNotFound) || len(mounts) == 0 {
			return nil, pathErr("list", clean, err)
		}
		entries = nil
	}

	seen := make(map[string]struct{}, len(entries)+len(mounts))
	out := make([]string, 0, len(entries)+len(mounts))
	for _, name := range append(entries, mounts...) {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (fs *FileSystem) Size(p string) (int64, error) {
	b, rel, clean, err := fs.resolve("size", p)
	if err != nil {
		return 0, err
	}
	size, err := b.mount.Size(rel)
	if err != nil {
		return 0, pathErr("size", clean, err)
	}
	return size, nil
}

func (fs *FileSystem) OpenForRead(p string) (io.ReadCloser, error) {
	b, rel, clean, err := fs.resolve("open", p)
	if err != nil {
		return nil, err
	}
	r, err := b.mount.OpenForRead(rel)
	if err != nil {
		return nil, pathErr("open", clean, err)
	}
	return r, nil
}

// ReadFile reads the whole file at p.
func (fs *FileSystem) ReadFile(p string) ([]byte, error) {
	r, err := fs.OpenForRead(p)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (fs *FileSystem) OpenForWrite(p string, appendMode bool) (io.WriteCloser, error) {
	w, rel, clean, err := fs.resolveWritable("open", p)
	if err != nil {
		return nil, err
	}
	wc, err := w.OpenForWrite(rel, appendMode)
	if err != nil {
		return nil, pathErr("open", clean, err)
	}
	return wc, nil
}

// WriteFile replaces (or appends to) the file at p. A write that would exceed
// the capacity fails with ErrOutOfSpace.
func (fs *FileSystem) WriteFile(p string, data []byte, appendMode bool) error {
	w, err := fs.OpenForWrite(p, appendMode)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (fs *FileSystem) MakeDir(p string) error {
	w, rel, clean, err := fs.resolveWritable("mkdir", p)
	if err != nil {
		return err
	}
	return pathErr("mkdir", clean, w.MakeDir(rel))
}

func (fs *FileSystem) Delete(p string) error {
	w, rel, clean, err := fs.resolveWritable("delete", p)
	if err != nil {
		return err
	}
	if fs.IsMountPoint(clean) || len(fs.childMounts(clean)) > 0 {
		return &PathError{Op: "delete", Path: clean, Err: ErrReadOnly}
	}
	if err := w.Delete(rel); err != nil {
		return pathErr("delete", clean, err)
	}
	return nil
}

// Rename moves within one mount, or copies and deletes across mounts.
func (fs *FileSystem) Rename(from, to string) error {
	src, srcRel, srcClean, err := fs.resolveWritable("rename", from)
	if err != nil {
		return err
	}
	dst, dstRel, dstClean, err := fs.resolveWritable("rename", to)
	if err != nil {
		return err
	}
	if fs.IsMountPoint(srcClean) {
		return &PathError{Op: "rename", Path: srcClean, Err: ErrReadOnly}
	}
	if src == dst {
		if err := src.Rename(srcRel, dstRel); err != nil {
			return pathErr("rename", srcClean, err)
		}
		return nil
	}
	if err := fs.Copy(srcClean, dstClean); err != nil {
		return err
	}
	return fs.Delete(srcClean)
}

// Copy duplicates a file or directory tree, possibly across mounts.
func (fs *FileSystem) Copy(from, to string) error {
	srcClean, err := Sanitize(from)
	if err != nil {
		return err
	}
	dstClean, err := Sanitize(to)
	if err != nil {
		return err
	}
	if within(dstClean, srcClean) {
		return &PathError{Op: "copy", Path: dstClean, Err: ErrPathInvalid}
	}
	exists, err := fs.Exists(srcClean)
	if err != nil {
		return err
	}
	if !exists {
		return &PathError{Op: "copy", Path: srcClean, Err: ErrNotFound}
	}
	if exists, _ := fs.Exists(dstClean); exists {
		return &PathError{Op: "copy", Path: dstClean, Err: ErrExists}
	}
	return fs.copyTree(srcClean, dstClean)
}

func (fs *FileSystem) copyTree(src, dst string) error {
	isDir, err := fs.IsDir(src)
	if err != nil {
		return err
	}
	if !isDir {
		data, err := fs.ReadFile(src)
		if err != nil {
			return err
		}
		return fs.WriteFile(dst, data, false)
	}
	if err := fs.MakeDir(dst); err != nil {
		return err
	}
	children, err := fs.List(src)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := fs.copyTree(src+"/"+c, dst+"/"+c); err != nil {
			return fmt.Errorf("copy %s: %w", c, err)
		}
	}
	return nil
}

// FreeSpace returns the remaining capacity of the mount holding p; read-only
// mounts report zero.
func (fs *FileSystem) FreeSpace(p string) (int64, error) {
	b, _, _, err := fs.resolve("freespace", p)
	if err != nil {
		return 0, err
	}
	if b.writable == nil {
		return 0, nil
	}
	return b.writable.RemainingSpace(), nil
}

// Capacity returns the total capacity of the mount holding p, or zero for a
// read-only mount.
func (fs *FileSystem) Capacity(p string) (int64, error) {
	b, _, _, err := fs.resolve("capacity", p)
	if err != nil {
		return 0, err
	}
	if b.writable == nil {
		return 0, nil
	}
	return b.writable.Capacity(), nil
}

// ReadOnly hides the write half of a writable mount.
func ReadOnly(m Mount) Mount {
	return readOnly{m}
}

type readOnly struct{ Mount }
