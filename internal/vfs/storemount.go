package vfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/vk/computergrid/internal/storage"
)

// ErrInUse is returned when a file is modified while a writer holds it open.
var ErrInUse = errors.New("file is open for writing")

// StoreMount is a writable, capacity-limited mount whose file contents live in
// a storage.Store under a key prefix. An in-memory index of sizes and
// directories is kept so that queries never touch the store.
type StoreMount struct {
	mu     sync.RWMutex
	store  storage.Store
	prefix string
	quota  *Quota
	files  map[string]int64
	dirs   map[string]struct{}
	open   map[string]struct{}
}

// NewStoreMount loads the index for every key under prefix and charges the
// bytes already present to quota.
func NewStoreMount(store storage.Store, prefix string, quota *Quota) (*StoreMount, error) {
	m := &StoreMount{
		store:  store,
		prefix: prefix,
		quota:  quota,
		files:  make(map[string]int64),
		dirs:   map[string]struct{}{"": {}},
		open:   make(map[string]struct{}),
	}

	keys, err := store.Keys(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to index mount %q: %w", prefix, err)
	}
	var total int64
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		switch {
		case strings.HasPrefix(rest, "d/"):
			m.addDirs(strings.TrimPrefix(rest, "d/"))
		case strings.HasPrefix(rest, "f/"):
			p := strings.TrimPrefix(rest, "f/")
			data, err := store.Get(k)
			if err != nil {
				return nil, fmt.Errorf("failed to read %q: %w", k, err)
			}
			m.files[p] = int64(len(data))
			m.addDirs(parent(p))
			total += int64(len(data))
		}
	}
	quota.restore(total)
	return m, nil
}

func (m *StoreMount) fileKey(p string) string { return m.prefix + "f/" + p }
func (m *StoreMount) dirKey(p string) string  { return m.prefix + "d/" + p }

// addDirs records p and its ancestors in the index only.
func (m *StoreMount) addDirs(p string) {
	for p != "" {
		m.dirs[p] = struct{}{}
		p = parent(p)
	}
}

// ensureDirs creates p and its ancestors, failing if any of them is a file.
func (m *StoreMount) ensureDirs(op, p string) error {
	var missing []string
	for d := p; d != ""; d = parent(d) {
		if _, isFile := m.files[d]; isFile {
			return &PathError{Op: op, Path: d, Err: ErrNotDirectory}
		}
		if _, ok := m.dirs[d]; !ok {
			missing = append(missing, d)
		}
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if err := m.store.Put(m.dirKey(missing[i]), nil); err != nil {
			return &PathError{Op: op, Path: missing[i], Err: err}
		}
		m.dirs[missing[i]] = struct{}{}
	}
	return nil
}

func (m *StoreMount) Exists(p string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, isFile := m.files[p]
	_, isDir := m.dirs[p]
	return isFile || isDir, nil
}

func (m *StoreMount) IsDir(p string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, isDir := m.dirs[p]
	return isDir, nil
}

func (m *StoreMount) List(p string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, isDir := m.dirs[p]; !isDir {
		if _, isFile := m.files[p]; isFile {
			return nil, &PathError{Op: "list", Path: p, Err: ErrNotDirectory}
		}
		return nil, &PathError{Op: "list", Path: p, Err: ErrNotFound}
	}

	names := make([]string, 0)
	for f := range m.files {
		if parent(f) == p {
			names = append(names, Name(f))
		}
	}
	for d := range m.dirs {
		if d != "" && parent(d) == p {
			names = append(names, Name(d))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *StoreMount) Size(p string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if size, ok := m.files[p]; ok {
		return size, nil
	}
	if _, ok := m.dirs[p]; ok {
		return 0, nil
	}
	return 0, &PathError{Op: "size", Path: p, Err: ErrNotFound}
}

func (m *StoreMount) OpenForRead(p string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.dirs[p]; ok {
		return nil, &PathError{Op: "open", Path: p, Err: ErrIsDirectory}
	}
	if _, ok := m.files[p]; !ok {
		return nil, &PathError{Op: "open", Path: p, Err: ErrNotFound}
	}
	data, err := m.store.Get(m.fileKey(p))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			data = nil
		} else {
			return nil, &PathError{Op: "open", Path: p, Err: err}
		}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *StoreMount) MakeDir(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, isFile := m.files[p]; isFile {
		return &PathError{Op: "mkdir", Path: p, Err: ErrExists}
	}
	return m.ensureDirs("mkdir", p)
}

// Delete removes a file or a whole directory tree. Deleting something that
// does not exist is a no-op.
func (m *StoreMount) Delete(p string) error {
	if p == "" {
		return &PathError{Op: "delete", Path: p, Err: ErrReadOnly}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.busy(p) {
		return &PathError{Op: "delete", Path: p, Err: ErrInUse}
	}

	var freed int64
	for f, size := range m.files {
		if within(f, p) {
			if err := m.store.Delete(m.fileKey(f)); err != nil {
				return &PathError{Op: "delete", Path: f, Err: err}
			}
			delete(m.files, f)
			freed += size
		}
	}
	for d := range m.dirs {
		if d != "" && within(d, p) {
			if err := m.store.Delete(m.dirKey(d)); err != nil {
				return &PathError{Op: "delete", Path: d, Err: err}
			}
			delete(m.dirs, d)
		}
	}
	m.quota.Release(freed)
	return nil
}

// Rename moves a file or directory tree. The destination must not exist and
// may not lie inside the source.
func (m *StoreMount) Rename(from, to string) error {
	if from == "" || within(to, from) {
		return &PathError{Op: "rename", Path: to, Err: ErrPathInvalid}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	_, fromFile := m.files[from]
	_, fromDir := m.dirs[from]
	if !fromFile && !fromDir {
		return &PathError{Op: "rename", Path: from, Err: ErrNotFound}
	}
	_, toFile := m.files[to]
	_, toDir := m.dirs[to]
	if toFile || toDir {
		return &PathError{Op: "rename", Path: to, Err: ErrExists}
	}
	if m.busy(from) {
		return &PathError{Op: "rename", Path: from, Err: ErrInUse}
	}
	if err := m.ensureDirs("rename", parent(to)); err != nil {
		return err
	}

	moved := func(p string) string { return to + strings.TrimPrefix(p, from) }
	for f, size := range m.files {
		if !within(f, from) {
			continue
		}
		data, err := m.store.Get(m.fileKey(f))
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return &PathError{Op: "rename", Path: f, Err: err}
		}
		dst := moved(f)
		if err := m.store.Put(m.fileKey(dst), data); err != nil {
			return &PathError{Op: "rename", Path: dst, Err: err}
		}
		if err := m.store.Delete(m.fileKey(f)); err != nil {
			return &PathError{Op: "rename", Path: f, Err: err}
		}
		delete(m.files, f)
		m.files[dst] = size
	}
	for d := range m.dirs {
		if d == "" || !within(d, from) {
			continue
		}
		dst := moved(d)
		if err := m.store.Put(m.dirKey(dst), nil); err != nil {
			return &PathError{Op: "rename", Path: dst, Err: err}
		}
		if err := m.store.Delete(m.dirKey(d)); err != nil {
			return &PathError{Op: "rename", Path: d, Err: err}
		}
		delete(m.dirs, d)
		m.dirs[dst] = struct{}{}
	}
	return nil
}

func (m *StoreMount) OpenForWrite(p string, appendMode bool) (io.WriteCloser, error) {
	if p == "" {
		return nil, &PathError{Op: "open", Path: p, Err: ErrIsDirectory}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, isDir := m.dirs[p]; isDir {
		return nil, &PathError{Op: "open", Path: p, Err: ErrIsDirectory}
	}
	if _, busy := m.open[p]; busy {
		return nil, &PathError{Op: "open", Path: p, Err: ErrInUse}
	}
	if err := m.ensureDirs("open", parent(p)); err != nil {
		return nil, err
	}

	w := &storeWriter{m: m, path: p}
	size, exists := m.files[p]
	switch {
	case exists && appendMode:
		data, err := m.store.Get(m.fileKey(p))
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, &PathError{Op: "open", Path: p, Err: err}
		}
		w.buf = data
	default:
		if err := m.store.Put(m.fileKey(p), nil); err != nil {
			return nil, &PathError{Op: "open", Path: p, Err: err}
		}
		m.files[p] = 0
		m.quota.Release(size)
	}
	m.open[p] = struct{}{}
	return w, nil
}

func (m *StoreMount) RemainingSpace() int64 { return m.quota.Remaining() }

func (m *StoreMount) Capacity() int64 { return m.quota.Capacity() }

// busy reports whether p or anything beneath it is open for writing.
func (m *StoreMount) busy(p string) bool {
	for o := range m.open {
		if within(o, p) {
			return true
		}
	}
	return false
}

type storeWriter struct {
	m      *StoreMount
	path   string
	buf    []byte
	closed bool
}

func (w *storeWriter) Write(p []byte) (int, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()

	if w.closed {
		return 0, &PathError{Op: "write", Path: w.path, Err: ErrClosed}
	}
	if len(p) == 0 {
		return 0, nil
	}
	n := int64(len(p))
	if err := w.m.quota.Reserve(n); err != nil {
		return 0, &PathError{Op: "write", Path: w.path, Err: err}
	}

	next := make([]byte, 0, len(w.buf)+len(p))
	next = append(append(next, w.buf...), p...)
	if err := w.m.store.Put(w.m.fileKey(w.path), next); err != nil {
		w.m.quota.Release(n)
		return 0, &PathError{Op: "write", Path: w.path, Err: err}
	}
	w.buf = next
	w.m.files[w.path] = int64(len(next))
	return len(p), nil
}

func (w *storeWriter) Close() error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	delete(w.m.open, w.path)
	return nil
}
