// Package savedir hands out the persistent, capacity-limited mounts that back
// computers and floppy disks, keyed by (family, numeric id).
package savedir

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/vk/computergrid/internal/storage"
	"github.com/vk/computergrid/internal/vfs"
)

// DiskFamily is the family name used for floppy disks.
const DiskFamily = "disk"

// Default capacities in bytes.
const (
	DefaultComputerCapacity int64 = 1_000_000
	DefaultDiskCapacity     int64 = 125_000
)

type key struct {
	family string
	id     int
}

// Options configures a Service.
type Options struct {
	// Capacities maps a family name to its byte budget. Families not listed
	// get DefaultCapacity, and disks DefaultDiskCapacity.
	Capacities      map[string]int64
	DefaultCapacity int64
}

// Service owns one mount and one quota per save directory. Repeated calls
// for the same key return the same mount, so every user of a directory
// shares its quota.
type Service struct {
	store storage.Store
	opts  Options

	mu     sync.Mutex
	mounts map[key]*vfs.StoreMount
}

// New creates a save-directory service over store.
func New(store storage.Store, opts Options) *Service {
	if opts.DefaultCapacity <= 0 {
		opts.DefaultCapacity = DefaultComputerCapacity
	}
	return &Service{store: store, opts: opts, mounts: make(map[key]*vfs.StoreMount)}
}

// Capacity returns the byte budget of a family.
func (s *Service) Capacity(family string) int64 {
	if c, ok := s.opts.Capacities[family]; ok && c > 0 {
		return c
	}
	if family == DiskFamily {
		return DefaultDiskCapacity
	}
	return s.opts.DefaultCapacity
}

// Prefix returns the store key prefix of a save directory.
func Prefix(family string, id int) string {
	return family + "/" + strconv.Itoa(id) + "/"
}

// Mount returns the writable mount of (family, id), loading it on first use.
func (s *Service) Mount(family string, id int) (*vfs.StoreMount, error) {
	if family == "" || id < 0 {
		return nil, fmt.Errorf("invalid save directory %q/%d", family, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{family: family, id: id}
	if m, ok := s.mounts[k]; ok {
		return m, nil
	}
	m, err := vfs.NewStoreMount(s.store, Prefix(family, id), vfs.NewQuota(s.Capacity(family)))
	if err != nil {
		return nil, fmt.Errorf("failed to open save directory %s: %w", Prefix(family, id), err)
	}
	s.mounts[k] = m
	return m, nil
}

// Disk returns the mount of floppy disk id. It satisfies
// peripheral.DiskSource.
func (s *Service) Disk(id int) (vfs.WritableMount, error) {
	return s.Mount(DiskFamily, id)
}

// NextID allocates the next persistent id of a family. Ids start at 0 and
// survive restarts because the counter lives in the store.
func (s *Service) NextID(family string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counterKey := "ids/" + family
	next := 0
	raw, err := s.store.Get(counterKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return 0, fmt.Errorf("failed to read id counter for %s: %w", family, err)
	default:
		n, err := strconv.Atoi(string(raw))
		if err != nil {
			return 0, fmt.Errorf("corrupt id counter for %s: %w", family, err)
		}
		next = n
	}
	if err := s.store.Put(counterKey, []byte(strconv.Itoa(next+1))); err != nil {
		return 0, fmt.Errorf("failed to store id counter for %s: %w", family, err)
	}
	return next, nil
}

// Reserve makes sure later NextID calls for family never return id or
// anything below it. It is used when a computer is declared with a fixed id.
func (s *Service) Reserve(family string, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	counterKey := "ids/" + family
	raw, err := s.store.Get(counterKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read id counter for %s: %w", family, err)
	}
	if err == nil {
		if n, convErr := strconv.Atoi(string(raw)); convErr == nil && n > id {
			return nil
		}
	}
	return s.store.Put(counterKey, []byte(strconv.Itoa(id+1)))
}
