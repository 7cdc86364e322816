package vfs

import "sync"

// Quota is a byte budget shared by every mount bound to one save directory.
type Quota struct {
	mu       sync.Mutex
	capacity int64
	used     int64
}

// NewQuota creates a quota of capacity bytes. A non-positive capacity is
// treated as zero, so nothing can be written.
func NewQuota(capacity int64) *Quota {
	if capacity < 0 {
		capacity = 0
	}
	return &Quota{capacity: capacity}
}

// Reserve charges n bytes. It fails with ErrOutOfSpace, leaving the counter
// untouched, if the charge would exceed the capacity.
func (q *Quota) Reserve(n int64) error {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.used+n > q.capacity {
		return ErrOutOfSpace
	}
	q.used += n
	return nil
}

// Release returns n bytes to the budget.
func (q *Quota) Release(n int64) {
	if n <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.used -= n
	if q.used < 0 {
		q.used = 0
	}
}

// restore charges bytes that already exist in the backing store, ignoring
// the capacity. Used when loading an existing save directory.
func (q *Quota) restore(n int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.used += n
}

func (q *Quota) Used() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}

func (q *Quota) Capacity() int64 {
	return q.capacity
}

// Remaining returns the bytes still available, never negative.
func (q *Quota) Remaining() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	if r := q.capacity - q.used; r > 0 {
		return r
	}
	return 0
}
