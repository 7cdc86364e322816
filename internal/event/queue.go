package event

import (
	"errors"
	"sync"
)

// DefaultCapacity is the inbox size used when a family does not configure one.
const DefaultCapacity = 256

// ErrQueueFull is returned by Push when the queue is at capacity. The
// incoming event is dropped and the queue is left unchanged.
var ErrQueueFull = errors.New("event queue full")

// Queue is a bounded FIFO of events, safe for concurrent producers.
type Queue struct {
	mu       sync.Mutex
	items    []Event
	capacity int
	dropped  uint64
}

// NewQueue creates a queue holding at most capacity events. A non-positive
// capacity falls back to DefaultCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity, items: make([]Event, 0, capacity)}
}

// Push appends e, or drops it with ErrQueueFull when the queue is full.
func (q *Queue) Push(e Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.dropped++
		return ErrQueueFull
	}
	q.items = append(q.items, e)
	return nil
}

// PushSystem appends an engine-generated event that must not be lost, such
// as the shutdown notice. When the queue is full the oldest event is evicted
// to make room; the returned bool reports whether that happened.
func (q *Queue) PushSystem(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
		evicted = true
	}
	q.items = append(q.items, e)
	return evicted
}

// Pop removes and returns the oldest event.
func (q *Queue) Pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Event{}, false
	}
	e := q.items[0]
	q.items[0] = Event{}
	q.items = q.items[1:]
	return e, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Cap() int { return q.capacity }

// Dropped returns how many events were discarded because of overflow.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear discards every buffered event.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make([]Event, 0, q.capacity)
}
