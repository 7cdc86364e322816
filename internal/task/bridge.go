package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vk/computergrid/internal/ctxlog"
)

var (
	// ErrTaskTimeout resolves a request that was not serviced in time.
	ErrTaskTimeout = errors.New("main thread task timed out")
	// ErrCancelled resolves a request whose caller or owner went away.
	ErrCancelled = errors.New("main thread task cancelled")
	// ErrTaskPanic wraps a panic recovered from a closure.
	ErrTaskPanic = errors.New("main thread task panicked")
)

// DefaultTimeoutTicks is used when Options.TimeoutTicks is not set.
const DefaultTimeoutTicks = 100

// Func is a closure executed on the main loop.
type Func func(ctx context.Context) (any, error)

// Options configures a Bridge.
type Options struct {
	// TimeoutTicks is how many drains a request may wait before it resolves
	// with ErrTaskTimeout.
	TimeoutTicks uint64
	// MaxPerTick caps the closures executed per drain. Zero means no cap.
	MaxPerTick int
	// Budget caps the wall time spent executing closures per drain. At least
	// one closure always runs. Zero means no cap.
	Budget time.Duration
}

type request struct {
	pending  *Pending
	fn       Func
	tick     uint64
	timedOut bool
}

// DrainStats summarises one Drain call.
type DrainStats struct {
	Executed  int
	TimedOut  int
	Discarded int
	Remaining int
	Elapsed   time.Duration
}

// Bridge queues closures from any goroutine and runs them on the main loop.
type Bridge struct {
	mu    sync.Mutex
	opts  Options
	seq   uint64
	tick  uint64
	queue []*request
}

// NewBridge creates a bridge.
func NewBridge(opts Options) *Bridge {
	if opts.TimeoutTicks == 0 {
		opts.TimeoutTicks = DefaultTimeoutTicks
	}
	return &Bridge{opts: opts}
}

// Submit queues fn on behalf of owner and returns its future.
func (b *Bridge) Submit(owner string, fn Func) *Pending {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	p := newPending(b.seq, owner)
	b.queue = append(b.queue, &request{pending: p, fn: fn, tick: b.tick})
	return p
}

// Len returns the number of queued requests.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// CancelOwner drops every queued request of owner and resolves them with
// ErrCancelled. It returns how many were dropped.
func (b *Bridge) CancelOwner(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.queue[:0]
	dropped := 0
	for _, r := range b.queue {
		if r.pending.owner == owner {
			r.pending.resolve(nil, ErrCancelled)
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(b.queue); i++ {
		b.queue[i] = nil
	}
	b.queue = kept
	return dropped
}

// Drain must be called once per host tick from the main loop. It expires
// overdue requests and then runs queued closures in submission order within
// the configured budget.
func (b *Bridge) Drain(ctx context.Context) DrainStats {
	logger := ctxlog.FromContext(ctx)
	var stats DrainStats

	b.mu.Lock()
	b.tick++
	for _, r := range b.queue {
		if !r.timedOut && b.tick-r.tick > b.opts.TimeoutTicks {
			r.timedOut = true
			if r.pending.resolve(nil, ErrTaskTimeout) {
				stats.TimedOut++
				logger.Warn("Main thread task timed out.", "seq", r.pending.seq, "owner", r.pending.owner)
			}
		}
	}
	n := len(b.queue)
	if b.opts.MaxPerTick > 0 && n > b.opts.MaxPerTick {
		n = b.opts.MaxPerTick
	}
	batch := make([]*request, n)
	copy(batch, b.queue[:n])
	b.queue = b.queue[n:]
	b.mu.Unlock()

	start := time.Now()
	for i, r := range batch {
		if b.opts.Budget > 0 && i > 0 && time.Since(start) >= b.opts.Budget {
			b.requeue(batch[i:])
			break
		}
		value, err := b.run(ctx, r)
		stats.Executed++
		if !r.pending.resolve(value, err) {
			stats.Discarded++
			logger.Debug("Discarding late main thread task result.", "seq", r.pending.seq, "owner", r.pending.owner)
		}
	}
	stats.Elapsed = time.Since(start)
	stats.Remaining = b.Len()
	return stats
}

// requeue puts unexecuted requests back at the head of the queue.
func (b *Bridge) requeue(rs []*request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(append(make([]*request, 0, len(rs)+len(b.queue)), rs...), b.queue...)
}

func (b *Bridge) run(ctx context.Context, r *request) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			value, err = nil, fmt.Errorf("%w: %v", ErrTaskPanic, rec)
		}
	}()
	return r.fn(ctx)
}
