package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/vk/computergrid/internal/broadcast"
	"github.com/vk/computergrid/internal/computer"
	"github.com/vk/computergrid/internal/ctxlog"
	"github.com/vk/computergrid/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrDuplicateComputer is returned by Add when a computer with the same
// persistent id is already loaded.
var ErrDuplicateComputer = errors.New("computer already loaded")

// Executor is the part of computer.Executor the registry drives.
type Executor interface {
	ID() int
	Tick(ctx context.Context) bool
	TimedOut(limit int) bool
	Snapshot() computer.Snapshot
	Unload(ctx context.Context) error
}

// Options configures a Registry.
type Options struct {
	// KeepAliveTicks is how many ticks an executor may go without a
	// keep-alive before it is evicted. Zero disables eviction.
	KeepAliveTicks int
	Broadcaster    broadcast.Broadcaster
	Metrics        *metrics.Metrics
}

// Entry is one loaded executor.
type Entry struct {
	Instance uuid.UUID
	Executor Executor
}

// Registry owns the set of live executors.
type Registry struct {
	opts Options

	mu         sync.RWMutex
	executors  map[uuid.UUID]Executor
	byComputer map[int]uuid.UUID
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.Broadcaster == nil {
		opts.Broadcaster = broadcast.Log{}
	}
	return &Registry{
		opts:       opts,
		executors:  make(map[uuid.UUID]Executor),
		byComputer: make(map[int]uuid.UUID),
	}
}

// Add registers e under a fresh instance id.
func (r *Registry) Add(e Executor) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byComputer[e.ID()]; ok {
		return uuid.Nil, fmt.Errorf("%w: computer %d is instance %s", ErrDuplicateComputer, e.ID(), existing)
	}
	id := uuid.New()
	r.executors[id] = e
	r.byComputer[e.ID()] = id
	return id, nil
}

// Get returns the executor of an instance.
func (r *Registry) Get(id uuid.UUID) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[id]
	return e, ok
}

// Lookup finds the loaded instance of a persistent computer id.
func (r *Registry) Lookup(computerID int) (uuid.UUID, Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byComputer[computerID]
	if !ok {
		return uuid.Nil, nil, false
	}
	return id, r.executors[id], true
}

// Len returns the number of loaded executors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

// All returns every entry ordered by computer id.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.executors))
	for id, e := range r.executors {
		entries = append(entries, Entry{Instance: id, Executor: e})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Executor.ID() < entries[j].Executor.ID()
	})
	return entries
}

func (r *Registry) detach(id uuid.UUID) (Executor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executors[id]
	if !ok {
		return nil, false
	}
	delete(r.executors, id)
	delete(r.byComputer, e.ID())
	return e, true
}

// Remove unloads an instance and broadcasts its deletion.
func (r *Registry) Remove(ctx context.Context, id uuid.UUID) error {
	e, ok := r.detach(id)
	if !ok {
		return fmt.Errorf("unknown computer instance %s", id)
	}
	err := e.Unload(ctx)
	r.broadcastDeleted(ctx, id, e.ID())
	return err
}

// TickAll runs one host tick of housekeeping: executors whose keep-alive
// expired are unloaded and announced as deleted, the rest are ticked and
// broadcast if their observable state changed.
func (r *Registry) TickAll(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	byState := make(map[string]int)

	for _, entry := range r.All() {
		e := entry.Executor
		if e.TimedOut(r.opts.KeepAliveTicks) {
			logger.Info("Evicting computer that stopped receiving keep-alives.",
				"instance", entry.Instance, "computer_id", e.ID())
			if err := r.Remove(ctx, entry.Instance); err != nil {
				logger.Warn("Failed to unload evicted computer.", "computer_id", e.ID(), "error", err)
			}
			continue
		}

		if e.Tick(ctx) {
			snap := e.Snapshot()
			if err := r.opts.Broadcaster.State(ctx, entry.Instance, snap); err != nil {
				logger.Warn("Failed to broadcast computer state.", "computer_id", e.ID(), "error", err)
			}
			byState[snap.State]++
			continue
		}
		byState[e.Snapshot().State]++
	}
	r.opts.Metrics.SetComputers(byState)
}

func (r *Registry) broadcastDeleted(ctx context.Context, id uuid.UUID, computerID int) {
	if err := r.opts.Broadcaster.Deleted(ctx, id, computerID); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to broadcast computer deletion.", "computer_id", computerID, "error", err)
	}
}

// Close unloads every executor concurrently and closes the broadcaster.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	entries := make([]Entry, 0, len(r.executors))
	for id, e := range r.executors {
		entries = append(entries, Entry{Instance: id, Executor: e})
	}
	r.executors = make(map[uuid.UUID]Executor)
	r.byComputer = make(map[int]uuid.UUID)
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		g.Go(func() error {
			if err := entry.Executor.Unload(gctx); err != nil {
				return err
			}
			r.broadcastDeleted(gctx, entry.Instance, entry.Executor.ID())
			return nil
		})
	}
	err := g.Wait()
	return errors.Join(err, r.opts.Broadcaster.Close())
}
