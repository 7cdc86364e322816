// Package computer drives one emulated computer: its lifecycle state
// machine, its event queue, the worker goroutine running its program and the
// timers that feed it.
//
// All methods are safe for concurrent use. Tick must only be called from the
// host loop.
package computer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/vk/computergrid/internal/ctxlog"
	"github.com/vk/computergrid/internal/event"
	"github.com/vk/computergrid/internal/metrics"
	"github.com/vk/computergrid/internal/peripheral"
	"github.com/vk/computergrid/internal/script"
	"github.com/vk/computergrid/internal/task"
	"github.com/vk/computergrid/internal/vfs"
	"github.com/vk/computergrid/internal/wired"
	"github.com/zclconf/go-cty/cty"
)

var (
	// ErrBootFailure means the startup program could not be loaded. The
	// computer stays off.
	ErrBootFailure = errors.New("computer failed to boot")
	// ErrScriptFatal means the program died with an uncaught error.
	ErrScriptFatal = errors.New("script fatal error")
	// ErrTooLongWithoutYielding means the watchdog stopped the program.
	ErrTooLongWithoutYielding = fmt.Errorf("%w: %w", ErrScriptFatal, script.ErrTooLongWithoutYielding)
	// ErrInvalidState is returned for a request the current state forbids.
	ErrInvalidState = errors.New("invalid computer state")
)

// Defaults applied by New.
const (
	DefaultTickRate      = 20
	DefaultInboxCapacity = 16
	DefaultYieldBudget   = 7 * time.Second
	DefaultGraceTicks    = 10 * DefaultTickRate
	DefaultStartupFile   = "startup.star"
	romStartupFile       = "rom/startup.star"
	outputLines          = 64
)

// CommandRunner executes host commands for command computers. It is called
// on the host loop.
type CommandRunner interface {
	RunCommand(ctx context.Context, computerID int, command string) (bool, []string, error)
}

// Options configures an Executor.
type Options struct {
	ID     int
	Family Family
	Label  string

	// Mount is the computer's own save directory, bound at the root.
	Mount vfs.WritableMount
	// ROM, if set, is bound read-only at "rom".
	ROM vfs.Mount

	QueueCapacity int
	InboxCapacity int
	// YieldBudget is how long the program may run without yielding.
	YieldBudget time.Duration
	// GraceTicks is how long a stopping program has to exit before it is
	// terminated.
	GraceTicks int
	TickRate   int
	MaxSteps   uint64

	Bridge   *task.Bridge
	Network  *wired.Network
	Node     string
	Commands CommandRunner
	Metrics  *metrics.Metrics

	// OnStateChange is called with the executor locked; it must not call
	// back into the executor.
	OnStateChange func(from, to State)
}

type worker struct {
	rt     *script.Runtime
	inbox  chan event.Event
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	overrun bool
}

func (w *worker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Executor is the live driver of one computer.
type Executor struct {
	opts   Options
	owner  string
	fs     *vfs.FileSystem
	queue  *event.Queue
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	label         string
	lastErr       error
	worker        *worker
	rebootPending bool
	grace         int
	ticks         uint64
	keepAlive     int
	timers        map[int]int
	nextTimer     int
	peripherals   map[string]peripheral.Peripheral
	output        []string
	dirty         bool
}

// New builds a stopped executor and, when a network node is configured,
// attaches it so it sees the node's peripherals.
func New(ctx context.Context, opts Options) (*Executor, error) {
	if opts.Mount == nil {
		return nil, fmt.Errorf("computer %d has no storage mount", opts.ID)
	}
	if opts.TickRate <= 0 {
		opts.TickRate = DefaultTickRate
	}
	if opts.InboxCapacity <= 0 {
		opts.InboxCapacity = DefaultInboxCapacity
	}
	if opts.YieldBudget <= 0 {
		opts.YieldBudget = DefaultYieldBudget
	}
	if opts.GraceTicks <= 0 {
		opts.GraceTicks = DefaultGraceTicks
	}

	fs := vfs.NewFileSystem(opts.Mount)
	if opts.ROM != nil {
		if err := fs.Mount("rom", vfs.ReadOnly(opts.ROM)); err != nil {
			return nil, fmt.Errorf("mounting rom: %w", err)
		}
	}

	e := &Executor{
		opts:        opts,
		owner:       fmt.Sprintf("computer-%d", opts.ID),
		fs:          fs,
		queue:       event.NewQueue(opts.QueueCapacity),
		logger:      ctxlog.FromContext(ctx).With("computer_id", opts.ID),
		label:       opts.Label,
		timers:      make(map[int]int),
		peripherals: make(map[string]peripheral.Peripheral),
	}
	if opts.Network != nil && opts.Node != "" {
		if err := opts.Network.Attach(opts.Node, e); err != nil {
			return nil, fmt.Errorf("attaching computer %d to node %q: %w", opts.ID, opts.Node, err)
		}
	}
	return e, nil
}

// ID returns the persistent computer id.
func (e *Executor) ID() int { return e.opts.ID }

func (e *Executor) Family() Family { return e.opts.Family }

// FileSystem returns the computer's composite filesystem.
func (e *Executor) FileSystem() *vfs.FileSystem { return e.fs }

func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Executor) Label() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.label
}

func (e *Executor) SetLabel(label string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.label != label {
		e.label = label
		e.dirty = true
	}
}

// LastError returns the error that last stopped the computer, if any.
func (e *Executor) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Clock returns the seconds of simulated time since the computer started.
func (e *Executor) Clock() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return float64(e.ticks) / float64(e.opts.TickRate)
}

func (e *Executor) setStateLocked(to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	e.dirty = true
	e.opts.Metrics.StateTransition(from.String(), to.String())
	if e.opts.OnStateChange != nil {
		e.opts.OnStateChange(from, to)
	}
}

// Start boots the computer. It is only valid while the computer is off.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateOff {
		return fmt.Errorf("%w: cannot start while %s", ErrInvalidState, e.state)
	}
	e.startLocked(ctx)
	return nil
}

func (e *Executor) startLocked(ctx context.Context) {
	e.setStateLocked(StateStarting)
	e.queue.Clear()
	e.timers = make(map[int]int)
	e.ticks = 0
	e.lastErr = nil
	e.rebootPending = false

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &worker{
		inbox:  make(chan event.Event, e.opts.InboxCapacity),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	w.rt = script.New(&host{e: e, w: w}, script.Options{
		Colour:   e.opts.Family.Colour(),
		Commands: e.opts.Family == FamilyCommand,
		MaxSteps: e.opts.MaxSteps,
	})
	e.worker = w

	e.logger.Info("🟢 Computer starting.", "family", e.opts.Family)
	go e.run(wctx, w)
}

func (e *Executor) run(ctx context.Context, w *worker) {
	defer close(w.done)
	defer w.cancel()
	defer func() {
		if r := recover(); r != nil {
			w.err = fmt.Errorf("%w: panic: %v", ErrScriptFatal, r)
		}
	}()

	prog, err := e.boot(w.rt)
	if err != nil {
		w.err = fmt.Errorf("%w: %w", ErrBootFailure, err)
		return
	}

	e.mu.Lock()
	if e.worker == w && e.state == StateStarting {
		e.setStateLocked(StateOn)
	}
	e.mu.Unlock()

	err = w.rt.Run(ctx, prog)
	switch {
	case err == nil, errors.Is(err, script.ErrTerminated):
	case errors.Is(err, script.ErrTooLongWithoutYielding):
		w.err = ErrTooLongWithoutYielding
	default:
		w.err = fmt.Errorf("%w: %w", ErrScriptFatal, err)
	}
}

// boot reads and compiles the startup program, preferring the computer's own
// file over the ROM's.
func (e *Executor) boot(rt *script.Runtime) (*script.Program, error) {
	for _, name := range []string{DefaultStartupFile, romStartupFile} {
		ok, err := e.fs.Exists(name)
		if err != nil || !ok {
			continue
		}
		src, err := e.fs.ReadFile(name)
		if err != nil {
			return nil, err
		}
		return rt.Compile(name, src)
	}
	return nil, errors.New("no startup program found")
}

// Shutdown asks the program to stop. It queues the shutdown event and
// terminates the worker if it has not exited within the grace period.
func (e *Executor) Shutdown(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rebootPending = false
	e.shutdownLocked(ctx)
}

func (e *Executor) shutdownLocked(ctx context.Context) {
	if e.state != StateStarting && e.state != StateOn {
		return
	}
	e.setStateLocked(StateStopping)
	e.grace = e.opts.GraceTicks
	if e.queue.PushSystem(event.Event{Name: event.Shutdown}) {
		e.opts.Metrics.EventDropped()
	}
	ctxlog.FromContext(ctx).Info("Computer shutting down.", "computer_id", e.opts.ID)
}

// Reboot stops the computer and starts it again as soon as the worker has
// exited. A computer that is off starts immediately.
func (e *Executor) Reboot(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateOff {
		e.startLocked(ctx)
		return
	}
	e.rebootPending = true
	e.shutdownLocked(ctx)
}

// halt is requested by the program itself, which exits right after.
func (e *Executor) halt(reboot bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rebootPending = reboot
	if e.state == StateStarting || e.state == StateOn {
		e.setStateLocked(StateStopping)
		e.grace = e.opts.GraceTicks
	}
}

// QueueEvent appends an event for the program. Events sent to a computer
// that is off are dropped, as are events arriving at a full queue.
func (e *Executor) QueueEvent(name string, args ...cty.Value) {
	e.mu.Lock()
	off := e.state == StateOff
	e.mu.Unlock()
	if off {
		return
	}
	if err := e.queue.Push(event.Event{Name: name, Args: args}); err != nil {
		e.opts.Metrics.EventDropped()
		e.logger.Debug("Dropping event, queue is full.", "event", name, "capacity", e.queue.Cap())
	}
}

// Tick advances the computer by one host tick and reports whether its
// observable state changed since the previous tick.
func (e *Executor) Tick(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if w := e.worker; w != nil && w.exited() {
		e.finishLocked(ctx, w)
		if e.rebootPending {
			e.startLocked(ctx)
		}
	}

	if w := e.worker; w != nil {
		e.ticks++
		e.fireTimersLocked()
		e.pumpLocked(w)

		if w.rt.Watchdog(e.opts.YieldBudget) && !w.overrun {
			w.overrun = true
			ctxlog.FromContext(ctx).Warn("Computer ran too long without yielding, stopping it.",
				"computer_id", e.opts.ID, "budget", e.opts.YieldBudget)
		}

		if e.state == StateStopping {
			e.grace--
			if e.grace == 0 {
				ctxlog.FromContext(ctx).Warn("Computer did not stop in time, terminating.", "computer_id", e.opts.ID)
				w.cancel()
			}
		}
	}

	e.keepAlive++
	changed := e.dirty
	e.dirty = false
	return changed
}

func (e *Executor) finishLocked(ctx context.Context, w *worker) {
	logger := ctxlog.FromContext(ctx).With("computer_id", e.opts.ID)

	e.worker = nil
	if e.opts.Bridge != nil {
		if n := e.opts.Bridge.CancelOwner(e.owner); n > 0 {
			logger.Debug("Cancelled pending main thread tasks.", "count", n)
		}
	}
	e.lastErr = w.err
	e.timers = make(map[int]int)
	e.queue.Clear()
	e.setStateLocked(StateOff)

	switch {
	case w.err == nil:
		logger.Info("🔴 Computer stopped.")
	case errors.Is(w.err, ErrBootFailure):
		e.opts.Metrics.Failure("boot_failure")
		e.appendOutputLocked(w.err.Error())
		logger.Warn("Computer failed to boot.", "error", w.err)
	default:
		e.opts.Metrics.Failure("script_fatal")
		e.appendOutputLocked(w.err.Error())
		logger.Error("Computer crashed.", "error", w.err)
	}
}

// fireTimersLocked queues a timer event for every timer that expires on this
// tick, in id order.
func (e *Executor) fireTimersLocked() {
	var fired []int
	for id, left := range e.timers {
		left--
		if left <= 0 {
			fired = append(fired, id)
			continue
		}
		e.timers[id] = left
	}
	sort.Ints(fired)
	for _, id := range fired {
		delete(e.timers, id)
		if err := e.queue.Push(event.Event{Name: event.Timer, Args: []cty.Value{cty.NumberIntVal(int64(id))}}); err != nil {
			e.opts.Metrics.EventDropped()
		}
	}
}

// pumpLocked moves at most the events buffered at the start of the tick into
// the worker's inbox, stopping early if the inbox is full.
func (e *Executor) pumpLocked(w *worker) {
	for n := e.queue.Len(); n > 0 && len(w.inbox) < cap(w.inbox); n-- {
		ev, ok := e.queue.Pop()
		if !ok {
			return
		}
		w.inbox <- ev
	}
}

// maxTimerTicks caps how far ahead a timer can be set.
const maxTimerTicks = math.MaxInt32

// timerTicks converts a duration to ticks. Negative and NaN durations fire on
// the next tick; huge ones are capped.
func timerTicks(seconds float64, rate int) int {
	t := math.Round(seconds * float64(rate))
	switch {
	case math.IsNaN(t), t < 0:
		return 0
	case t > maxTimerTicks:
		return maxTimerTicks
	}
	return int(t)
}

func (e *Executor) startTimer(seconds float64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextTimer
	e.nextTimer++
	e.timers[id] = timerTicks(seconds, e.opts.TickRate)
	return id
}

func (e *Executor) cancelTimer(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.timers, id)
}

// KeepAlive resets the idle counter checked by TimedOut.
func (e *Executor) KeepAlive() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keepAlive = 0
}

// TimedOut reports whether more than limit ticks passed since the last
// KeepAlive. A non-positive limit never times out.
func (e *Executor) TimedOut(limit int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return limit > 0 && e.keepAlive > limit
}

// Unload stops the worker without a grace period and detaches the computer
// from the network. The computer's storage is left intact.
func (e *Executor) Unload(ctx context.Context) error {
	if e.opts.Network != nil && e.opts.Node != "" {
		e.opts.Network.Detach(e.opts.Node, e)
	}

	e.mu.Lock()
	w := e.worker
	e.rebootPending = false
	if w != nil {
		w.cancel()
	}
	e.mu.Unlock()
	if w == nil {
		return nil
	}

	select {
	case <-w.done:
	case <-ctx.Done():
		return fmt.Errorf("unloading computer %d: %w", e.opts.ID, ctx.Err())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.worker == w {
		e.finishLocked(ctx, w)
	}
	return nil
}

// Output returns the lines printed by the program, oldest first.
func (e *Executor) Output() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.output...)
}

func (e *Executor) appendOutputLocked(line string) {
	e.output = append(e.output, line)
	if over := len(e.output) - outputLines; over > 0 {
		e.output = append(e.output[:0:0], e.output[over:]...)
	}
}

func (e *Executor) print(line string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendOutputLocked(line)
}

// Snapshot is the externally visible state of a computer.
type Snapshot struct {
	ID        int      `json:"id"`
	Family    string   `json:"family"`
	Label     string   `json:"label"`
	State     string   `json:"state"`
	Clock     float64  `json:"clock"`
	LastError string   `json:"last_error,omitempty"`
	Output    []string `json:"output,omitempty"`
}

func (e *Executor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		ID:     e.opts.ID,
		Family: e.opts.Family.String(),
		Label:  e.label,
		State:  e.state.String(),
		Clock:  float64(e.ticks) / float64(e.opts.TickRate),
		Output: append([]string(nil), e.output...),
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}
