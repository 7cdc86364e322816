package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/computergrid/internal/event"
	"github.com/vk/computergrid/internal/peripheral"
	"github.com/vk/computergrid/internal/vfs"
	"github.com/zclconf/go-cty/cty"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

var (
	// ErrCompile reports a program that failed to parse or resolve.
	ErrCompile = errors.New("script does not compile")
	// ErrTooLongWithoutYielding reports a program stopped by the watchdog.
	ErrTooLongWithoutYielding = errors.New("too long without yielding")
	// ErrTerminated reports a program stopped because its context ended.
	ErrTerminated = errors.New("script terminated")

	errHalt = errors.New("computer is halting")
)

// fileOptions enables the Starlark dialect programs are written in: top
// level loops and reassignable globals, as an event loop needs.
var fileOptions = &syntax.FileOptions{
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Set:             true,
}

// Host is everything a running program can reach outside the interpreter.
type Host interface {
	ComputerID() int
	Label() string
	SetLabel(label string)
	FileSystem() *vfs.FileSystem
	// NextEvent blocks until the computer's next event is delivered.
	NextEvent(ctx context.Context) (event.Event, error)
	QueueEvent(name string, args ...cty.Value)
	StartTimer(seconds float64) int
	CancelTimer(id int)
	// Clock returns seconds of simulated time since the computer started.
	Clock() float64
	Shutdown()
	Reboot()
	Peripherals() map[string]peripheral.Peripheral
	// CallPeripheral invokes a method, routing it through the main loop when
	// the method requires it.
	CallPeripheral(ctx context.Context, name, method string, args []cty.Value) ([]cty.Value, error)
	// RunCommand executes a host command on the main loop.
	RunCommand(ctx context.Context, command string) (bool, []string, error)
	Print(line string)
}

// Options configures a Runtime.
type Options struct {
	// Colour reports whether term.isColour is true.
	Colour bool
	// Commands exposes the commands module.
	Commands bool
	// MaxSteps caps the Starlark execution steps of one run. Zero means no
	// cap.
	MaxSteps uint64
}

// Runtime runs one program at a time on behalf of a Host.
type Runtime struct {
	host Host
	opts Options

	predeclared starlark.StringDict

	thread     atomic.Pointer[starlark.Thread]
	running    atomic.Bool
	yielding   atomic.Bool
	lastResume atomic.Int64
	overrun    atomic.Bool

	ctx context.Context

	loadMu  sync.Mutex
	modules map[string]*loadEntry
}

type loadEntry struct {
	globals starlark.StringDict
	err     error
}

// New creates a runtime bound to host.
func New(host Host, opts Options) *Runtime {
	r := &Runtime{host: host, opts: opts, modules: make(map[string]*loadEntry)}
	r.predeclared = r.modulesFor()
	return r
}

// Program is a compiled script.
type Program struct {
	prog *starlark.Program
}

// Compile parses and resolves src.
func (r *Runtime) Compile(filename string, src []byte) (*Program, error) {
	_, prog, err := starlark.SourceProgramOptions(fileOptions, filename, src, r.predeclared.Has)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	return &Program{prog: prog}, nil
}

// Run executes prog until it finishes, halts the computer, is cancelled by
// ctx or overruns its yield budget. Normal completion and a halt requested
// by the program both return nil.
func (r *Runtime) Run(ctx context.Context, prog *Program) error {
	thread := &starlark.Thread{
		Name:  fmt.Sprintf("computer-%d", r.host.ComputerID()),
		Print: func(_ *starlark.Thread, msg string) { r.host.Print(msg) },
		Load:  r.load,
	}
	if r.opts.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(r.opts.MaxSteps)
	}
	r.ctx = ctx
	r.overrun.Store(false)
	r.lastResume.Store(time.Now().UnixNano())
	r.thread.Store(thread)
	r.running.Store(true)
	defer r.running.Store(false)

	stop := context.AfterFunc(ctx, func() { thread.Cancel("computer stopped") })
	defer stop()

	_, err := prog.prog.Init(thread, r.predeclared)
	return r.classify(ctx, err)
}

func (r *Runtime) classify(ctx context.Context, err error) error {
	switch {
	case err == nil, errors.Is(err, errHalt):
		return nil
	case r.overrun.Load():
		return ErrTooLongWithoutYielding
	case ctx.Err() != nil:
		return ErrTerminated
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return fmt.Errorf("%s", evalErr.Backtrace())
	}
	return err
}

// Watchdog cancels the running program if it has gone longer than budget
// without reaching a yield point. It is safe to call from any goroutine and
// reports whether the program was cancelled.
func (r *Runtime) Watchdog(budget time.Duration) bool {
	if budget <= 0 || !r.running.Load() || r.yielding.Load() {
		return false
	}
	if time.Since(time.Unix(0, r.lastResume.Load())) <= budget {
		return false
	}
	if r.overrun.CompareAndSwap(false, true) {
		if t := r.thread.Load(); t != nil {
			t.Cancel(ErrTooLongWithoutYielding.Error())
		}
	}
	return true
}

// yield runs a blocking host call outside the watchdog's measurement.
func (r *Runtime) yield(fn func() error) error {
	r.yielding.Store(true)
	defer func() {
		r.lastResume.Store(time.Now().UnixNano())
		r.yielding.Store(false)
	}()
	return fn()
}

// load resolves load("path", ...) statements against the computer's
// filesystem. Each module is executed once per runtime.
func (r *Runtime) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	r.loadMu.Lock()
	if e, ok := r.modules[module]; ok {
		r.loadMu.Unlock()
		if e == nil {
			return nil, fmt.Errorf("cycle in load graph")
		}
		return e.globals, e.err
	}
	r.modules[module] = nil
	r.loadMu.Unlock()

	globals, err := r.execModule(thread, module)

	r.loadMu.Lock()
	r.modules[module] = &loadEntry{globals: globals, err: err}
	r.loadMu.Unlock()
	return globals, err
}

func (r *Runtime) execModule(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	src, err := r.host.FileSystem().ReadFile(module)
	if err != nil {
		return nil, err
	}
	_, prog, err := starlark.SourceProgramOptions(fileOptions, module, src, r.predeclared.Has)
	if err != nil {
		return nil, err
	}
	// The module runs on the caller's thread so cancellation, the watchdog
	// and the step limit cover it too.
	globals, err := prog.Init(thread, r.predeclared)
	if err != nil {
		return nil, err
	}
	globals.Freeze()
	return globals, nil
}
