package script

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/computergrid/internal/event"
	"github.com/vk/computergrid/internal/peripheral"
	"github.com/vk/computergrid/internal/storage"
	"github.com/vk/computergrid/internal/vfs"
	"github.com/zclconf/go-cty/cty"
)

type fakeHost struct {
	fs     *vfs.FileSystem
	events chan event.Event

	mu       sync.Mutex
	label    string
	printed  []string
	queued   []event.Event
	timers   int
	shutdown bool
	rebooted bool
	perips   map[string]peripheral.Peripheral
	callErr  error
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	m, err := vfs.NewStoreMount(storage.NewMemoryStore(), "c/", vfs.NewQuota(1000))
	require.NoError(t, err)
	return &fakeHost{
		fs:     vfs.NewFileSystem(m),
		events: make(chan event.Event, 16),
		perips: map[string]peripheral.Peripheral{},
	}
}

func (h *fakeHost) ComputerID() int { return 5 }
func (h *fakeHost) Label() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.label
}
func (h *fakeHost) SetLabel(l string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.label = l
}
func (h *fakeHost) FileSystem() *vfs.FileSystem { return h.fs }
func (h *fakeHost) NextEvent(ctx context.Context) (event.Event, error) {
	select {
	case e := <-h.events:
		return e, nil
	case <-ctx.Done():
		return event.Event{}, ctx.Err()
	}
}
func (h *fakeHost) QueueEvent(name string, args ...cty.Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queued = append(h.queued, event.Event{Name: name, Args: args})
}
func (h *fakeHost) StartTimer(float64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timers++
	return h.timers
}
func (h *fakeHost) CancelTimer(int) {}
func (h *fakeHost) Clock() float64  { return 1.5 }
func (h *fakeHost) Shutdown()       { h.shutdown = true }
func (h *fakeHost) Reboot()         { h.rebooted = true }
func (h *fakeHost) Print(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.printed = append(h.printed, msg)
}
func (h *fakeHost) Peripherals() map[string]peripheral.Peripheral {
	return h.perips
}
func (h *fakeHost) CallPeripheral(ctx context.Context, name, method string, args []cty.Value) ([]cty.Value, error) {
	if h.callErr != nil {
		return nil, h.callErr
	}
	return []cty.Value{cty.StringVal(name + "." + method), cty.NumberIntVal(int64(len(args)))}, nil
}
func (h *fakeHost) RunCommand(ctx context.Context, command string) (bool, []string, error) {
	return true, []string{"ran " + command}, nil
}

func run(t *testing.T, h *fakeHost, opts Options, src string) error {
	t.Helper()
	r := New(h, opts)
	prog, err := r.Compile("startup.star", []byte(src))
	require.NoError(t, err)
	return r.Run(context.Background(), prog)
}

func TestRuntime_ReadsEventVerbatim(t *testing.T) {
	h := newFakeHost(t)
	e, err := event.New("key", 65, false)
	require.NoError(t, err)
	h.events <- event.Event{Name: "char", Args: []cty.Value{cty.StringVal("a")}}
	h.events <- e

	err = run(t, h, Options{}, `
ev = os.pullEvent("key")
fs.write("out.txt", str(ev))
print(os.getComputerID())
`)
	require.NoError(t, err)

	data, err := h.fs.ReadFile("out.txt")
	require.NoError(t, err)
	assert.Equal(t, `("key", 65, False)`, string(data))
	assert.Equal(t, []string{"5"}, h.printed)
}

func TestRuntime_ShutdownBypassesFilter(t *testing.T) {
	h := newFakeHost(t)
	h.events <- event.Event{Name: event.Shutdown}

	err := run(t, h, Options{}, `
ev = os.pullEvent("key")
print(ev[0])
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"shutdown"}, h.printed)
}

func TestRuntime_WatchdogStopsBusyLoop(t *testing.T) {
	h := newFakeHost(t)
	r := New(h, Options{})
	prog, err := r.Compile("startup.star", []byte("while True:\n    pass\n"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), prog) }()

	require.Eventually(t, func() bool { return r.Watchdog(20 * time.Millisecond) }, 2*time.Second, 5*time.Millisecond)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTooLongWithoutYielding)
	case <-time.After(2 * time.Second):
		t.Fatal("busy loop was not cancelled")
	}
	assert.False(t, r.running.Load())
}

func TestRuntime_WatchdogStopsLoadedBusyLoop(t *testing.T) {
	h := newFakeHost(t)
	require.NoError(t, h.fs.WriteFile("loop.star", []byte("x = 0\nwhile True:\n    x = 1\n"), false))
	r := New(h, Options{})
	prog, err := r.Compile("startup.star", []byte(`load("loop.star", "x")`+"\n"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), prog) }()

	require.Eventually(t, func() bool { return r.Watchdog(20 * time.Millisecond) }, 2*time.Second, 5*time.Millisecond)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTooLongWithoutYielding)
	case <-time.After(2 * time.Second):
		t.Fatal("loaded busy loop was not cancelled")
	}
}

func TestRuntime_CancelStopsLoadedBusyLoop(t *testing.T) {
	h := newFakeHost(t)
	require.NoError(t, h.fs.WriteFile("loop.star", []byte("x = 0\nwhile True:\n    x = 1\n"), false))
	r := New(h, Options{})
	prog, err := r.Compile("startup.star", []byte(`load("loop.star", "x")`+"\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, prog) }()

	require.Eventually(t, r.running.Load, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTerminated)
	case <-time.After(2 * time.Second):
		t.Fatal("loaded busy loop ignored cancellation")
	}
}

func TestRuntime_WatchdogIgnoresYieldedProgram(t *testing.T) {
	h := newFakeHost(t)
	r := New(h, Options{})
	prog, err := r.Compile("startup.star", []byte("os.pullEvent()\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, prog) }()

	require.Eventually(t, r.running.Load, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.False(t, r.Watchdog(time.Millisecond), "blocked in pullEvent is a yield")

	cancel()
	assert.ErrorIs(t, <-done, ErrTerminated)
}

func TestRuntime_ShutdownAndReboot(t *testing.T) {
	h := newFakeHost(t)
	require.NoError(t, run(t, h, Options{}, "os.shutdown()\nprint('unreachable')\n"))
	assert.True(t, h.shutdown)
	assert.Empty(t, h.printed)

	require.NoError(t, run(t, h, Options{}, "os.reboot()\n"))
	assert.True(t, h.rebooted)
}

func TestRuntime_CompileAndRuntimeErrors(t *testing.T) {
	h := newFakeHost(t)
	r := New(h, Options{})
	_, err := r.Compile("startup.star", []byte("def broken(:\n"))
	assert.ErrorIs(t, err, ErrCompile)

	_, err = r.Compile("startup.star", []byte("commands.exec('x')\n"))
	assert.ErrorIs(t, err, ErrCompile, "commands is only predeclared on command computers")

	err = run(t, h, Options{}, "a = 0\nx = 1 // a\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")
}

func TestRuntime_FilesystemErrorReturns(t *testing.T) {
	h := newFakeHost(t)
	require.NoError(t, h.fs.Mount("rom", vfs.ReadOnly(vfs.EmptyMount{})))

	err := run(t, h, Options{}, `
print(fs.write("rom/x", "data"))
print(fs.write("notes/a.txt", "hello"))
print(fs.append("notes/a.txt", "!"))
print(fs.read("notes/a.txt"))
print(fs.read("missing"))
print(fs.list("notes"))
print(fs.getSize("notes/a.txt"))
print(fs.move("notes/a.txt", "notes/b.txt"))
print(fs.exists("notes/a.txt"), fs.exists("notes/b.txt"))
print(fs.getFreeSpace(""))
`)
	require.NoError(t, err)
	require.Len(t, h.printed, 10)
	assert.Contains(t, h.printed[0], "access denied")
	assert.Equal(t, []string{
		"None", "None", "hello!", "None", `["a.txt"]`, "6", "None", "False True", "994",
	}, h.printed[1:])
}

func TestRuntime_PeripheralCalls(t *testing.T) {
	h := newFakeHost(t)
	h.perips["monitor_0"] = peripheral.NewMonitor(5, 2)

	err := run(t, h, Options{}, `
print(peripheral.getNames())
print(peripheral.isPresent("monitor_0"), peripheral.isPresent("nope"))
print(peripheral.getType("monitor_0"))
print(peripheral.call("monitor_0", "write", "hi"))
print(peripheral.pcall("monitor_0", "getSize"))
`)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`["monitor_0"]`,
		"True False",
		"monitor",
		`("monitor_0.write", 1)`,
		`(True, "monitor_0.getSize", 0)`,
	}, h.printed)

	h.printed = nil
	h.callErr = errors.New("main thread task timed out")
	err = run(t, h, Options{}, `print(peripheral.pcall("monitor_0", "write", "x"))`)
	require.NoError(t, err)
	assert.Equal(t, []string{`(False, "main thread task timed out")`}, h.printed)
}

func TestRuntime_QueueEventAndTimers(t *testing.T) {
	h := newFakeHost(t)
	h.events <- event.Event{Name: event.Timer, Args: []cty.Value{cty.NumberIntVal(1)}}

	err := run(t, h, Options{Colour: true}, `
os.queueEvent("ping", 1, "two", [3, None], {"k": True})
os.sleep(0.5)
os.setComputerLabel("base")
print(os.getComputerLabel(), os.clock(), term.isColour())
`)
	require.NoError(t, err)
	require.Len(t, h.queued, 1)
	assert.Equal(t, `ping(1, "two", [3, null], {k=true})`, h.queued[0].String())
	assert.Equal(t, []string{"base 1.5 True"}, h.printed)
}

func TestRuntime_RejectsNaN(t *testing.T) {
	testCases := []struct {
		name string
		src  string
		want string
	}{
		{"event argument", `os.queueEvent("x", float("nan"))`, "cannot pass NaN outside the script"},
		{"timer", `os.startTimer(float("nan"))`, "got nan"},
		{"sleep", `os.sleep(float("nan"))`, "got nan"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newFakeHost(t)
			err := run(t, h, Options{}, tc.src)
			assert.ErrorContains(t, err, tc.want)
			assert.Empty(t, h.queued)
		})
	}
}

func TestRuntime_LoadFromFilesystem(t *testing.T) {
	h := newFakeHost(t)
	require.NoError(t, h.fs.WriteFile("lib/util.star", []byte("def double(x):\n    return x * 2\n"), false))

	err := run(t, h, Options{}, `
load("lib/util.star", "double")
print(double(21))
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, h.printed)
}

func TestRuntime_Commands(t *testing.T) {
	h := newFakeHost(t)
	err := run(t, h, Options{Commands: true}, `print(commands.exec("time"))`)
	require.NoError(t, err)
	assert.Equal(t, []string{`(True, ["ran time"])`}, h.printed)
}
