package computer

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/computergrid/internal/peripheral"
	"github.com/vk/computergrid/internal/storage"
	"github.com/vk/computergrid/internal/task"
	"github.com/vk/computergrid/internal/testutil"
	"github.com/vk/computergrid/internal/vfs"
	"github.com/vk/computergrid/internal/wired"
	"github.com/zclconf/go-cty/cty"
)

type transitions struct {
	mu   sync.Mutex
	seen [][2]State
}

func (tr *transitions) record(from, to State) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.seen = append(tr.seen, [2]State{from, to})
}

func (tr *transitions) list() [][2]State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([][2]State(nil), tr.seen...)
}

func newExecutor(t *testing.T, ctx context.Context, opts Options, startup string) *Executor {
	t.Helper()
	if opts.Mount == nil {
		m, err := vfs.NewStoreMount(storage.NewMemoryStore(), "computer/", vfs.NewQuota(10_000))
		require.NoError(t, err)
		opts.Mount = m
	}
	if startup != "" {
		require.NoError(t, vfs.NewFileSystem(opts.Mount).WriteFile(DefaultStartupFile, []byte(startup), false))
	}
	e, err := New(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Unload(ctx) })
	return e
}

// tickUntil ticks the executor (and the bridge, if any) until cond holds.
func tickUntil(t *testing.T, ctx context.Context, e *Executor, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		e.Tick(ctx)
		if e.opts.Bridge != nil {
			e.opts.Bridge.Drain(ctx)
		}
		return cond()
	}, 3*time.Second, 2*time.Millisecond)
}

func fileContains(e *Executor, name, want string) func() bool {
	return func() bool {
		data, err := e.FileSystem().ReadFile(name)
		return err == nil && string(data) == want
	}
}

func stateIs(e *Executor, s State) func() bool {
	return func() bool { return e.State() == s }
}

func TestExecutor_BootsAndReadsEventVerbatim(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	tr := &transitions{}
	e := newExecutor(t, ctx, Options{ID: 5, Family: FamilyAdvanced, OnStateChange: tr.record}, `
ev = os.pullEvent("key")
fs.write("out.txt", str(ev))
fs.write("meta.txt", "%d %s" % (os.getComputerID(), term.isColour()))
`)
	require.Equal(t, StateOff, e.State())

	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, stateIs(e, StateOn))

	e.QueueEvent("key", cty.NumberIntVal(65), cty.False)
	tickUntil(t, ctx, e, fileContains(e, "out.txt", `("key", 65, False)`))
	tickUntil(t, ctx, e, stateIs(e, StateOff))

	assert.True(t, fileContains(e, "meta.txt", "5 True")())
	assert.NoError(t, e.LastError())
	assert.Equal(t, [][2]State{
		{StateOff, StateStarting},
		{StateStarting, StateOn},
		{StateOn, StateOff},
	}, tr.list())
}

func TestExecutor_StartOnlyFromOff(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	e := newExecutor(t, ctx, Options{ID: 1}, `os.pullEvent("never")`)

	require.NoError(t, e.Start(ctx))
	assert.ErrorIs(t, e.Start(ctx), ErrInvalidState)
}

func TestExecutor_QueueEvent(t *testing.T) {
	ctx, logs := testutil.NewContext(t)
	e := newExecutor(t, ctx, Options{ID: 1, QueueCapacity: 2}, `os.pullEvent("never")`)

	t.Run("dropped while off", func(t *testing.T) {
		e.QueueEvent("key", cty.NumberIntVal(1))
		assert.Equal(t, 0, e.queue.Len())
	})

	t.Run("overflow drops the incoming event", func(t *testing.T) {
		require.NoError(t, e.Start(ctx))
		e.QueueEvent("a")
		e.QueueEvent("b")
		e.QueueEvent("c")
		assert.Equal(t, 2, e.queue.Len())
		assert.Equal(t, uint64(1), e.queue.Dropped())

		first, _ := e.queue.Pop()
		assert.Equal(t, "a", first.Name)
		testutil.AssertLogged(t, logs, "Dropping event, queue is full.", "event=c")
	})
}

func TestExecutor_Timers(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	e := newExecutor(t, ctx, Options{ID: 2}, `
id = os.startTimer(0.1)
ev = os.pullEvent("timer")
fs.write("timer.txt", "%s %s" % (ev[1] == id, os.clock() >= 0.1))
`)
	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, fileContains(e, "timer.txt", "True True"))
}

func TestExecutor_CancelledTimerNeverFires(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	e := newExecutor(t, ctx, Options{ID: 2}, `
a = os.startTimer(0.2)
os.cancelTimer(a)
b = os.startTimer(0.4)
ev = os.pullEvent("timer")
fs.write("timer.txt", str(ev[1] == b))
`)
	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, fileContains(e, "timer.txt", "True"))
}

func TestExecutor_FatalErrorTurnsOff(t *testing.T) {
	ctx, logs := testutil.NewContext(t)
	e := newExecutor(t, ctx, Options{ID: 3}, "a = 0\nx = 1 // a\n")

	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, stateIs(e, StateOff))

	err := e.LastError()
	require.ErrorIs(t, err, ErrScriptFatal)
	assert.Contains(t, err.Error(), "division by zero")
	assert.Contains(t, e.Snapshot().LastError, "division by zero")
	require.NotEmpty(t, e.Output())
	assert.Contains(t, e.Output()[len(e.Output())-1], "division by zero")
	testutil.AssertLogged(t, logs, "Computer crashed.")
}

func TestExecutor_BootFailure(t *testing.T) {
	testCases := []struct {
		name    string
		startup string
		want    string
	}{
		{"missing startup", "", "no startup program"},
		{"does not compile", "def broken(:\n", "does not compile"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, logs := testutil.NewContext(t)
			e := newExecutor(t, ctx, Options{ID: 4}, tc.startup)

			require.NoError(t, e.Start(ctx))
			tickUntil(t, ctx, e, stateIs(e, StateOff))

			err := e.LastError()
			require.ErrorIs(t, err, ErrBootFailure)
			assert.Contains(t, err.Error(), tc.want)
			testutil.AssertLogged(t, logs, "Computer failed to boot.")
		})
	}
}

func TestExecutor_StartupFallsBackToROM(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	rom, err := vfs.NewStoreMount(storage.NewMemoryStore(), "rom/", vfs.NewQuota(1000))
	require.NoError(t, err)
	require.NoError(t, vfs.NewFileSystem(rom).WriteFile("startup.star", []byte(`fs.write("booted", "rom")`), false))

	e := newExecutor(t, ctx, Options{ID: 6, ROM: rom}, "")
	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, fileContains(e, "booted", "rom"))

	assert.ErrorIs(t, e.FileSystem().WriteFile("rom/x", []byte("no"), false), vfs.ErrReadOnly)
}

func TestExecutor_WatchdogStopsRunaway(t *testing.T) {
	ctx, logs := testutil.NewContext(t)
	e := newExecutor(t, ctx, Options{ID: 7, YieldBudget: 20 * time.Millisecond}, "while True:\n    pass\n")

	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, stateIs(e, StateOff))

	err := e.LastError()
	assert.ErrorIs(t, err, ErrTooLongWithoutYielding)
	assert.ErrorIs(t, err, ErrScriptFatal)
	testutil.AssertLogged(t, logs, "Computer ran too long without yielding, stopping it.")
}

func TestExecutor_WatchdogStopsRunawayInLoadedModule(t *testing.T) {
	ctx, logs := testutil.NewContext(t)
	e := newExecutor(t, ctx, Options{ID: 9, YieldBudget: 20 * time.Millisecond}, `load("loop.star", "x")`+"\n")
	require.NoError(t, e.FileSystem().WriteFile("loop.star", []byte("x = 0\nwhile True:\n    x = 1\n"), false))

	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, stateIs(e, StateOff))

	assert.ErrorIs(t, e.LastError(), ErrTooLongWithoutYielding)
	testutil.AssertLogged(t, logs, "Computer ran too long without yielding, stopping it.")
}

func TestExecutor_ShutdownTerminatesLoadedModule(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	e := newExecutor(t, ctx, Options{ID: 9, YieldBudget: time.Hour, GraceTicks: 5}, `load("loop.star", "x")`+"\n")
	require.NoError(t, e.FileSystem().WriteFile("loop.star", []byte("x = 0\nwhile True:\n    x = 1\n"), false))

	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, stateIs(e, StateOn))
	e.Shutdown(ctx)
	tickUntil(t, ctx, e, stateIs(e, StateOff))

	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, stateIs(e, StateOn))
	unloadCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	assert.NoError(t, e.Unload(unloadCtx))
}

func TestExecutor_GracefulShutdown(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	tr := &transitions{}
	e := newExecutor(t, ctx, Options{ID: 8, OnStateChange: tr.record}, `
while True:
    ev = os.pullEvent()
    if ev[0] == "shutdown":
        fs.write("bye.txt", "bye")
        break
`)
	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, stateIs(e, StateOn))

	e.Shutdown(ctx)
	assert.Equal(t, StateStopping, e.State())
	tickUntil(t, ctx, e, stateIs(e, StateOff))

	assert.True(t, fileContains(e, "bye.txt", "bye")())
	assert.NoError(t, e.LastError())
	assert.Equal(t, [2]State{StateStopping, StateOff}, tr.list()[len(tr.list())-1])
}

func TestExecutor_ShutdownTerminatesAfterGrace(t *testing.T) {
	ctx, logs := testutil.NewContext(t)
	e := newExecutor(t, ctx, Options{ID: 9, GraceTicks: 3}, `
while True:
    os.pullEvent("never")
`)
	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, stateIs(e, StateOn))

	e.Shutdown(ctx)
	tickUntil(t, ctx, e, stateIs(e, StateOff))

	assert.NoError(t, e.LastError())
	testutil.AssertLogged(t, logs, "Computer did not stop in time, terminating.")
}

func TestExecutor_Reboot(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	e := newExecutor(t, ctx, Options{ID: 10, GraceTicks: 2}, `
n = 0
if fs.exists("boots"):
    n = int(fs.read("boots"))
fs.write("boots", str(n + 1))
while True:
    os.pullEvent("never")
`)
	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, fileContains(e, "boots", "1"))

	e.Reboot(ctx)
	tickUntil(t, ctx, e, fileContains(e, "boots", "2"))
	tickUntil(t, ctx, e, stateIs(e, StateOn))
}

func TestExecutor_ProgramRequestedReboot(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	e := newExecutor(t, ctx, Options{ID: 11}, `
if fs.exists("rebooted"):
    os.pullEvent("never")
else:
    fs.write("rebooted", "yes")
    os.reboot()
`)
	tr := &transitions{}
	e.opts.OnStateChange = tr.record

	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, func() bool { return len(tr.list()) >= 6 })
	assert.Equal(t, [][2]State{
		{StateOff, StateStarting},
		{StateStarting, StateOn},
		{StateOn, StateStopping},
		{StateStopping, StateOff},
		{StateOff, StateStarting},
		{StateStarting, StateOn},
	}, tr.list()[:6])
}

func TestExecutor_Peripherals(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	net := wired.NewNetwork(wired.Options{})
	require.NoError(t, net.AddNode("pc"))
	require.NoError(t, net.AddNode("screen"))
	require.NoError(t, net.Connect("pc", "screen", 1))
	mon := peripheral.NewMonitor(10, 2)
	require.NoError(t, net.AddPeripheral("screen", "monitor_0", mon))

	bridge := task.NewBridge(task.Options{})
	e := newExecutor(t, ctx, Options{ID: 12, Network: net, Node: "pc", Bridge: bridge}, `
names = peripheral.getNames()
peripheral.call(names[0], "write", "hi")
ev = os.pullEvent("peripheral")
fs.write("attached.txt", ev[1])
ev = os.pullEvent("peripheral_detach")
fs.write("detached.txt", ev[1])
`)
	assert.Contains(t, e.Peripherals(), "monitor_0", "peripherals present at load are visible without events")

	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, func() bool { return mon.Lines()[0] == "hi" })

	require.NoError(t, net.AddPeripheral("screen", "monitor_1", peripheral.NewMonitor(5, 5)))
	tickUntil(t, ctx, e, fileContains(e, "attached.txt", "monitor_1"))

	require.NoError(t, net.Disconnect("pc", "screen"))
	tickUntil(t, ctx, e, fileContains(e, "detached.txt", "monitor_0"))
	assert.Empty(t, e.Peripherals())
}

func TestExecutor_ModemMessageArrivesOnce(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	net := wired.NewNetwork(wired.Options{})
	modems := map[string]*peripheral.Modem{}
	for _, node := range []string{"a", "b", "d"} {
		require.NoError(t, net.AddNode(node))
		modems[node] = peripheral.NewModem(node, net, 0)
		require.NoError(t, net.AddPeripheral(node, "modem_"+node, modems[node]))
	}
	require.NoError(t, net.Connect("a", "b", 1))
	require.NoError(t, net.Connect("b", "d", 1))

	e := newExecutor(t, ctx, Options{ID: 14, Network: net, Node: "a"}, `
peripheral.call("modem_a", "open", 1)
peripheral.call("modem_b", "open", 1)
fs.write("ready.txt", "yes")
ev = os.pullEvent("modem_message")
fs.write("first.txt", ev[1])
os.queueEvent("done")
ev = os.pullEvent()
fs.write("second.txt", ev[0])
`)
	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, fileContains(e, "ready.txt", "yes"))

	_, err := modems["d"].Methods()["transmit"].Fn(ctx, peripheral.Call{
		Args: []cty.Value{cty.NumberIntVal(1), cty.NumberIntVal(2), cty.StringVal("hi")},
	})
	require.NoError(t, err)

	tickUntil(t, ctx, e, fileContains(e, "second.txt", "done"))
	assert.True(t, fileContains(e, "first.txt", "modem_a")())
}

func TestTimerTicks(t *testing.T) {
	testCases := []struct {
		name    string
		seconds float64
		want    int
	}{
		{"half second", 0.5, 10},
		{"zero", 0, 0},
		{"negative", -3, 0},
		{"nan", math.NaN(), 0},
		{"negative infinity", math.Inf(-1), 0},
		{"infinity", math.Inf(1), maxTimerTicks},
		{"huge", 1e300, maxTimerTicks},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, timerTicks(tc.seconds, 20))
		})
	}
}

func TestExecutor_HugeTimerDoesNotFireEarly(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	e := newExecutor(t, ctx, Options{ID: 15}, `
os.startTimer(1e300)
os.startTimer(0.05)
ev = os.pullEvent("timer")
fs.write("timer.txt", str(ev[1]))
os.pullEvent("never")
`)
	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, fileContains(e, "timer.txt", "1"))
}

func TestExecutor_UnloadCancelsPendingTasks(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	net := wired.NewNetwork(wired.Options{})
	require.NoError(t, net.AddNode("pc"))
	require.NoError(t, net.AddPeripheral("pc", "monitor_0", peripheral.NewMonitor(5, 1)))

	bridge := task.NewBridge(task.Options{})
	e := newExecutor(t, ctx, Options{ID: 13, Network: net, Node: "pc", Bridge: bridge}, `
peripheral.call("monitor_0", "write", "never drained")
`)
	require.NoError(t, e.Start(ctx))
	require.Eventually(t, func() bool { return bridge.Len() == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, e.Unload(ctx))
	assert.Equal(t, StateOff, e.State())
	assert.Equal(t, 0, bridge.Len())
}

func TestExecutor_KeepAlive(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	e := newExecutor(t, ctx, Options{ID: 14}, "")

	for i := 0; i < 3; i++ {
		e.Tick(ctx)
	}
	assert.True(t, e.TimedOut(2))
	assert.False(t, e.TimedOut(0))

	e.KeepAlive()
	assert.False(t, e.TimedOut(2))
}

func TestExecutor_SnapshotAndLabel(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	e := newExecutor(t, ctx, Options{ID: 15, Family: FamilyCommand, Label: "base"}, "")

	assert.False(t, e.Tick(ctx))
	e.SetLabel("relay")
	assert.True(t, e.Tick(ctx), "label changes are observable")
	assert.False(t, e.Tick(ctx))

	data, err := json.Marshal(e.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":15,"family":"command","label":"relay","state":"off","clock":0}`, string(data))
}

type recordingRunner struct{ got []string }

func (r *recordingRunner) RunCommand(_ context.Context, id int, command string) (bool, []string, error) {
	r.got = append(r.got, command)
	return true, []string{"ok"}, nil
}

func TestExecutor_CommandsRunOnMainLoop(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	runner := &recordingRunner{}
	bridge := task.NewBridge(task.Options{})
	e := newExecutor(t, ctx, Options{ID: 16, Family: FamilyCommand, Commands: runner, Bridge: bridge}, `
ok, out = commands.exec("say hi")
fs.write("cmd.txt", "%s %s" % (ok, out[0]))
`)
	require.NoError(t, e.Start(ctx))
	tickUntil(t, ctx, e, fileContains(e, "cmd.txt", "True ok"))
	assert.Equal(t, []string{"say hi"}, runner.got)
}

func TestParseFamily(t *testing.T) {
	f, err := ParseFamily("Advanced")
	require.NoError(t, err)
	assert.Equal(t, FamilyAdvanced, f)
	assert.True(t, f.Colour())
	assert.False(t, FamilyNormal.Colour())

	_, err = ParseFamily("pocket")
	assert.ErrorContains(t, err, `unknown computer family "pocket"`)
}
