package computer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vk/computergrid/internal/event"
	"github.com/vk/computergrid/internal/peripheral"
	"github.com/vk/computergrid/internal/vfs"
	"github.com/zclconf/go-cty/cty"
)

// PeripheralsChanged implements wired.Listener. Attachable peripherals are
// told about the computer, and the program sees peripheral and
// peripheral_detach events.
func (e *Executor) PeripheralsChanged(removed, added map[string]peripheral.Peripheral) {
	e.mu.Lock()
	for name := range removed {
		delete(e.peripherals, name)
	}
	for name, p := range added {
		e.peripherals[name] = p
	}
	e.mu.Unlock()

	for _, name := range sortedNames(removed) {
		if a, ok := removed[name].(peripheral.Attachable); ok {
			a.Detach(e)
		}
		e.QueueEvent(event.PeripheralDetach, cty.StringVal(name))
	}
	var local map[string]peripheral.Peripheral
	if e.opts.Network != nil && len(added) > 0 {
		local, _ = e.opts.Network.Local(e.opts.Node)
	}
	for _, name := range sortedNames(added) {
		if a, ok := added[name].(peripheral.Attachable); ok && e.receivesFrom(name, added[name], local) {
			a.Attach(e, name)
		}
		e.QueueEvent(event.Peripheral, cty.StringVal(name))
	}
}

// receivesFrom reports whether the computer should be attached to p. A
// modem only delivers to computers on its own node, so each packet reaches a
// computer once however many modems share the network.
func (e *Executor) receivesFrom(name string, p peripheral.Peripheral, local map[string]peripheral.Peripheral) bool {
	if p.Type() != peripheral.ModemType || e.opts.Network == nil {
		return true
	}
	own, ok := local[name]
	return ok && own.Equals(p)
}

// Peripherals returns a copy of the peripherals the computer can see.
func (e *Executor) Peripherals() map[string]peripheral.Peripheral {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]peripheral.Peripheral, len(e.peripherals))
	for k, v := range e.peripherals {
		out[k] = v
	}
	return out
}

// CallPeripheral invokes a method of a visible peripheral. Main-thread
// methods are submitted to the task bridge and waited for.
func (e *Executor) CallPeripheral(ctx context.Context, name, method string, args []cty.Value) ([]cty.Value, error) {
	e.mu.Lock()
	p, ok := e.peripherals[name]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no peripheral named %q", name)
	}
	m, ok := p.Methods()[method]
	if !ok {
		return nil, fmt.Errorf("no such method %q on %s", method, p.Type())
	}
	call := peripheral.Call{Computer: e, Args: args}
	if !m.MainThread || e.opts.Bridge == nil {
		return callMethod(ctx, m, call)
	}

	v, err := e.opts.Bridge.Submit(e.owner, func(tctx context.Context) (any, error) {
		return m.Fn(tctx, call)
	}).Wait(ctx)
	if err != nil {
		return nil, err
	}
	out, _ := v.([]cty.Value)
	return out, nil
}

func callMethod(ctx context.Context, m peripheral.Method, call peripheral.Call) (out []cty.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("peripheral method panicked: %v", r)
		}
	}()
	return m.Fn(ctx, call)
}

// runCommand routes a host command through the task bridge.
func (e *Executor) runCommand(ctx context.Context, command string) (bool, []string, error) {
	if e.opts.Commands == nil {
		return false, nil, errors.New("commands are not available")
	}
	if e.opts.Bridge == nil {
		return e.opts.Commands.RunCommand(ctx, e.opts.ID, command)
	}
	type result struct {
		ok  bool
		out []string
	}
	v, err := e.opts.Bridge.Submit(e.owner, func(tctx context.Context) (any, error) {
		ok, out, err := e.opts.Commands.RunCommand(tctx, e.opts.ID, command)
		return result{ok, out}, err
	}).Wait(ctx)
	if err != nil {
		return false, nil, err
	}
	r := v.(result)
	return r.ok, r.out, nil
}

func sortedNames(m map[string]peripheral.Peripheral) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// host is the script.Host of one worker. Each start gets its own, so a
// stale worker can never read a newer worker's events.
type host struct {
	e *Executor
	w *worker
}

func (h *host) ComputerID() int             { return h.e.opts.ID }
func (h *host) Label() string               { return h.e.Label() }
func (h *host) SetLabel(label string)       { h.e.SetLabel(label) }
func (h *host) FileSystem() *vfs.FileSystem { return h.e.fs }
func (h *host) Clock() float64              { return h.e.Clock() }
func (h *host) Shutdown()                   { h.e.halt(false) }
func (h *host) Reboot()                     { h.e.halt(true) }
func (h *host) Print(line string)           { h.e.print(line) }
func (h *host) CancelTimer(id int)          { h.e.cancelTimer(id) }

func (h *host) NextEvent(ctx context.Context) (event.Event, error) {
	select {
	case ev := <-h.w.inbox:
		return ev, nil
	case <-ctx.Done():
		return event.Event{}, ctx.Err()
	}
}

func (h *host) QueueEvent(name string, args ...cty.Value) {
	h.e.QueueEvent(name, args...)
}

func (h *host) StartTimer(seconds float64) int {
	return h.e.startTimer(seconds)
}

func (h *host) Peripherals() map[string]peripheral.Peripheral {
	return h.e.Peripherals()
}

func (h *host) CallPeripheral(ctx context.Context, name, method string, args []cty.Value) ([]cty.Value, error) {
	return h.e.CallPeripheral(ctx, name, method, args)
}

func (h *host) RunCommand(ctx context.Context, command string) (bool, []string, error) {
	return h.e.runCommand(ctx, command)
}
