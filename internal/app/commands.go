package app

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/vk/computergrid/internal/computer"
	"github.com/vk/computergrid/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
)

// CommandFunc runs one host command. args excludes the command name. A
// false result is reported to the script as a failed command; the error
// return is for host-side failures.
type CommandFunc func(ctx context.Context, caller int, args []string) (bool, []string, error)

// Commands is the table of host commands available to command computers.
// It implements computer.CommandRunner and is only called on the host loop.
type Commands struct {
	app *App
	all map[string]CommandFunc
}

// NewCommands creates the command table with the built-in commands.
func NewCommands(a *App) *Commands {
	c := &Commands{app: a, all: make(map[string]CommandFunc)}
	c.Register("list", c.list)
	c.Register("time", c.time)
	c.Register("say", c.say)
	c.Register("queue", c.queue)
	c.Register("start", c.control("start"))
	c.Register("shutdown", c.control("shutdown"))
	c.Register("reboot", c.control("reboot"))
	return c
}

// Register adds a command. It panics on duplicate registration, which is a
// programming error.
func (c *Commands) Register(name string, fn CommandFunc) {
	if _, exists := c.all[name]; exists {
		panic(fmt.Sprintf("command with name '%s' already registered", name))
	}
	c.all[name] = fn
}

// Names returns the registered command names, sorted.
func (c *Commands) Names() []string {
	names := make([]string, 0, len(c.all))
	for name := range c.all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunCommand splits command on whitespace and dispatches on the first word.
func (c *Commands) RunCommand(ctx context.Context, computerID int, command string) (bool, []string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false, []string{"No command given"}, nil
	}
	fn, ok := c.all[fields[0]]
	if !ok {
		return false, []string{fmt.Sprintf("Unknown command %q", fields[0])}, nil
	}
	ctxlog.FromContext(ctx).Debug("Running command.", "computer_id", computerID, "command", fields[0])
	return fn(ctx, computerID, fields[1:])
}

func (c *Commands) executor(arg string) (*computer.Executor, error) {
	id, err := strconv.Atoi(arg)
	if err != nil {
		return nil, fmt.Errorf("expected a computer id, got %q", arg)
	}
	for _, p := range c.app.computers {
		if p.exec.ID() == id {
			if _, _, loaded := c.app.registry.Lookup(id); loaded {
				return p.exec, nil
			}
		}
	}
	return nil, fmt.Errorf("no computer with id %d", id)
}

func (c *Commands) list(context.Context, int, []string) (bool, []string, error) {
	var out []string
	for _, entry := range c.app.registry.All() {
		snap := entry.Executor.Snapshot()
		out = append(out, fmt.Sprintf("%d %s %s %q", snap.ID, snap.Family, snap.State, snap.Label))
	}
	return true, out, nil
}

func (c *Commands) time(context.Context, int, []string) (bool, []string, error) {
	return true, []string{strconv.FormatUint(c.app.ticks, 10)}, nil
}

func (c *Commands) say(ctx context.Context, caller int, args []string) (bool, []string, error) {
	text := strings.Join(args, " ")
	ctxlog.FromContext(ctx).Info("Command computer says.", "computer_id", caller, "text", text)
	return true, []string{text}, nil
}

// queue sends an event to another computer. Arguments that parse as
// numbers or booleans are passed as such, the rest as strings.
func (c *Commands) queue(_ context.Context, _ int, args []string) (bool, []string, error) {
	if len(args) < 2 {
		return false, []string{"Usage: queue <id> <event> [args...]"}, nil
	}
	target, err := c.executor(args[0])
	if err != nil {
		return false, []string{err.Error()}, nil
	}
	vals := make([]cty.Value, 0, len(args)-2)
	for _, a := range args[2:] {
		vals = append(vals, parseArg(a))
	}
	target.QueueEvent(args[1], vals...)
	return true, nil, nil
}

func parseArg(s string) cty.Value {
	switch s {
	case "true":
		return cty.True
	case "false":
		return cty.False
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(n) {
		return cty.NumberFloatVal(n)
	}
	return cty.StringVal(s)
}

func (c *Commands) control(action string) CommandFunc {
	return func(ctx context.Context, _ int, args []string) (bool, []string, error) {
		if len(args) != 1 {
			return false, []string{fmt.Sprintf("Usage: %s <id>", action)}, nil
		}
		target, err := c.executor(args[0])
		if err != nil {
			return false, []string{err.Error()}, nil
		}
		switch action {
		case "start":
			if err := target.Start(ctx); err != nil {
				return false, []string{err.Error()}, nil
			}
		case "shutdown":
			target.Shutdown(ctx)
		case "reboot":
			target.Reboot(ctx)
		}
		return true, nil, nil
	}
}
