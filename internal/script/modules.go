package script

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vk/computergrid/internal/event"
	"github.com/vk/computergrid/internal/peripheral"
	"github.com/zclconf/go-cty/cty"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

type builtinFn = func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

func module(name string, fns map[string]builtinFn) *starlarkstruct.Module {
	members := make(starlark.StringDict, len(fns))
	for fname, fn := range fns {
		members[fname] = starlark.NewBuiltin(name+"."+fname, fn)
	}
	return &starlarkstruct.Module{Name: name, Members: members}
}

func (r *Runtime) modulesFor() starlark.StringDict {
	d := starlark.StringDict{
		"os":         r.osModule(),
		"fs":         r.fsModule(),
		"peripheral": r.peripheralModule(),
		"term":       r.termModule(),
	}
	if r.opts.Commands {
		d["commands"] = r.commandsModule()
	}
	return d
}

func toFloat(v starlark.Value, fn string) (float64, error) {
	f, ok := starlark.AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("%s: got %s, want number", fn, v.Type())
	}
	if math.IsNaN(f) {
		return 0, fmt.Errorf("%s: got nan, want number", fn)
	}
	return f, nil
}

func stringList(vals []string) *starlark.List {
	elems := make([]starlark.Value, len(vals))
	for i, s := range vals {
		elems[i] = starlark.String(s)
	}
	return starlark.NewList(elems)
}

// eventTuple renders an event as (name, args...).
func eventTuple(e event.Event) (starlark.Tuple, error) {
	out := make(starlark.Tuple, 0, len(e.Args)+1)
	out = append(out, starlark.String(e.Name))
	for _, a := range e.Args {
		v, err := ToStarlark(a)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// pullEvent waits for the next event whose name matches filter. The shutdown
// event is always returned so a program can clean up.
func (r *Runtime) pullEvent(filter string) (event.Event, error) {
	for {
		var e event.Event
		err := r.yield(func() error {
			var err error
			e, err = r.host.NextEvent(r.ctx)
			return err
		})
		if err != nil {
			return event.Event{}, err
		}
		if filter == "" || e.Name == filter || e.Name == event.Shutdown {
			return e, nil
		}
	}
}

func (r *Runtime) osModule() *starlarkstruct.Module {
	return module("os", map[string]builtinFn{
		"pullEvent": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var filter starlark.Value = starlark.None
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "filter?", &filter); err != nil {
				return nil, err
			}
			name := ""
			if s, ok := filter.(starlark.String); ok {
				name = string(s)
			}
			e, err := r.pullEvent(name)
			if err != nil {
				return nil, err
			}
			return eventTuple(e)
		},
		"queueEvent": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("%s: missing event name", b.Name())
			}
			name, ok := starlark.AsString(args[0])
			if !ok {
				return nil, fmt.Errorf("%s: got %s, want string", b.Name(), args[0].Type())
			}
			vals, err := fromArgs(args[1:])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			r.host.QueueEvent(name, vals...)
			return starlark.None, nil
		},
		"startTimer": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var secs starlark.Value
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "seconds", &secs); err != nil {
				return nil, err
			}
			f, err := toFloat(secs, b.Name())
			if err != nil {
				return nil, err
			}
			return starlark.MakeInt(r.host.StartTimer(f)), nil
		},
		"cancelTimer": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var id int
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id", &id); err != nil {
				return nil, err
			}
			r.host.CancelTimer(id)
			return starlark.None, nil
		},
		"sleep": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var secs starlark.Value
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "seconds", &secs); err != nil {
				return nil, err
			}
			f, err := toFloat(secs, b.Name())
			if err != nil {
				return nil, err
			}
			id := r.host.StartTimer(f)
			for {
				e, err := r.pullEvent(event.Timer)
				if err != nil {
					return nil, err
				}
				if e.Name == event.Shutdown {
					r.host.QueueEvent(e.Name, e.Args...)
					return starlark.None, nil
				}
				if len(e.Args) == 1 && e.Args[0].Type() == cty.Number && e.Args[0].Equals(cty.NumberIntVal(int64(id))).True() {
					return starlark.None, nil
				}
			}
		},
		"getComputerID": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return starlark.MakeInt(r.host.ComputerID()), nil
		},
		"getComputerLabel": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			if l := r.host.Label(); l != "" {
				return starlark.String(l), nil
			}
			return starlark.None, nil
		},
		"setComputerLabel": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var label starlark.Value = starlark.None
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "label?", &label); err != nil {
				return nil, err
			}
			s, _ := starlark.AsString(label)
			r.host.SetLabel(s)
			return starlark.None, nil
		},
		"clock": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return starlark.Float(r.host.Clock()), nil
		},
		"epoch": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return starlark.MakeInt64(time.Now().UnixMilli()), nil
		},
		"shutdown": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			r.host.Shutdown()
			return nil, errHalt
		},
		"reboot": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			r.host.Reboot()
			return nil, errHalt
		},
	})
}

// fsResult maps a filesystem error onto the script's error-return
// convention: None on success, the message otherwise.
func fsResult(err error) starlark.Value {
	if err == nil {
		return starlark.None
	}
	return starlark.String(err.Error())
}

func (r *Runtime) fsModule() *starlarkstruct.Module {
	path1 := func(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (string, error) {
		var p string
		err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p)
		return p, err
	}
	path2 := func(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (string, string, error) {
		var from, to string
		err := starlark.UnpackArgs(b.Name(), args, kwargs, "from", &from, "to", &to)
		return from, to, err
	}
	write := func(appendMode bool) builtinFn {
		return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var p, data string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p, "data", &data); err != nil {
				return nil, err
			}
			return fsResult(r.host.FileSystem().WriteFile(p, []byte(data), appendMode)), nil
		}
	}

	return module("fs", map[string]builtinFn{
		"exists": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			p, err := path1(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			ok, _ := r.host.FileSystem().Exists(p)
			return starlark.Bool(ok), nil
		},
		"isDir": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			p, err := path1(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			ok, _ := r.host.FileSystem().IsDir(p)
			return starlark.Bool(ok), nil
		},
		"list": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			p, err := path1(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			names, err := r.host.FileSystem().List(p)
			if err != nil {
				return starlark.None, nil
			}
			return stringList(names), nil
		},
		"getSize": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			p, err := path1(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			n, err := r.host.FileSystem().Size(p)
			if err != nil {
				return starlark.None, nil
			}
			return starlark.MakeInt64(n), nil
		},
		"read": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			p, err := path1(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			data, err := r.host.FileSystem().ReadFile(p)
			if err != nil {
				return starlark.None, nil
			}
			return starlark.String(data), nil
		},
		"write":  write(false),
		"append": write(true),
		"delete": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			p, err := path1(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			return fsResult(r.host.FileSystem().Delete(p)), nil
		},
		"makeDir": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			p, err := path1(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			return fsResult(r.host.FileSystem().MakeDir(p)), nil
		},
		"move": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			from, to, err := path2(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			return fsResult(r.host.FileSystem().Rename(from, to)), nil
		},
		"copy": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			from, to, err := path2(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			return fsResult(r.host.FileSystem().Copy(from, to)), nil
		},
		"getFreeSpace": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			p, err := path1(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			n, err := r.host.FileSystem().FreeSpace(p)
			if err != nil {
				return starlark.None, nil
			}
			return starlark.MakeInt64(n), nil
		},
		"getCapacity": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			p, err := path1(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			n, err := r.host.FileSystem().Capacity(p)
			if err != nil {
				return starlark.None, nil
			}
			return starlark.MakeInt64(n), nil
		},
	})
}

func (r *Runtime) lookup(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (peripheral.Peripheral, bool, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, false, err
	}
	p, ok := r.host.Peripherals()[name]
	return p, ok, nil
}

// call invokes a peripheral method from positional arguments
// (name, method, args...).
func (r *Runtime) call(b *starlark.Builtin, args starlark.Tuple) ([]cty.Value, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%s: expected peripheral name and method", b.Name())
	}
	name, ok1 := starlark.AsString(args[0])
	method, ok2 := starlark.AsString(args[1])
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%s: peripheral name and method must be strings", b.Name())
	}
	vals, err := fromArgs(args[2:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	var out []cty.Value
	err = r.yield(func() error {
		var err error
		out, err = r.host.CallPeripheral(r.ctx, name, method, vals)
		return err
	})
	return out, err
}

func (r *Runtime) peripheralModule() *starlarkstruct.Module {
	return module("peripheral", map[string]builtinFn{
		"getNames": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			names := make([]string, 0)
			for name := range r.host.Peripherals() {
				names = append(names, name)
			}
			sort.Strings(names)
			return stringList(names), nil
		},
		"isPresent": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			_, ok, err := r.lookup(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			return starlark.Bool(ok), nil
		},
		"getType": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			p, ok, err := r.lookup(b, args, kwargs)
			if err != nil || !ok {
				return starlark.None, err
			}
			return starlark.String(p.Type()), nil
		},
		"getMethods": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			p, ok, err := r.lookup(b, args, kwargs)
			if err != nil || !ok {
				return starlark.None, err
			}
			return stringList(p.Methods().Names()), nil
		},
		"call": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			out, err := r.call(b, args)
			if err != nil {
				return nil, err
			}
			return results(out)
		},
		"pcall": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			out, err := r.call(b, args)
			if err != nil {
				if r.ctx.Err() != nil {
					return nil, err
				}
				return starlark.Tuple{starlark.False, starlark.String(err.Error())}, nil
			}
			tuple := starlark.Tuple{starlark.True}
			for _, v := range out {
				sv, err := ToStarlark(v)
				if err != nil {
					return nil, err
				}
				tuple = append(tuple, sv)
			}
			return tuple, nil
		},
	})
}

func (r *Runtime) termModule() *starlarkstruct.Module {
	isColour := func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return starlark.Bool(r.opts.Colour), nil
	}
	return module("term", map[string]builtinFn{
		"isColour": isColour,
		"isColor":  isColour,
		"write": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var text string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text); err != nil {
				return nil, err
			}
			r.host.Print(text)
			return starlark.None, nil
		},
	})
}

func (r *Runtime) commandsModule() *starlarkstruct.Module {
	return module("commands", map[string]builtinFn{
		"exec": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var command string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "command", &command); err != nil {
				return nil, err
			}
			var (
				ok     bool
				output []string
			)
			err := r.yield(func() error {
				var err error
				ok, output, err = r.host.RunCommand(r.ctx, command)
				return err
			})
			if err != nil {
				if r.ctx.Err() != nil || errors.Is(err, errHalt) {
					return nil, err
				}
				return starlark.Tuple{starlark.False, stringList([]string{err.Error()})}, nil
			}
			return starlark.Tuple{starlark.Bool(ok), stringList(output)}, nil
		},
	})
}
