package peripheral

import (
	"fmt"
	"sort"

	"github.com/vk/computergrid/internal/vfs"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// DiskSource hands out the writable mount backing a numbered disk.
type DiskSource interface {
	Disk(id int) (vfs.WritableMount, error)
}

// Env is what a constructor may use when building a peripheral for a node.
type Env struct {
	Node    string
	Network Network
	Disks   DiskSource
}

// Constructor builds a peripheral from its declared attributes.
type Constructor func(env Env, attrs map[string]cty.Value) (Peripheral, error)

// Providers maps peripheral type names to constructors. It replaces a global
// provider list with a value owned by the simulation.
type Providers struct {
	constructors map[string]Constructor
}

// NewProviders creates an empty provider table.
func NewProviders() *Providers {
	return &Providers{constructors: make(map[string]Constructor)}
}

// Register adds a constructor. It panics on duplicate registration, which is
// a programming error.
func (p *Providers) Register(typ string, c Constructor) {
	if _, exists := p.constructors[typ]; exists {
		panic(fmt.Sprintf("peripheral provider %q registered twice", typ))
	}
	p.constructors[typ] = c
}

// Types returns the registered type names, sorted.
func (p *Providers) Types() []string {
	out := make([]string, 0, len(p.constructors))
	for t := range p.constructors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Build constructs a peripheral of the given type.
func (p *Providers) Build(typ string, env Env, attrs map[string]cty.Value) (Peripheral, error) {
	c, ok := p.constructors[typ]
	if !ok {
		return nil, fmt.Errorf("unknown peripheral type %q", typ)
	}
	per, err := c(env, attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s peripheral: %w", typ, err)
	}
	return per, nil
}

// attrInt decodes an optional numeric attribute.
func attrInt(attrs map[string]cty.Value, name string, def int) (int, error) {
	v, ok := attrs[name]
	if !ok || v.IsNull() {
		return def, nil
	}
	var out int
	if err := gocty.FromCtyValue(v, &out); err != nil {
		return 0, fmt.Errorf("attribute %q: %w", name, err)
	}
	return out, nil
}

func attrString(attrs map[string]cty.Value, name, def string) (string, error) {
	v, ok := attrs[name]
	if !ok || v.IsNull() {
		return def, nil
	}
	var out string
	if err := gocty.FromCtyValue(v, &out); err != nil {
		return "", fmt.Errorf("attribute %q: %w", name, err)
	}
	return out, nil
}

// RegisterBuiltins installs the modem, monitor and drive constructors.
func RegisterBuiltins(p *Providers) {
	p.Register(ModemType, func(env Env, attrs map[string]cty.Value) (Peripheral, error) {
		rng, err := attrInt(attrs, "range", 0)
		if err != nil {
			return nil, err
		}
		return NewModem(env.Node, env.Network, float64(rng)), nil
	})
	p.Register(MonitorType, func(env Env, attrs map[string]cty.Value) (Peripheral, error) {
		w, err := attrInt(attrs, "width", 0)
		if err != nil {
			return nil, err
		}
		h, err := attrInt(attrs, "height", 0)
		if err != nil {
			return nil, err
		}
		return NewMonitor(w, h), nil
	})
	p.Register(DriveType, func(env Env, attrs map[string]cty.Value) (Peripheral, error) {
		d := NewDrive()
		id, err := attrInt(attrs, "disk", -1)
		if err != nil {
			return nil, err
		}
		if id < 0 {
			return d, nil
		}
		if env.Disks == nil {
			return nil, fmt.Errorf("drive declares disk %d but no disk storage is configured", id)
		}
		disk, err := env.Disks.Disk(id)
		if err != nil {
			return nil, err
		}
		label, err := attrString(attrs, "label", "")
		if err != nil {
			return nil, err
		}
		d.Insert(disk, label)
		return d, nil
	})
}
