package hcl

import (
	"fmt"
	"strings"
	"time"

	"github.com/vk/computergrid/internal/config"
	"github.com/zclconf/go-cty/cty"
)

func duration(name string, s *string) (time.Duration, error) {
	if s == nil {
		return 0, nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", name)
	}
	return d, nil
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

// translateSimulation overlays the declared settings on the defaults in s.
func translateSimulation(b *simulationBlock, s *config.Simulation) error {
	setInt(&s.TickRate, b.TickRate)
	setInt(&s.TaskTimeoutTicks, b.TaskTimeoutTicks)
	setInt(&s.TasksPerTick, b.TasksPerTick)
	setInt(&s.KeepAliveTicks, b.KeepAliveTicks)
	setInt(&s.ShutdownGraceTicks, b.ShutdownGraceTicks)
	setInt(&s.ConsistencyInterval, b.ConsistencyInterval)

	if b.MaxSteps != nil {
		if *b.MaxSteps < 0 {
			return fmt.Errorf("simulation: max_steps must not be negative")
		}
		s.MaxSteps = uint64(*b.MaxSteps)
	}
	if b.ComputerCapacity != nil {
		s.ComputerCapacity = *b.ComputerCapacity
	}
	if b.DiskCapacity != nil {
		s.DiskCapacity = *b.DiskCapacity
	}

	var err error
	if b.TaskBudget != nil {
		if s.TaskBudget, err = duration("simulation: task_budget", b.TaskBudget); err != nil {
			return err
		}
	}
	if b.YieldBudget != nil {
		if s.YieldBudget, err = duration("simulation: yield_budget", b.YieldBudget); err != nil {
			return err
		}
	}
	return nil
}

func translateBroadcast(b *broadcastBlock) (config.Broadcast, error) {
	out := config.Broadcast{}
	setInt(&out.BreakerFailures, b.BreakerFailures)

	cooldown, err := duration("broadcast: breaker_cooldown", b.BreakerCooldown)
	if err != nil {
		return out, err
	}
	out.BreakerCooldown = cooldown

	if b.SocketIO != nil {
		out.SocketIO = &config.SocketIOSink{
			URL:                b.SocketIO.URL,
			Namespace:          b.SocketIO.Namespace,
			InsecureSkipVerify: b.SocketIO.InsecureSkipVerify,
		}
	}
	if b.NATS != nil {
		out.NATS = &config.NATSSink{URL: b.NATS.URL, SubjectPrefix: b.NATS.SubjectPrefix}
	}
	return out, nil
}

func translateFamily(b *familyBlock) (*config.Family, error) {
	f := &config.Family{Name: strings.ToLower(b.Name)}
	setInt(&f.QueueCapacity, b.QueueCapacity)
	budget, err := duration(fmt.Sprintf("family %q: yield_budget", b.Name), b.YieldBudget)
	if err != nil {
		return nil, err
	}
	f.YieldBudget = budget
	return f, nil
}

func translateComputer(b *computerBlock) *config.Computer {
	c := &config.Computer{
		Name:      b.Name,
		ID:        b.ID,
		Family:    strings.ToLower(b.Family),
		Label:     b.Label,
		Node:      b.Node,
		Startup:   b.Startup,
		Autostart: true,
	}
	if b.Autostart != nil {
		c.Autostart = *b.Autostart
	}
	return c
}

// translateNode evaluates every non-type peripheral attribute to a constant.
// Attributes may not reference variables or functions.
func translateNode(b *nodeBlock) (*config.Node, error) {
	n := &config.Node{Name: b.Name}
	for _, pb := range b.Peripherals {
		attrs, diags := pb.Remain.JustAttributes()
		if diags.HasErrors() {
			return nil, fmt.Errorf("node %q peripheral %q: %w", b.Name, pb.Name, diags)
		}
		p := &config.Peripheral{
			Name:       pb.Name,
			Type:       pb.Type,
			Attributes: make(map[string]cty.Value, len(attrs)),
		}
		for name, attr := range attrs {
			v, diags := attr.Expr.Value(nil)
			if diags.HasErrors() {
				return nil, fmt.Errorf("node %q peripheral %q attribute %q: %w", b.Name, pb.Name, name, diags)
			}
			p.Attributes[name] = v
		}
		n.Peripherals = append(n.Peripherals, p)
	}
	return n, nil
}

func translateCable(b *cableBlock) *config.Cable {
	c := &config.Cable{From: b.From, To: b.To}
	if b.Distance != nil {
		c.Distance = *b.Distance
	}
	return c
}

// translateEvent flattens the args list into positional event arguments.
// Each element keeps its own cty type, so a tuple of mixed values stays
// mixed.
func translateEvent(b *eventBlock) (*config.Event, error) {
	e := &config.Event{Name: b.Name, Computer: b.Computer}
	if b.Tick != nil {
		if *b.Tick < 0 {
			return nil, fmt.Errorf("event %q: tick must not be negative", b.Name)
		}
		e.Tick = uint64(*b.Tick)
	}

	v, diags := b.Args.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("event %q args: %w", b.Name, diags)
	}
	if v.IsNull() {
		return e, nil
	}
	ty := v.Type()
	if !ty.IsTupleType() && !ty.IsListType() {
		return nil, fmt.Errorf("event %q args: expected a list, got %s", b.Name, ty.FriendlyName())
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("event %q args: value is not known", b.Name)
	}
	for it := v.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		e.Args = append(e.Args, elem)
	}
	return e, nil
}
