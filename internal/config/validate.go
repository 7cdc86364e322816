package config

import (
	"fmt"
	"strings"
)

var knownFamilies = map[string]struct{}{"normal": {}, "advanced": {}, "command": {}}

// Validate checks the cross references of the model: every computer, cable
// and event must name things that exist, and names and ids must be unique.
// All problems are reported together.
func (m *Model) Validate() error {
	var errs []string

	if m.Simulation.TickRate <= 0 {
		errs = append(errs, "simulation: tick_rate must be positive")
	}
	if m.Simulation.ConsistencyInterval < 0 {
		errs = append(errs, "simulation: consistency_interval must not be negative")
	}

	for name := range m.Families {
		if _, ok := knownFamilies[strings.ToLower(name)]; !ok {
			errs = append(errs, fmt.Sprintf("family '%s': unknown family, expected normal, advanced or command", name))
		}
	}

	nodes := make(map[string]struct{}, len(m.Nodes))
	for _, n := range m.Nodes {
		if _, dup := nodes[n.Name]; dup {
			errs = append(errs, fmt.Sprintf("node '%s': declared twice", n.Name))
		}
		nodes[n.Name] = struct{}{}

		names := make(map[string]struct{}, len(n.Peripherals))
		for _, p := range n.Peripherals {
			if _, dup := names[p.Name]; dup {
				errs = append(errs, fmt.Sprintf("node '%s': peripheral '%s' declared twice", n.Name, p.Name))
			}
			names[p.Name] = struct{}{}
			if p.Type == "" {
				errs = append(errs, fmt.Sprintf("node '%s': peripheral '%s' has no type", n.Name, p.Name))
			}
		}
	}

	computers := make(map[string]struct{}, len(m.Computers))
	ids := make(map[int]string)
	for _, c := range m.Computers {
		if _, dup := computers[c.Name]; dup {
			errs = append(errs, fmt.Sprintf("computer '%s': declared twice", c.Name))
		}
		computers[c.Name] = struct{}{}

		if _, ok := knownFamilies[strings.ToLower(c.Family)]; !ok {
			errs = append(errs, fmt.Sprintf("computer '%s': unknown family '%s'", c.Name, c.Family))
		}
		if c.ID != nil {
			if *c.ID < 0 {
				errs = append(errs, fmt.Sprintf("computer '%s': id must not be negative", c.Name))
			}
			if other, dup := ids[*c.ID]; dup {
				errs = append(errs, fmt.Sprintf("computer '%s': id %d is already used by '%s'", c.Name, *c.ID, other))
			}
			ids[*c.ID] = c.Name
		}
		if c.Node != "" {
			if _, ok := nodes[c.Node]; !ok {
				errs = append(errs, fmt.Sprintf("computer '%s': unknown node '%s'", c.Name, c.Node))
			}
		}
	}

	for _, c := range m.Cables {
		for _, end := range []string{c.From, c.To} {
			if _, ok := nodes[end]; !ok {
				errs = append(errs, fmt.Sprintf("cable '%s' -> '%s': unknown node '%s'", c.From, c.To, end))
			}
		}
	}

	for _, e := range m.Events {
		if _, ok := computers[e.Computer]; !ok {
			errs = append(errs, fmt.Sprintf("event '%s': unknown computer '%s'", e.Name, e.Computer))
		}
		if e.Name == "" {
			errs = append(errs, "event: name must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
