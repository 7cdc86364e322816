package computer

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a computer.
type State int32

const (
	// StateOff means no worker is running.
	StateOff State = iota
	// StateStarting means a worker is loading the startup program.
	StateStarting
	// StateOn means the program is running.
	StateOn
	// StateStopping means a shutdown was requested and the worker has not
	// exited yet.
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateStarting:
		return "starting"
	case StateOn:
		return "on"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Family is the tier of a computer. It selects the storage budget and the
// capabilities exposed to the program.
type Family int

const (
	FamilyNormal Family = iota
	FamilyAdvanced
	FamilyCommand
)

func (f Family) String() string {
	switch f {
	case FamilyNormal:
		return "normal"
	case FamilyAdvanced:
		return "advanced"
	case FamilyCommand:
		return "command"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Colour reports whether the family has a colour terminal.
func (f Family) Colour() bool { return f == FamilyAdvanced || f == FamilyCommand }

// ParseFamily resolves a family name case-insensitively.
func ParseFamily(name string) (Family, error) {
	switch strings.ToLower(name) {
	case "normal", "":
		return FamilyNormal, nil
	case "advanced":
		return FamilyAdvanced, nil
	case "command":
		return FamilyCommand, nil
	}
	return 0, fmt.Errorf("unknown computer family %q", name)
}
