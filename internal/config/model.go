package config

import (
	"time"

	"github.com/zclconf/go-cty/cty"
)

// Defaults applied by Model.ApplyDefaults.
const (
	DefaultTickRate                  = 20
	DefaultTaskTimeoutTicks          = 100
	DefaultKeepAliveTicks            = 100
	DefaultShutdownGraceTicks        = 10 * DefaultTickRate
	DefaultYieldBudget               = 7 * time.Second
	DefaultConsistencyInterval       = 10 * DefaultTickRate
	DefaultQueueCapacity             = 256
	DefaultComputerCapacity    int64 = 1_000_000
	DefaultDiskCapacity        int64 = 125_000
	DefaultFamily                    = "normal"
)

// Model is the unified representation of one simulation.
type Model struct {
	Simulation Simulation
	Broadcast  Broadcast
	// Families is keyed by family name.
	Families  map[string]*Family
	Computers []*Computer
	Nodes     []*Node
	Cables    []*Cable
	Events    []*Event
}

// Simulation holds the host loop settings.
type Simulation struct {
	// TickRate is the number of host ticks per second.
	TickRate int
	// TaskTimeoutTicks is how many ticks a main-thread task may wait.
	TaskTimeoutTicks int
	// TasksPerTick caps the main-thread tasks run per tick. Zero means no cap.
	TasksPerTick int
	// TaskBudget caps the wall time spent on main-thread tasks per tick.
	TaskBudget time.Duration
	// KeepAliveTicks is how long a computer may go without a keep-alive
	// before it is unloaded. Zero disables eviction.
	KeepAliveTicks int
	// ShutdownGraceTicks is how long a stopping program has to exit.
	ShutdownGraceTicks int
	YieldBudget        time.Duration
	// ConsistencyInterval is the tick period of the network self-check.
	// Zero disables it.
	ConsistencyInterval int
	// MaxSteps caps the script steps of one program run. Zero means no cap.
	MaxSteps uint64
	// ComputerCapacity and DiskCapacity are the byte budgets of one save
	// directory.
	ComputerCapacity int64
	DiskCapacity     int64
}

// Broadcast configures the remote state sinks. Empty URLs disable a sink.
type Broadcast struct {
	SocketIO        *SocketIOSink
	NATS            *NATSSink
	BreakerFailures int
	BreakerCooldown time.Duration
}

// SocketIOSink is a socket.io server receiving computer state.
type SocketIOSink struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
}

// NATSSink is a NATS server receiving computer state.
type NATSSink struct {
	URL           string
	SubjectPrefix string
}

// Family holds the per-family overrides.
type Family struct {
	Name          string
	QueueCapacity int
	YieldBudget   time.Duration
}

// Computer is one declared computer.
type Computer struct {
	Name string
	// ID is the persistent id. Nil means one is allocated on first load.
	ID     *int
	Family string
	Label  string
	// Node is the network node the computer is placed on, if any.
	Node string
	// Startup, if set, is written to the computer's startup program before
	// it boots.
	Startup   string
	Autostart bool
}

// Node is a wired network node with its local peripherals.
type Node struct {
	Name        string
	Peripherals []*Peripheral
}

// Peripheral is one peripheral declared on a node.
type Peripheral struct {
	Name string
	Type string
	// Attributes are passed to the peripheral's constructor untouched.
	Attributes map[string]cty.Value
}

// Cable connects two nodes.
type Cable struct {
	From     string
	To       string
	Distance float64
}

// Event is queued to a computer at a given host tick.
type Event struct {
	Computer string
	Name     string
	Args     []cty.Value
	// Tick is the host tick the event is queued on. Events for a computer
	// that is off at that tick are dropped.
	Tick uint64
}

// NewModel returns an empty model with default settings.
func NewModel() *Model {
	m := &Model{Families: make(map[string]*Family)}
	m.Simulation.KeepAliveTicks = DefaultKeepAliveTicks
	m.Simulation.ConsistencyInterval = DefaultConsistencyInterval
	m.ApplyDefaults()
	return m
}

// ApplyDefaults fills every unset setting.
func (m *Model) ApplyDefaults() {
	s := &m.Simulation
	if s.TickRate <= 0 {
		s.TickRate = DefaultTickRate
	}
	if s.TaskTimeoutTicks <= 0 {
		s.TaskTimeoutTicks = DefaultTaskTimeoutTicks
	}
	if s.KeepAliveTicks < 0 {
		s.KeepAliveTicks = 0
	}
	if s.ShutdownGraceTicks <= 0 {
		s.ShutdownGraceTicks = DefaultShutdownGraceTicks
	}
	if s.YieldBudget <= 0 {
		s.YieldBudget = DefaultYieldBudget
	}
	if s.ComputerCapacity <= 0 {
		s.ComputerCapacity = DefaultComputerCapacity
	}
	if s.DiskCapacity <= 0 {
		s.DiskCapacity = DefaultDiskCapacity
	}
	if m.Families == nil {
		m.Families = make(map[string]*Family)
	}
	for _, name := range []string{"normal", "advanced", "command"} {
		if _, ok := m.Families[name]; !ok {
			m.Families[name] = &Family{Name: name}
		}
	}
	for _, f := range m.Families {
		if f.QueueCapacity <= 0 {
			f.QueueCapacity = DefaultQueueCapacity
		}
		if f.YieldBudget <= 0 {
			f.YieldBudget = s.YieldBudget
		}
	}
	for _, c := range m.Computers {
		if c.Family == "" {
			c.Family = DefaultFamily
		}
	}
	for _, c := range m.Cables {
		if c.Distance <= 0 {
			c.Distance = 1
		}
	}
	if m.Broadcast.NATS != nil && m.Broadcast.NATS.SubjectPrefix == "" {
		m.Broadcast.NATS.SubjectPrefix = "computergrid"
	}
}

// Computer returns the computer declared under name.
func (m *Model) Computer(name string) (*Computer, bool) {
	for _, c := range m.Computers {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}
