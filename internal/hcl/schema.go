package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot is a struct used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Simulation *simulationBlock `hcl:"simulation,block"`
	Broadcast  *broadcastBlock  `hcl:"broadcast,block"`
	Families   []*familyBlock   `hcl:"family,block"`
	Computers  []*computerBlock `hcl:"computer,block"`
	Nodes      []*nodeBlock     `hcl:"node,block"`
	Cables     []*cableBlock    `hcl:"cable,block"`
	Events     []*eventBlock    `hcl:"event,block"`
}

type simulationBlock struct {
	TickRate            *int    `hcl:"tick_rate,optional"`
	TaskTimeoutTicks    *int    `hcl:"task_timeout_ticks,optional"`
	TasksPerTick        *int    `hcl:"tasks_per_tick,optional"`
	TaskBudget          *string `hcl:"task_budget,optional"`
	KeepAliveTicks      *int    `hcl:"keep_alive_ticks,optional"`
	ShutdownGraceTicks  *int    `hcl:"shutdown_grace_ticks,optional"`
	YieldBudget         *string `hcl:"yield_budget,optional"`
	ConsistencyInterval *int    `hcl:"consistency_interval,optional"`
	MaxSteps            *int    `hcl:"max_steps,optional"`
	ComputerCapacity    *int64  `hcl:"computer_capacity,optional"`
	DiskCapacity        *int64  `hcl:"disk_capacity,optional"`
}

type broadcastBlock struct {
	BreakerFailures *int           `hcl:"breaker_failures,optional"`
	BreakerCooldown *string        `hcl:"breaker_cooldown,optional"`
	SocketIO        *socketIOBlock `hcl:"socketio,block"`
	NATS            *natsBlock     `hcl:"nats,block"`
}

type socketIOBlock struct {
	URL                string `hcl:"url"`
	Namespace          string `hcl:"namespace,optional"`
	InsecureSkipVerify bool   `hcl:"insecure_skip_verify,optional"`
}

type natsBlock struct {
	URL           string `hcl:"url"`
	SubjectPrefix string `hcl:"subject_prefix,optional"`
}

type familyBlock struct {
	Name          string  `hcl:"name,label"`
	QueueCapacity *int    `hcl:"queue_capacity,optional"`
	YieldBudget   *string `hcl:"yield_budget,optional"`
}

type computerBlock struct {
	Name      string `hcl:"name,label"`
	ID        *int   `hcl:"id,optional"`
	Family    string `hcl:"family,optional"`
	Label     string `hcl:"label,optional"`
	Node      string `hcl:"node,optional"`
	Startup   string `hcl:"startup,optional"`
	Autostart *bool  `hcl:"autostart,optional"`
}

type nodeBlock struct {
	Name        string             `hcl:"name,label"`
	Peripherals []*peripheralBlock `hcl:"peripheral,block"`
}

// peripheralBlock keeps every attribute besides type for the peripheral's
// constructor.
type peripheralBlock struct {
	Name   string   `hcl:"name,label"`
	Type   string   `hcl:"type"`
	Remain hcl.Body `hcl:",remain"`
}

type cableBlock struct {
	From     string   `hcl:"from"`
	To       string   `hcl:"to"`
	Distance *float64 `hcl:"distance,optional"`
}

type eventBlock struct {
	Name     string         `hcl:"name,label"`
	Computer string         `hcl:"computer"`
	Args     hcl.Expression `hcl:"args,optional"`
	Tick     *int           `hcl:"tick,optional"`
}
