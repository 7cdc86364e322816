// Package peripheral defines the host-side capability objects that computers
// reach through the wired network, together with the built-in kinds.
//
// Every peripheral exposes a fixed MethodTable built when it is constructed.
// Scripts call methods by name through that table; nothing is resolved by
// reflection at call time. Methods flagged MainThread are routed through the
// task bridge by the caller.
package peripheral

import (
	"context"
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// Computer is the view a peripheral has of a computer using it.
type Computer interface {
	ID() int
	QueueEvent(name string, args ...cty.Value)
}

// Call carries the arguments of one method invocation.
type Call struct {
	Computer Computer
	Args     []cty.Value
}

// Method is one named operation of a peripheral.
type Method struct {
	MainThread bool
	Fn         func(ctx context.Context, call Call) ([]cty.Value, error)
}

// MethodTable maps method names to their implementations.
type MethodTable map[string]Method

// Names returns the method names in sorted order.
func (t MethodTable) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Peripheral is a named capability object owned by a network node.
type Peripheral interface {
	Type() string
	Methods() MethodTable
	// Equals reports whether other is the same logical peripheral, so that a
	// peripheral reachable through two paths is announced only once.
	Equals(other Peripheral) bool
}

// Attachable peripherals are told when a computer gains or loses sight of
// them, under the name the computer uses.
type Attachable interface {
	Attach(c Computer, name string)
	Detach(c Computer)
}

// Packet is a message propagated across the wired network.
type Packet struct {
	Channel      int
	ReplyChannel int
	Payload      cty.Value
	// Sender identifies the transmitting peripheral so it does not hear
	// its own packet.
	Sender any
}

// Receiver peripherals are handed every packet that reaches their node.
type Receiver interface {
	Receive(packet Packet, distance float64)
}

// Network is the part of the wired network a peripheral may use.
type Network interface {
	Transmit(source string, packet Packet, rng float64) (int, error)
	Reachable(node string) (map[string]Peripheral, error)
}

// Same is the default equality relation: identity.
func Same(a, b Peripheral) bool {
	return a == b
}
