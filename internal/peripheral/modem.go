package peripheral

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// MaxChannel is the highest channel a modem can open.
const MaxChannel = 65535

// ModemType is the peripheral type name of a wired modem.
const ModemType = "modem"

// Modem sends and receives packets on numbered channels across the network
// its node belongs to. Received packets on open channels are queued as
// modem_message events on every computer attached to the modem.
type Modem struct {
	node    string
	network Network
	rng     float64

	mu        sync.Mutex
	open      map[int]struct{}
	computers map[Computer]string
	methods   MethodTable
}

// NewModem creates a modem living on node. A non-positive rng means the
// packets it sends are not distance limited.
func NewModem(node string, network Network, rng float64) *Modem {
	if rng <= 0 {
		rng = math.Inf(1)
	}
	m := &Modem{
		node:      node,
		network:   network,
		rng:       rng,
		open:      make(map[int]struct{}),
		computers: make(map[Computer]string),
	}
	m.methods = MethodTable{
		"open":            {Fn: m.callOpen},
		"close":           {Fn: m.callClose},
		"isOpen":          {Fn: m.callIsOpen},
		"closeAll":        {Fn: m.callCloseAll},
		"transmit":        {Fn: m.callTransmit},
		"isWireless":      {Fn: func(context.Context, Call) ([]cty.Value, error) { return Values(cty.False), nil }},
		"getNamesRemote":  {Fn: m.callGetNamesRemote},
		"isPresentRemote": {Fn: m.callIsPresentRemote},
		"getTypeRemote":   {Fn: m.callGetTypeRemote},
		"getNameLocal":    {Fn: m.callGetNameLocal},
	}
	return m
}

func (m *Modem) Type() string { return ModemType }

func (m *Modem) Methods() MethodTable { return m.methods }

func (m *Modem) Equals(o Peripheral) bool { return Same(m, o) }

// Node returns the network node the modem lives on.
func (m *Modem) Node() string { return m.node }

func (m *Modem) Attach(c Computer, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computers[c] = name
}

func (m *Modem) Detach(c Computer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.computers, c)
}

// IsOpen reports whether channel is open.
func (m *Modem) IsOpen(channel int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.open[channel]
	return ok
}

// Receive implements Receiver.
func (m *Modem) Receive(p Packet, distance float64) {
	if p.Sender == m {
		return
	}
	m.mu.Lock()
	if _, ok := m.open[p.Channel]; !ok {
		m.mu.Unlock()
		return
	}
	targets := make(map[Computer]string, len(m.computers))
	for c, name := range m.computers {
		targets[c] = name
	}
	m.mu.Unlock()

	payload := p.Payload
	if payload == cty.NilVal {
		payload = cty.NullVal(cty.DynamicPseudoType)
	}
	for c, name := range targets {
		c.QueueEvent("modem_message",
			cty.StringVal(name),
			cty.NumberIntVal(int64(p.Channel)),
			cty.NumberIntVal(int64(p.ReplyChannel)),
			payload,
			cty.NumberFloatVal(distance),
		)
	}
}

func channelArg(args []cty.Value, i int) (int, error) {
	ch, err := IntArg(args, i)
	if err != nil {
		return 0, err
	}
	if ch < 0 || ch > MaxChannel {
		return 0, fmt.Errorf("bad argument #%d (channel out of range 0-%d)", i+1, MaxChannel)
	}
	return ch, nil
}

func (m *Modem) callOpen(_ context.Context, call Call) ([]cty.Value, error) {
	ch, err := channelArg(call.Args, 0)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[ch] = struct{}{}
	return nil, nil
}

func (m *Modem) callClose(_ context.Context, call Call) ([]cty.Value, error) {
	ch, err := channelArg(call.Args, 0)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, ch)
	return nil, nil
}

func (m *Modem) callIsOpen(_ context.Context, call Call) ([]cty.Value, error) {
	ch, err := channelArg(call.Args, 0)
	if err != nil {
		return nil, err
	}
	return Values(cty.BoolVal(m.IsOpen(ch))), nil
}

func (m *Modem) callCloseAll(context.Context, Call) ([]cty.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = make(map[int]struct{})
	return nil, nil
}

func (m *Modem) callTransmit(_ context.Context, call Call) ([]cty.Value, error) {
	ch, err := channelArg(call.Args, 0)
	if err != nil {
		return nil, err
	}
	reply, err := channelArg(call.Args, 1)
	if err != nil {
		return nil, err
	}
	if m.network == nil {
		return nil, nil
	}
	packet := Packet{Channel: ch, ReplyChannel: reply, Payload: arg(call.Args, 2), Sender: m}
	if _, err := m.network.Transmit(m.node, packet, m.rng); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *Modem) callGetNamesRemote(context.Context, Call) ([]cty.Value, error) {
	if m.network == nil {
		return Values(cty.ListValEmpty(cty.String)), nil
	}
	reachable, err := m.network.Reachable(m.node)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(reachable))
	for name, p := range reachable {
		if p.Equals(m) {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return Values(cty.ListValEmpty(cty.String)), nil
	}
	sort.Strings(names)
	vals := make([]cty.Value, len(names))
	for i, n := range names {
		vals[i] = cty.StringVal(n)
	}
	return Values(cty.ListVal(vals)), nil
}

func (m *Modem) remote(name string) (Peripheral, error) {
	if m.network == nil {
		return nil, nil
	}
	reachable, err := m.network.Reachable(m.node)
	if err != nil {
		return nil, err
	}
	p, ok := reachable[name]
	if !ok || p.Equals(m) {
		return nil, nil
	}
	return p, nil
}

func (m *Modem) callIsPresentRemote(_ context.Context, call Call) ([]cty.Value, error) {
	name, err := StringArg(call.Args, 0)
	if err != nil {
		return nil, err
	}
	p, err := m.remote(name)
	if err != nil {
		return nil, err
	}
	return Values(cty.BoolVal(p != nil)), nil
}

func (m *Modem) callGetTypeRemote(_ context.Context, call Call) ([]cty.Value, error) {
	name, err := StringArg(call.Args, 0)
	if err != nil {
		return nil, err
	}
	p, err := m.remote(name)
	if err != nil || p == nil {
		return Values(cty.NullVal(cty.String)), err
	}
	return Values(cty.StringVal(p.Type())), nil
}

// getNameLocal reports the name the modem itself is known by on the network.
func (m *Modem) callGetNameLocal(context.Context, Call) ([]cty.Value, error) {
	if m.network == nil {
		return Values(cty.NullVal(cty.String)), nil
	}
	reachable, err := m.network.Reachable(m.node)
	if err != nil {
		return nil, err
	}
	for name, p := range reachable {
		if p.Equals(m) {
			return Values(cty.StringVal(name)), nil
		}
	}
	return Values(cty.NullVal(cty.String)), nil
}
