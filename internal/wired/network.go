package wired

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vk/computergrid/internal/peripheral"
)

var (
	// ErrUnknownNode is returned when an operation names a node that was
	// never added.
	ErrUnknownNode = errors.New("unknown network node")
	// ErrNodeExists is returned by AddNode for a duplicate handle.
	ErrNodeExists = errors.New("network node already exists")
	// ErrNameTaken is returned when a node already has a peripheral under
	// the requested name.
	ErrNameTaken = errors.New("peripheral name already in use")
	// ErrInconsistent reports that a cached reachable map disagreed with a
	// recomputation from first principles. The network repairs itself
	// before returning it.
	ErrInconsistent = errors.New("peripheral network inconsistency")
)

// DefaultFullScanThreshold is used when Options.FullScanThreshold is unset.
const DefaultFullScanThreshold = 64

// Listener is told about changes to one node's reachable map.
type Listener interface {
	PeripheralsChanged(removed, added map[string]peripheral.Peripheral)
}

// Options configures a Network.
type Options struct {
	// FullScanThreshold is the seed count above which a recomputation scans
	// every component rather than only the affected ones.
	FullScanThreshold int
	// OnRecompute, if set, is called after every recomputation with the
	// number of nodes rescanned.
	OnRecompute func(full bool, nodes int)
}

type node struct {
	id          string
	peripherals map[string]peripheral.Peripheral
	edges       map[string]float64
	reachable   map[string]peripheral.Peripheral
	listeners   []Listener
}

func newNode(id string) *node {
	return &node{
		id:          id,
		peripherals: make(map[string]peripheral.Peripheral),
		edges:       make(map[string]float64),
		reachable:   make(map[string]peripheral.Peripheral),
	}
}

// Network is a shared peripheral graph. All methods are safe for concurrent
// use.
type Network struct {
	opts Options

	// mutating serialises writers, including their notification phase.
	mutating sync.Mutex
	mu       sync.RWMutex
	nodes    map[string]*node

	inconsistencies uint64
}

// NewNetwork creates an empty network.
func NewNetwork(opts Options) *Network {
	if opts.FullScanThreshold <= 0 {
		opts.FullScanThreshold = DefaultFullScanThreshold
	}
	return &Network{opts: opts, nodes: make(map[string]*node)}
}

func (n *Network) get(id string) (*node, error) {
	nd, ok := n.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return nd, nil
}

// Nodes returns every node handle, sorted.
func (n *Network) Nodes() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return sortedKeys(n.nodes)
}

// HasNode reports whether id was added.
func (n *Network) HasNode(id string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.nodes[id]
	return ok
}

// Reachable returns a copy of the peripherals reachable from id.
func (n *Network) Reachable(id string) (map[string]peripheral.Peripheral, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	nd, err := n.get(id)
	if err != nil {
		return nil, err
	}
	return copyMap(nd.reachable), nil
}

// Peripheral looks up one reachable peripheral by name.
func (n *Network) Peripheral(id, name string) (peripheral.Peripheral, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	nd, ok := n.nodes[id]
	if !ok {
		return nil, false
	}
	p, ok := nd.reachable[name]
	return p, ok
}

// Local returns a copy of the peripherals owned by id itself.
func (n *Network) Local(id string) (map[string]peripheral.Peripheral, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	nd, err := n.get(id)
	if err != nil {
		return nil, err
	}
	return copyMap(nd.peripherals), nil
}

// Neighbours returns the nodes directly connected to id, sorted.
func (n *Network) Neighbours(id string) ([]string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	nd, err := n.get(id)
	if err != nil {
		return nil, err
	}
	return sortedKeys(nd.edges), nil
}

// Inconsistencies returns how many times CheckConsistency found and repaired
// a stale reachable map.
func (n *Network) Inconsistencies() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.inconsistencies
}

// Attach registers l on node id and immediately announces everything
// currently reachable from it.
func (n *Network) Attach(id string, l Listener) error {
	n.mutating.Lock()
	defer n.mutating.Unlock()

	n.mu.Lock()
	nd, err := n.get(id)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	nd.listeners = append(nd.listeners, l)
	current := copyMap(nd.reachable)
	n.mu.Unlock()

	if len(current) > 0 {
		l.PeripheralsChanged(nil, current)
	}
	return nil
}

// Detach unregisters l from node id, announcing every peripheral it could
// see as removed. Detaching an unknown listener is a no-op.
func (n *Network) Detach(id string, l Listener) {
	n.mutating.Lock()
	defer n.mutating.Unlock()

	n.mu.Lock()
	nd, ok := n.nodes[id]
	if !ok {
		n.mu.Unlock()
		return
	}
	found := false
	for i, existing := range nd.listeners {
		if existing == l {
			nd.listeners = append(nd.listeners[:i], nd.listeners[i+1:]...)
			found = true
			break
		}
	}
	current := copyMap(nd.reachable)
	n.mu.Unlock()

	if found && len(current) > 0 {
		l.PeripheralsChanged(current, nil)
	}
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
