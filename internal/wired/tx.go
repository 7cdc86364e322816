package wired

import (
	"fmt"

	"github.com/vk/computergrid/internal/peripheral"
)

// Tx groups several mutations into one recomputation. It is only valid
// inside the function passed to Network.Batch.
type Tx struct {
	net     *Network
	seeds   map[string]struct{}
	changes []change
}

func (tx *Tx) seed(ids ...string) {
	for _, id := range ids {
		tx.seeds[id] = struct{}{}
	}
}

// Batch runs fn with the network locked for writing and recomputes
// reachability once afterwards. Mutations applied before fn returns an error
// are kept; the graph is recomputed either way.
func (n *Network) Batch(fn func(tx *Tx) error) error {
	n.mutating.Lock()
	defer n.mutating.Unlock()

	tx := &Tx{net: n, seeds: make(map[string]struct{})}

	n.mu.Lock()
	err := fn(tx)
	changes := append(tx.changes, n.recompute(tx.seeds, len(tx.seeds) > n.opts.FullScanThreshold)...)
	n.mu.Unlock()

	dispatch(changes)
	return err
}

// AddNode creates an isolated node.
func (n *Network) AddNode(id string) error {
	return n.Batch(func(tx *Tx) error { return tx.AddNode(id) })
}

// RemoveNode deletes a node with its edges and peripherals.
func (n *Network) RemoveNode(id string) error {
	return n.Batch(func(tx *Tx) error { return tx.RemoveNode(id) })
}

// Connect adds an undirected edge. A non-positive distance counts as 1.
func (n *Network) Connect(a, b string, distance float64) error {
	return n.Batch(func(tx *Tx) error { return tx.Connect(a, b, distance) })
}

// Disconnect removes the edge between a and b, if any.
func (n *Network) Disconnect(a, b string) error {
	return n.Batch(func(tx *Tx) error { return tx.Disconnect(a, b) })
}

// AddPeripheral gives node id a peripheral under name.
func (n *Network) AddPeripheral(id, name string, p peripheral.Peripheral) error {
	return n.Batch(func(tx *Tx) error { return tx.AddPeripheral(id, name, p) })
}

// RemovePeripheral takes a peripheral off node id. Unknown names are ignored.
func (n *Network) RemovePeripheral(id, name string) error {
	return n.Batch(func(tx *Tx) error { return tx.RemovePeripheral(id, name) })
}

// Recompute rebuilds every reachable map.
func (n *Network) Recompute() {
	n.mutating.Lock()
	defer n.mutating.Unlock()

	n.mu.Lock()
	changes := n.recompute(nil, true)
	n.mu.Unlock()
	dispatch(changes)
}

func (tx *Tx) AddNode(id string) error {
	if _, exists := tx.net.nodes[id]; exists {
		return fmt.Errorf("%w: %s", ErrNodeExists, id)
	}
	tx.net.nodes[id] = newNode(id)
	return nil
}

func (tx *Tx) RemoveNode(id string) error {
	nd, err := tx.net.get(id)
	if err != nil {
		return err
	}
	for other := range nd.edges {
		delete(tx.net.nodes[other].edges, id)
		tx.seed(other)
	}
	// The node's own listeners lose everything they could see.
	if len(nd.reachable) > 0 {
		for _, l := range nd.listeners {
			tx.changes = append(tx.changes, change{listener: l, removed: copyMap(nd.reachable)})
		}
	}
	delete(tx.net.nodes, id)
	delete(tx.seeds, id)
	return nil
}

func (tx *Tx) Connect(a, b string, distance float64) error {
	na, err := tx.net.get(a)
	if err != nil {
		return err
	}
	nb, err := tx.net.get(b)
	if err != nil {
		return err
	}
	if a == b {
		return nil
	}
	if distance <= 0 {
		distance = 1
	}
	na.edges[b] = distance
	nb.edges[a] = distance
	tx.seed(a, b)
	return nil
}

func (tx *Tx) Disconnect(a, b string) error {
	na, err := tx.net.get(a)
	if err != nil {
		return err
	}
	nb, err := tx.net.get(b)
	if err != nil {
		return err
	}
	if _, ok := na.edges[b]; !ok {
		return nil
	}
	delete(na.edges, b)
	delete(nb.edges, a)
	tx.seed(a, b)
	return nil
}

func (tx *Tx) AddPeripheral(id, name string, p peripheral.Peripheral) error {
	nd, err := tx.net.get(id)
	if err != nil {
		return err
	}
	if _, exists := nd.peripherals[name]; exists {
		return fmt.Errorf("%w: %s on %s", ErrNameTaken, name, id)
	}
	nd.peripherals[name] = p
	tx.seed(id)
	return nil
}

func (tx *Tx) RemovePeripheral(id, name string) error {
	nd, err := tx.net.get(id)
	if err != nil {
		return err
	}
	if _, ok := nd.peripherals[name]; !ok {
		return nil
	}
	delete(nd.peripherals, name)
	tx.seed(id)
	return nil
}
