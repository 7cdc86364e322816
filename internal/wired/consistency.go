package wired

import (
	"context"
	"fmt"

	"github.com/vk/computergrid/internal/ctxlog"
	"github.com/vk/computergrid/internal/peripheral"
)

// closure computes the peripherals reachable from id by walking the graph
// from scratch, ignoring every cached map.
func (n *Network) closure(id string) map[string]peripheral.Peripheral {
	return n.union(n.component(id, make(map[string]struct{})))
}

func sameMap(a, b map[string]peripheral.Peripheral) bool {
	if len(a) != len(b) {
		return false
	}
	for name, p := range a {
		q, ok := b[name]
		if !ok || !q.Equals(p) {
			return false
		}
	}
	return true
}

// CheckConsistency compares every cached reachable map with its closure
// computed from first principles. On any mismatch it logs the offending
// nodes, rebuilds the whole graph and returns ErrInconsistent.
func (n *Network) CheckConsistency(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	n.mutating.Lock()
	defer n.mutating.Unlock()

	n.mu.Lock()
	var stale []string
	for _, id := range sortedKeys(n.nodes) {
		if !sameMap(n.nodes[id].reachable, n.closure(id)) {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		n.mu.Unlock()
		return nil
	}
	n.inconsistencies++
	changes := n.recompute(nil, true)
	n.mu.Unlock()

	logger.Warn("Peripheral network inconsistency detected, rebuilt every reachable map.",
		"stale_nodes", stale,
		"nodes", len(n.Nodes()),
	)
	dispatch(changes)
	return fmt.Errorf("%w: %d stale nodes", ErrInconsistent, len(stale))
}
