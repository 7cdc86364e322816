package wired

import (
	"sort"

	"github.com/vk/computergrid/internal/peripheral"
)

type change struct {
	listener Listener
	removed  map[string]peripheral.Peripheral
	added    map[string]peripheral.Peripheral
}

func dispatch(changes []change) {
	for _, c := range changes {
		c.listener.PeripheralsChanged(c.removed, c.added)
	}
}

// component returns every node connected to start, sorted by handle.
func (n *Network) component(start string, visited map[string]struct{}) []string {
	var members []string
	queue := []string{start}
	visited[start] = struct{}{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		members = append(members, id)
		for next := range n.nodes[id].edges {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	sort.Strings(members)
	return members
}

// union merges the local peripherals of members. On a name clash the node
// with the lowest handle wins, so the result does not depend on map order.
func (n *Network) union(members []string) map[string]peripheral.Peripheral {
	out := make(map[string]peripheral.Peripheral)
	for _, id := range members {
		for name, p := range n.nodes[id].peripherals {
			if _, taken := out[name]; !taken {
				out[name] = p
			}
		}
	}
	return out
}

// recompute refreshes the reachable maps of every component touching seeds,
// or of the whole graph when full is set. Callers hold the write lock.
func (n *Network) recompute(seeds map[string]struct{}, full bool) []change {
	var starts []string
	if full {
		starts = sortedKeys(n.nodes)
	} else {
		starts = sortedKeys(seeds)
	}

	visited := make(map[string]struct{})
	var changes []change
	scanned := 0
	for _, start := range starts {
		if _, ok := n.nodes[start]; !ok {
			continue
		}
		if _, seen := visited[start]; seen {
			continue
		}
		members := n.component(start, visited)
		scanned += len(members)
		reachable := n.union(members)
		for _, id := range members {
			nd := n.nodes[id]
			removed, added := diff(nd.reachable, reachable)
			nd.reachable = copyMap(reachable)
			if len(removed) == 0 && len(added) == 0 {
				continue
			}
			for _, l := range nd.listeners {
				changes = append(changes, change{listener: l, removed: removed, added: added})
			}
		}
	}
	if n.opts.OnRecompute != nil && len(starts) > 0 {
		n.opts.OnRecompute(full, scanned)
	}
	return changes
}

// diff compares two reachable maps by name and peripheral equality. A name
// that maps to an equal peripheral on both sides is left out of both results.
func diff(old, cur map[string]peripheral.Peripheral) (removed, added map[string]peripheral.Peripheral) {
	for name, p := range old {
		if q, ok := cur[name]; !ok || !q.Equals(p) {
			if removed == nil {
				removed = make(map[string]peripheral.Peripheral)
			}
			removed[name] = p
		}
	}
	for name, p := range cur {
		if q, ok := old[name]; !ok || !q.Equals(p) {
			if added == nil {
				added = make(map[string]peripheral.Peripheral)
			}
			added[name] = p
		}
	}
	return removed, added
}
