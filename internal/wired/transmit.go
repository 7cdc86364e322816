package wired

import (
	"container/heap"
	"math"

	"github.com/vk/computergrid/internal/peripheral"
)

// Unlimited is the range of a transmission that is not distance limited.
var Unlimited = math.Inf(1)

type hop struct {
	id       string
	distance float64
}

type hopQueue []hop

func (q hopQueue) Len() int { return len(q) }
func (q hopQueue) Less(i, j int) bool {
	if q[i].distance == q[j].distance {
		return q[i].id < q[j].id
	}
	return q[i].distance < q[j].distance
}
func (q hopQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *hopQueue) Push(x any)   { *q = append(*q, x.(hop)) }
func (q *hopQueue) Pop() any {
	old := *q
	h := old[len(old)-1]
	*q = old[:len(old)-1]
	return h
}

type delivery struct {
	receiver peripheral.Receiver
	distance float64
}

// Transmit hands packet to every Receiver peripheral on each node whose
// shortest edge distance from source is within rng. Each receiver gets the
// packet at most once. A non-positive rng is unlimited. It returns the number
// of receivers reached.
func (n *Network) Transmit(source string, packet peripheral.Packet, rng float64) (int, error) {
	if rng <= 0 {
		rng = Unlimited
	}

	n.mu.RLock()
	if _, err := n.get(source); err != nil {
		n.mu.RUnlock()
		return 0, err
	}

	settled := make(map[string]float64)
	q := &hopQueue{{id: source}}
	for q.Len() > 0 {
		h := heap.Pop(q).(hop)
		if _, done := settled[h.id]; done {
			continue
		}
		settled[h.id] = h.distance
		for next, w := range n.nodes[h.id].edges {
			if _, done := settled[next]; done {
				continue
			}
			if d := h.distance + w; d <= rng {
				heap.Push(q, hop{id: next, distance: d})
			}
		}
	}

	var deliveries []delivery
	seen := make(map[peripheral.Receiver]struct{})
	for _, id := range sortedKeys(settled) {
		nd := n.nodes[id]
		for _, name := range sortedKeys(nd.peripherals) {
			r, ok := nd.peripherals[name].(peripheral.Receiver)
			if !ok {
				continue
			}
			if _, dup := seen[r]; dup {
				continue
			}
			seen[r] = struct{}{}
			deliveries = append(deliveries, delivery{receiver: r, distance: settled[id]})
		}
	}
	n.mu.RUnlock()

	for _, d := range deliveries {
		d.receiver.Receive(packet, d.distance)
	}
	return len(deliveries), nil
}
