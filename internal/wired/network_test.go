package wired

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/computergrid/internal/ctxlog"
	"github.com/vk/computergrid/internal/peripheral"
	"github.com/vk/computergrid/internal/testutil"
)

type fakePeripheral struct {
	typ string
	// key, when set, makes distinct objects with the same key compare equal.
	key string
}

func (p *fakePeripheral) Type() string                    { return p.typ }
func (p *fakePeripheral) Methods() peripheral.MethodTable { return nil }
func (p *fakePeripheral) Equals(o peripheral.Peripheral) bool {
	other, ok := o.(*fakePeripheral)
	if !ok {
		return false
	}
	if p.key != "" {
		return p.key == other.key
	}
	return p == other
}

type recordingListener struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (l *recordingListener) PeripheralsChanged(removed, added map[string]peripheral.Peripheral) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name := range removed {
		l.removed = append(l.removed, name)
	}
	for name := range added {
		l.added = append(l.added, name)
	}
	sort.Strings(l.added)
	sort.Strings(l.removed)
}

func (l *recordingListener) snapshot() (added, removed []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.added...), append([]string(nil), l.removed...)
}

type packetSink struct {
	fakePeripheral
	mu       sync.Mutex
	received []float64
}

func (s *packetSink) Receive(_ peripheral.Packet, distance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, distance)
}

func (s *packetSink) Equals(o peripheral.Peripheral) bool { return peripheral.Same(s, o) }

func newNetwork(t *testing.T, nodes ...string) *Network {
	t.Helper()
	n := NewNetwork(Options{})
	for _, id := range nodes {
		require.NoError(t, n.AddNode(id))
	}
	return n
}

func names(m map[string]peripheral.Peripheral) []string {
	return sortedKeys(m)
}

func TestNetwork_ModemConnectDisconnect(t *testing.T) {
	n := newNetwork(t, "A", "B")
	require.NoError(t, n.AddPeripheral("A", "modem", &fakePeripheral{typ: "modem"}))

	reach, err := n.Reachable("B")
	require.NoError(t, err)
	assert.Empty(t, reach)

	require.NoError(t, n.Connect("B", "A", 1))
	reach, err = n.Reachable("B")
	require.NoError(t, err)
	assert.Contains(t, reach, "modem")

	require.NoError(t, n.Disconnect("B", "A"))
	reach, err = n.Reachable("B")
	require.NoError(t, err)
	assert.NotContains(t, reach, "modem")
}

func TestNetwork_BridgeRemovalShrinksBothSides(t *testing.T) {
	n := newNetwork(t, "a1", "a2", "b1", "b2")
	require.NoError(t, n.AddPeripheral("a1", "left", &fakePeripheral{typ: "monitor"}))
	require.NoError(t, n.AddPeripheral("b2", "right", &fakePeripheral{typ: "monitor"}))
	require.NoError(t, n.Connect("a1", "a2", 1))
	require.NoError(t, n.Connect("b1", "b2", 1))
	require.NoError(t, n.Connect("a2", "b1", 1))

	for _, id := range []string{"a1", "a2", "b1", "b2"} {
		reach, err := n.Reachable(id)
		require.NoError(t, err)
		assert.Equal(t, []string{"left", "right"}, names(reach), id)
	}

	require.NoError(t, n.Disconnect("a2", "b1"))
	for _, id := range []string{"a1", "a2"} {
		reach, _ := n.Reachable(id)
		assert.Equal(t, []string{"left"}, names(reach), id)
	}
	for _, id := range []string{"b1", "b2"} {
		reach, _ := n.Reachable(id)
		assert.Equal(t, []string{"right"}, names(reach), id)
	}
}

func TestNetwork_SelfLoopAndMultiEdge(t *testing.T) {
	n := newNetwork(t, "a", "b")
	require.NoError(t, n.AddPeripheral("b", "disk", &fakePeripheral{typ: "drive"}))

	require.NoError(t, n.Connect("a", "a", 1))
	nb, err := n.Neighbours("a")
	require.NoError(t, err)
	assert.Empty(t, nb)

	require.NoError(t, n.Connect("a", "b", 1))
	require.NoError(t, n.Connect("b", "a", 1))
	nb, _ = n.Neighbours("a")
	assert.Equal(t, []string{"b"}, nb)

	// One disconnect removes the collapsed edge entirely.
	require.NoError(t, n.Disconnect("a", "b"))
	reach, _ := n.Reachable("a")
	assert.Empty(t, reach)
}

func TestNetwork_ListenerSuppressesDuplicatePaths(t *testing.T) {
	n := newNetwork(t, "computer", "x", "y")
	l := &recordingListener{}
	require.NoError(t, n.Attach("computer", l))

	require.NoError(t, n.AddPeripheral("y", "monitor_0", &fakePeripheral{typ: "monitor"}))
	require.NoError(t, n.Connect("computer", "x", 1))
	require.NoError(t, n.Connect("x", "y", 1))
	added, removed := l.snapshot()
	assert.Equal(t, []string{"monitor_0"}, added)
	assert.Empty(t, removed)

	// A second path and then cutting the first one must stay silent.
	require.NoError(t, n.Connect("computer", "y", 1))
	require.NoError(t, n.Disconnect("x", "y"))
	added, removed = l.snapshot()
	assert.Equal(t, []string{"monitor_0"}, added)
	assert.Empty(t, removed)

	require.NoError(t, n.Disconnect("computer", "y"))
	_, removed = l.snapshot()
	assert.Equal(t, []string{"monitor_0"}, removed)
}

func TestNetwork_EqualPeripheralReplacementIsSilent(t *testing.T) {
	n := newNetwork(t, "c", "p")
	require.NoError(t, n.Connect("c", "p", 1))
	l := &recordingListener{}
	require.NoError(t, n.Attach("c", l))

	require.NoError(t, n.AddPeripheral("p", "drive_0", &fakePeripheral{typ: "drive", key: "slot"}))
	require.NoError(t, n.Batch(func(tx *Tx) error {
		if err := tx.RemovePeripheral("p", "drive_0"); err != nil {
			return err
		}
		return tx.AddPeripheral("p", "drive_0", &fakePeripheral{typ: "drive", key: "slot"})
	}))

	added, removed := l.snapshot()
	assert.Equal(t, []string{"drive_0"}, added)
	assert.Empty(t, removed)
}

func TestNetwork_AttachDetachAnnounceSnapshot(t *testing.T) {
	n := newNetwork(t, "a")
	require.NoError(t, n.AddPeripheral("a", "modem_0", &fakePeripheral{typ: "modem"}))

	l := &recordingListener{}
	require.NoError(t, n.Attach("a", l))
	n.Detach("a", l)

	added, removed := l.snapshot()
	assert.Equal(t, []string{"modem_0"}, added)
	assert.Equal(t, []string{"modem_0"}, removed)

	// Further changes no longer reach the detached listener.
	require.NoError(t, n.AddPeripheral("a", "modem_1", &fakePeripheral{typ: "modem"}))
	added, _ = l.snapshot()
	assert.Len(t, added, 1)
}

func TestNetwork_RemoveNode(t *testing.T) {
	n := newNetwork(t, "a", "b")
	require.NoError(t, n.AddPeripheral("b", "monitor_0", &fakePeripheral{typ: "monitor"}))
	require.NoError(t, n.Connect("a", "b", 1))
	lb := &recordingListener{}
	require.NoError(t, n.Attach("b", lb))

	require.NoError(t, n.RemoveNode("b"))
	reach, err := n.Reachable("a")
	require.NoError(t, err)
	assert.Empty(t, reach)
	_, removed := lb.snapshot()
	assert.Equal(t, []string{"monitor_0"}, removed)

	_, err = n.Reachable("b")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestNetwork_Errors(t *testing.T) {
	n := newNetwork(t, "a")
	assert.ErrorIs(t, n.AddNode("a"), ErrNodeExists)
	assert.ErrorIs(t, n.Connect("a", "ghost", 1), ErrUnknownNode)
	require.NoError(t, n.AddPeripheral("a", "x", &fakePeripheral{}))
	assert.ErrorIs(t, n.AddPeripheral("a", "x", &fakePeripheral{}), ErrNameTaken)
	assert.NoError(t, n.RemovePeripheral("a", "missing"))
}

func TestNetwork_TransmitRange(t *testing.T) {
	// a --2-- b --3-- c, and a --10-- c
	n := newNetwork(t, "a", "b", "c")
	near := &packetSink{}
	far := &packetSink{}
	require.NoError(t, n.AddPeripheral("b", "near", near))
	require.NoError(t, n.AddPeripheral("c", "far", far))
	require.NoError(t, n.Connect("a", "b", 2))
	require.NoError(t, n.Connect("b", "c", 3))
	require.NoError(t, n.Connect("a", "c", 10))

	count, err := n.Transmit("a", peripheral.Packet{Channel: 1}, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []float64{2}, near.received)
	assert.Empty(t, far.received)

	count, err = n.Transmit("a", peripheral.Packet{Channel: 1}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []float64{5}, far.received, "shortest path is used, delivered once")

	_, err = n.Transmit("ghost", peripheral.Packet{}, 0)
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestNetwork_CheckConsistencyRepairs(t *testing.T) {
	ctx, logs := testutil.NewContext(t)
	n := newNetwork(t, "a", "b")
	require.NoError(t, n.AddPeripheral("a", "modem_0", &fakePeripheral{typ: "modem"}))
	require.NoError(t, n.Connect("a", "b", 1))
	require.NoError(t, n.CheckConsistency(ctx))

	n.mu.Lock()
	n.nodes["b"].reachable = map[string]peripheral.Peripheral{}
	n.mu.Unlock()

	err := n.CheckConsistency(ctx)
	assert.ErrorIs(t, err, ErrInconsistent)
	assert.Equal(t, uint64(1), n.Inconsistencies())
	testutil.AssertLogged(t, logs, "Peripheral network inconsistency detected")

	reach, _ := n.Reachable("b")
	assert.Contains(t, reach, "modem_0")
	assert.NoError(t, n.CheckConsistency(ctx))
}

func TestNetwork_BatchFullScan(t *testing.T) {
	var fullScans int
	n := NewNetwork(Options{
		FullScanThreshold: 2,
		OnRecompute: func(full bool, _ int) {
			if full {
				fullScans++
			}
		},
	})
	require.NoError(t, n.Batch(func(tx *Tx) error {
		for i := 0; i < 4; i++ {
			if err := tx.AddNode(fmt.Sprint(i)); err != nil {
				return err
			}
		}
		for i := 0; i < 3; i++ {
			if err := tx.Connect(fmt.Sprint(i), fmt.Sprint(i+1), 1); err != nil {
				return err
			}
		}
		return tx.AddPeripheral("3", "monitor_0", &fakePeripheral{typ: "monitor"})
	}))
	assert.Equal(t, 1, fullScans)
	reach, _ := n.Reachable("0")
	assert.Contains(t, reach, "monitor_0")
}

// TestNetwork_RandomOperationsMatchClosure drives random topology changes and
// checks every cached map against an independent closure after each step.
func TestNetwork_RandomOperationsMatchClosure(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	rng := rand.New(rand.NewSource(42))
	const size = 12

	n := NewNetwork(Options{FullScanThreshold: 3})
	ids := make([]string, size)
	edges := make(map[[2]int]bool)
	for i := range ids {
		ids[i] = fmt.Sprintf("n%02d", i)
		require.NoError(t, n.AddNode(ids[i]))
		if i%3 == 0 {
			require.NoError(t, n.AddPeripheral(ids[i], fmt.Sprintf("p%d", i), &fakePeripheral{typ: "monitor"}))
		}
	}

	expected := func(start int) []string {
		seen := map[int]bool{start: true}
		queue := []int{start}
		var out []string
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if cur%3 == 0 {
				out = append(out, fmt.Sprintf("p%d", cur))
			}
			for next := 0; next < size; next++ {
				a, b := cur, next
				if a > b {
					a, b = b, a
				}
				if edges[[2]int{a, b}] && !seen[next] {
					seen[next] = true
					queue = append(queue, next)
				}
			}
		}
		sort.Strings(out)
		if out == nil {
			out = []string{}
		}
		return out
	}

	for step := 0; step < 300; step++ {
		a, b := rng.Intn(size), rng.Intn(size)
		if a > b {
			a, b = b, a
		}
		if rng.Intn(2) == 0 {
			require.NoError(t, n.Connect(ids[a], ids[b], float64(1+rng.Intn(5))))
			if a != b {
				edges[[2]int{a, b}] = true
			}
		} else {
			require.NoError(t, n.Disconnect(ids[a], ids[b]))
			delete(edges, [2]int{a, b})
		}

		for i, id := range ids {
			reach, err := n.Reachable(id)
			require.NoError(t, err)
			require.Equal(t, expected(i), names(reach), "step %d node %s", step, id)
		}
	}
	assert.NoError(t, n.CheckConsistency(ctx))
}

func TestNetwork_ConcurrentReadersSeeWholeMaps(t *testing.T) {
	n := newNetwork(t, "a", "b")
	require.NoError(t, n.AddPeripheral("b", "x", &fakePeripheral{}))
	require.NoError(t, n.AddPeripheral("b", "y", &fakePeripheral{}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = n.Connect("a", "b", 1)
			_ = n.Disconnect("a", "b")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			reach, err := n.Reachable("a")
			if err != nil {
				t.Error(err)
				return
			}
			if l := len(reach); l != 0 && l != 2 {
				t.Errorf("torn read: %v", names(reach))
				return
			}
		}
	}()
	wg.Wait()
}
