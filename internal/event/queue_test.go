package event

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func mustEvent(t *testing.T, name string, args ...any) Event {
	t.Helper()
	e, err := New(name, args...)
	require.NoError(t, err)
	return e
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(4)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(mustEvent(t, "char", fmt.Sprint(i))))
	}

	for i := 0; i < 3; i++ {
		e, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, cty.StringVal(fmt.Sprint(i)), e.Args[0])
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

// Filling past capacity drops the incoming events, so the first ones survive.
func TestQueue_OverflowDropsIncoming(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 5; i++ {
		err := q.Push(mustEvent(t, "key", i))
		if i < 3 {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, ErrQueueFull)
		}
		assert.LessOrEqual(t, q.Len(), 3)
	}
	assert.Equal(t, uint64(2), q.Dropped())

	var got []string
	for e, ok := q.Pop(); ok; e, ok = q.Pop() {
		got = append(got, FormatValue(e.Args[0]))
	}
	assert.Equal(t, []string{"0", "1", "2"}, got)
}

func TestQueue_PushSystemEvictsOldest(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Push(mustEvent(t, "key", 1)))
	require.NoError(t, q.Push(mustEvent(t, "key", 2)))

	assert.True(t, q.PushSystem(Event{Name: Shutdown}))
	assert.Equal(t, 2, q.Len())

	e, _ := q.Pop()
	assert.Equal(t, "key(2)", e.String())
	e, _ = q.Pop()
	assert.Equal(t, Shutdown, e.Name)
}

func TestQueue_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewQueue(0).Cap())
}

func TestQueue_ConcurrentProducersNeverExceedCapacity(t *testing.T) {
	q := NewQueue(50)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Push(Event{Name: "redstone"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, q.Len())
	assert.Equal(t, uint64(150), q.Dropped())
}

func TestEvent_String(t *testing.T) {
	e := mustEvent(t, "key", 65, false)
	assert.Equal(t, "key(65, false)", e.String())

	e = mustEvent(t, "modem_message", "top", 1, nil, map[string]string{"a": "b"})
	assert.Equal(t, `modem_message("top", 1, null, {a="b"})`, e.String())
}

func TestToValue(t *testing.T) {
	v, err := ToValue(cty.True)
	require.NoError(t, err)
	assert.Equal(t, cty.True, v)

	_, err = ToValue(make(chan int))
	assert.Error(t, err)
}
