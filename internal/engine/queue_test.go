package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(Event{Type: EventInbound, Text: "A"})
	q.Enqueue(Event{Type: EventPresence, Peers: peers("x")})
	q.Enqueue(Event{Type: EventResync})

	e1, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "A", e1.Text)

	e2, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, EventPresence, e2.Type)

	e3, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, EventResync, e3.Type)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestEventQueue_ClosedRejectsEnqueue(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(Event{Type: EventResync})
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(Event{Type: EventResync}))
	assert.Equal(t, 1, q.Len(), "queued events survive close")

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("Wait should fire after Close")
	}
}

func TestEventQueue_ConcurrentEnqueue(t *testing.T) {
	q := newEventQueue()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(Event{Type: EventInbound})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, q.Len())
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "presence", EventPresence.String())
	assert.Equal(t, "inbound", EventInbound.String())
	assert.Equal(t, "resync", EventResync.String())
	assert.Equal(t, "unknown", EventType(0).String())
}

func TestEventQueue_DrainedOnlyWhenClosedAndEmpty(t *testing.T) {
	q := newEventQueue()
	assert.False(t, q.drained(), "open and empty")

	q.Enqueue(Event{Type: EventResync})
	q.Close()
	assert.False(t, q.drained(), "closed with a pending event")

	_, ok := q.TryDequeue()
	require.True(t, ok)
	assert.True(t, q.drained())
}
