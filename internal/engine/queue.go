package engine

import (
	"sync"

	"github.com/roach88/huddle/internal/transport"
)

// EventType distinguishes queue units.
type EventType int

const (
	// EventPresence carries a full peer snapshot from the host transport.
	EventPresence EventType = iota + 1
	// EventInbound carries one inbound text message.
	EventInbound
	// EventResync asks for an unconditional FULL_SYNC.
	EventResync
)

func (t EventType) String() string {
	switch t {
	case EventPresence:
		return "presence"
	case EventInbound:
		return "inbound"
	case EventResync:
		return "resync"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the Run loop.
type Event struct {
	Type  EventType
	Peers []transport.Peer
	Text  string
}

// eventQueue is an unbounded FIFO between stream pumps and the Run loop.
//
// Enqueue never blocks so a slow pass cannot stall the transport's
// delivery goroutines. The signal channel lets Run wait with a select on
// ctx.Done().
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	// Release the peer slice held by the backing array.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that fires when events may be available, and is
// closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// drained reports whether the queue is closed and empty. A stale signal
// can fire while the queue is open and empty, so Run checks both.
func (q *eventQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

// Close rejects further enqueues. Events already queued are still drained.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
