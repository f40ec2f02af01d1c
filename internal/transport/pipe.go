package transport

import (
	"context"
	"sync"
)

// Pipe is an unbounded FIFO that delivers pushed values on a channel.
//
// Push never blocks, so a slow subscriber cannot stall the link. Values are
// delivered in push order. Close stops delivery and closes the channel;
// values still buffered at that point are dropped.
type Pipe[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // buffered, size 1
	out    chan T
	done   chan struct{}
}

// NewPipe creates a pipe and starts its delivery goroutine, which stops when
// ctx is done or Close is called.
func NewPipe[T any](ctx context.Context) *Pipe[T] {
	p := &Pipe[T]{
		signal: make(chan struct{}, 1),
		out:    make(chan T),
		done:   make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

// Out returns the delivery channel.
func (p *Pipe[T]) Out() <-chan T {
	return p.out
}

// Push appends v. Returns false if the pipe is closed.
func (p *Pipe[T]) Push(v T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	p.items = append(p.items, v)

	select {
	case p.signal <- struct{}{}:
	default:
	}
	return true
}

// Close stops delivery. Safe to call more than once.
func (p *Pipe[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
}

func (p *Pipe[T]) pop() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	if len(p.items) == 0 {
		return zero, false
	}
	v := p.items[0]
	p.items[0] = zero
	p.items = p.items[1:]
	return v, true
}

func (p *Pipe[T]) run(ctx context.Context) {
	defer close(p.out)
	defer p.Close()

	for {
		v, ok := p.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case <-p.signal:
				continue
			}
		}

		select {
		case p.out <- v:
		case <-ctx.Done():
			return
		case <-p.done:
			return
		}
	}
}
