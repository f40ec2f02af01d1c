package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestPipe_FIFO(t *testing.T) {
	p := NewPipe[int](context.Background())
	defer p.Close()

	for i := 1; i <= 100; i++ {
		require.True(t, p.Push(i))
	}
	for i := 1; i <= 100; i++ {
		assert.Equal(t, i, recv(t, p.Out()))
	}
}

func TestPipe_CloseStopsDelivery(t *testing.T) {
	p := NewPipe[string](context.Background())
	p.Close()
	p.Close()

	assert.False(t, p.Push("late"))

	select {
	case _, ok := <-p.Out():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestPipe_ContextCancelClosesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPipe[string](ctx)
	cancel()

	select {
	case _, ok := <-p.Out():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}
