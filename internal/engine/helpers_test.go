package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/huddle/internal/registry"
	"github.com/roach88/huddle/internal/testutil"
	"github.com/roach88/huddle/internal/transport"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

var (
	hostPeer = transport.Peer{ID: "host-uuid", DisplayName: "host"}
	group    = transport.Group{SSID: "DIRECT-hu-host", Passphrase: "passphrase", HostAddress: "192.168.49.1"}
)

func peer(name string) transport.Peer {
	return transport.Peer{ID: name + "-uuid", DisplayName: name}
}

func peers(names ...string) []transport.Peer {
	out := make([]transport.Peer, len(names))
	for i, n := range names {
		out[i] = peer(n)
	}
	return out
}

// seedActiveEvent registers the host device and opens event E1.
func seedActiveEvent(t *testing.T, reg *registry.Registry) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, reg.UpsertDevice(ctx, registry.Device{Name: "host", UUID: hostPeer.ID, IsHost: true, CreatedAt: t0}))
	require.NoError(t, reg.CreateEvent(ctx, registry.Event{
		Name:      "E1",
		HostName:  "host",
		SSID:      group.SSID,
		Password:  group.Passphrase,
		HostIP:    group.HostAddress,
		StartedAt: t0,
	}))
}

// runEngine starts e.Run and returns a channel of its Changes. The engine
// is stopped on cleanup.
func runEngine(t *testing.T, build func(obs Option) *Engine) (*Engine, <-chan Change) {
	t.Helper()

	changes := make(chan Change, 64)
	e := build(WithObserver(func(c Change) { changes <- c }))

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	t.Cleanup(func() {
		e.Stop()
		<-done
	})
	return e, changes
}

func nextChange(t *testing.T, changes <-chan Change) Change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for engine change")
		return Change{}
	}
}

func recvText(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for text")
		return ""
	}
}

func newClock() *testutil.ManualClock {
	return testutil.NewManualClock(t0)
}
