package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// createTestRegistry opens a fresh registry in a temp dir.
func createTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// seedEvent registers a host device and an active event it hosts.
func seedEvent(t *testing.T, r *Registry, host, event string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.UpsertDevice(ctx, Device{Name: host, UUID: host + "-uuid", IsHost: true, CreatedAt: t0}))
	require.NoError(t, r.CreateEvent(ctx, Event{
		Name:      event,
		HostName:  host,
		SSID:      "DIRECT-xy",
		Password:  "secret",
		HostIP:    "192.168.49.1",
		StartedAt: t0,
	}))
}

// seedMember registers a client device and a current connection to event.
func seedMember(t *testing.T, r *Registry, event, name string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.UpsertDevice(ctx, Device{Name: name, UUID: name + "-uuid", CreatedAt: at}))
	require.NoError(t, r.UpsertConnection(ctx, Connection{
		EventName:  event,
		DeviceName: name,
		JoinedAt:   at,
		LastSeen:   at,
		IsCurrent:  true,
	}))
	_, err := r.AppendLog(ctx, LogEntry{EventName: event, DeviceName: name, Message: name + " joined", Timestamp: at})
	require.NoError(t, err)
}
