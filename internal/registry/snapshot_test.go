package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// contents returns a registry snapshot with auto-generated log ids cleared.
func contents(t *testing.T, r *Registry) *Snapshot {
	t.Helper()
	snap, err := r.Export(context.Background())
	require.NoError(t, err)
	if snap == nil {
		return nil
	}
	for i := range snap.Logs {
		snap.Logs[i].ID = 0
	}
	return snap
}

func seedScenario(t *testing.T, r *Registry) {
	t.Helper()
	ctx := context.Background()
	seedEvent(t, r, "host", "E1")
	seedMember(t, r, "E1", "c1", t0.Add(time.Second))
	seedMember(t, r, "E1", "c2", t0.Add(2*time.Second))
	require.NoError(t, r.MarkNotCurrent(ctx, "E1", "c2", t0.Add(3*time.Second)))
	_, err := r.AppendLog(ctx, LogEntry{EventName: "E1", DeviceName: "c2", Message: "c2 left", Timestamp: t0.Add(3 * time.Second)})
	require.NoError(t, err)
}

func TestExport_EmptyRegistryReturnsNil(t *testing.T) {
	r := createTestRegistry(t)

	snap, err := r.Export(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.True(t, snap.Empty())
}

func TestExport_CurrentConnectionsOnly(t *testing.T) {
	r := createTestRegistry(t)
	seedScenario(t, r)

	snap := contents(t, r)
	require.NotNil(t, snap)
	assert.Len(t, snap.Devices, 3)
	assert.Len(t, snap.Events, 1)
	require.Len(t, snap.Connections, 1)
	assert.Equal(t, "c1", snap.Connections[0].DeviceName)
	assert.Len(t, snap.Logs, 3)
	assert.Equal(t, "c2 left", snap.Logs[0].Message)
}

func TestReplaceImport_RoundTrip(t *testing.T) {
	src := createTestRegistry(t)
	seedScenario(t, src)
	want := contents(t, src)

	dst := createTestRegistry(t)
	seedEvent(t, dst, "stale-host", "stale-event")

	res, err := dst.ReplaceImport(context.Background(), want)
	require.NoError(t, err)
	assert.False(t, res.Partial())
	assert.Equal(t, ImportResult{Devices: 3, Events: 1, Connections: 1, Logs: 3}, res)

	got := contents(t, dst)
	assert.ElementsMatch(t, want.Devices, got.Devices)
	assert.ElementsMatch(t, want.Events, got.Events)
	assert.ElementsMatch(t, want.Connections, got.Connections)
	assert.ElementsMatch(t, want.Logs, got.Logs)
}

func TestReplaceImport_Idempotent(t *testing.T) {
	src := createTestRegistry(t)
	seedScenario(t, src)
	snap := contents(t, src)

	dst := createTestRegistry(t)
	ctx := context.Background()

	_, err := dst.ReplaceImport(ctx, snap)
	require.NoError(t, err)
	once := contents(t, dst)

	_, err = dst.ReplaceImport(ctx, snap)
	require.NoError(t, err)
	twice := contents(t, dst)

	assert.Equal(t, once, twice)
}

func TestReplaceImport_SkipsFailingRows(t *testing.T) {
	r := createTestRegistry(t)
	snap := &Snapshot{
		Devices: []Device{
			{Name: "host", UUID: "u-host", IsHost: true, CreatedAt: t0},
			{Name: "c1", UUID: "u-host", CreatedAt: t0}, // duplicate uuid
		},
		Events: []Event{{Name: "E1", HostName: "host", StartedAt: t0}},
		Connections: []Connection{
			{EventName: "E1", DeviceName: "host", JoinedAt: t0, LastSeen: t0, IsCurrent: true},
			{EventName: "E1", DeviceName: "c1", JoinedAt: t0, LastSeen: t0, IsCurrent: true}, // device was skipped
		},
		Logs: []LogEntry{{EventName: "E1", DeviceName: "c1", Message: "c1 joined", Timestamp: t0}},
	}

	res, err := r.ReplaceImport(context.Background(), snap)
	require.NoError(t, err)
	assert.True(t, res.Partial())
	assert.Equal(t, 1, res.Devices)
	assert.Equal(t, 1, res.Events)
	assert.Equal(t, 1, res.Connections)
	assert.Equal(t, 1, res.Logs)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, RowDevice, res.Skipped[0].Kind)
	assert.Equal(t, "c1", res.Skipped[0].Key)
	assert.Equal(t, RowConnection, res.Skipped[1].Kind)
	assert.Equal(t, "E1/c1", res.Skipped[1].Key)
	assert.NotEmpty(t, res.Skipped[1].Reason)

	devices, err := r.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestReplaceImport_NilClears(t *testing.T) {
	r := createTestRegistry(t)
	seedScenario(t, r)

	res, err := r.ReplaceImport(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{}, res)
	assert.Nil(t, contents(t, r))
}

func TestReplaceImport_CancelledContextLeavesRegistry(t *testing.T) {
	r := createTestRegistry(t)
	seedScenario(t, r)
	before := contents(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ReplaceImport(ctx, &Snapshot{})
	require.Error(t, err)
	assert.Equal(t, before, contents(t, r))
}
