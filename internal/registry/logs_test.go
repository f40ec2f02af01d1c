package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendLog_AssignsSequentialIDs(t *testing.T) {
	r := createTestRegistry(t)
	ctx := context.Background()

	id1, err := r.AppendLog(ctx, LogEntry{EventName: "E1", DeviceName: "c1", Message: "c1 joined", Timestamp: t0})
	require.NoError(t, err)
	id2, err := r.AppendLog(ctx, LogEntry{EventName: "E1", DeviceName: "c1", Message: "c1 left", Timestamp: t0})
	require.NoError(t, err)

	assert.Greater(t, id2, id1)
}

func TestLogsForEvent_NewestFirst(t *testing.T) {
	r := createTestRegistry(t)
	ctx := context.Background()

	for i, msg := range []string{"first", "second", "third"} {
		_, err := r.AppendLog(ctx, LogEntry{
			EventName: "E1", DeviceName: "c1", Message: msg, Timestamp: t0.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
	_, err := r.AppendLog(ctx, LogEntry{EventName: "E2", DeviceName: "c1", Message: "elsewhere", Timestamp: t0})
	require.NoError(t, err)

	logs, err := r.LogsForEvent(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "third", logs[0].Message)
	assert.Equal(t, "first", logs[2].Message)

	byDevice, err := r.LogsForDevice(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, byDevice, 4)
	assert.Equal(t, "third", byDevice[0].Message)
}

func TestClearEventLogs(t *testing.T) {
	r := createTestRegistry(t)
	ctx := context.Background()

	for _, ev := range []string{"E1", "E1", "E2"} {
		_, err := r.AppendLog(ctx, LogEntry{EventName: ev, DeviceName: "c1", Message: "m", Timestamp: t0})
		require.NoError(t, err)
	}

	n, err := r.ClearEventLogs(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	logs, err := r.LogsForEvent(ctx, "E1")
	require.NoError(t, err)
	assert.Empty(t, logs)

	logs, err = r.LogsForEvent(ctx, "E2")
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
