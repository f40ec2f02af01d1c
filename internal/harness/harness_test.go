package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestGoldenScenarios(t *testing.T) {
	for _, name := range []string{"join_leave_change", "growth_departure"} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, loadTestScenario(t, name)))
		})
	}
}

func TestRun_FailedAssertionsAreReported(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_expectations
description: Assertions that do not hold.
clients: [alice]
steps:
  - connect: [alice]
assertions:
  - type: current_members
    names: [bob]
  - type: broadcast_count
    count: 7
  - type: in_sync
    client: alice
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "current_members")
	assert.Contains(t, result.Errors[1], "7 broadcasts")
}

func TestRun_SwapInOneSnapshot(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: swap
description: One client leaves while another joins in the same snapshot.
clients: [alice, bob]
steps:
  - connect: [alice]
  - disconnect: [alice]
    connect: [bob]
assertions:
  - type: current_members
    names: [bob]
  - type: broadcast_count
    count: 2
  - type: in_sync
    client: bob
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)

	swap := result.Trace[2]
	assert.Equal(t, "host", swap.Device)
	assert.Equal(t, []string{"bob"}, swap.Joined)
	assert.Equal(t, []string{"alice"}, swap.Left)
}

func TestRun_RejoinAfterLeaving(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: rejoin
description: A phone leaves and comes back.
clients: [alice]
steps:
  - connect: [alice]
  - disconnect: [alice]
  - advance: 5m
    connect: [alice]
assertions:
  - type: devices
    names: [host, alice]
  - type: event_log
    messages: [alice joined, alice left, alice joined]
  - type: in_sync
    client: alice
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "%v", result.Errors)
}

func TestRun_SyncRequestWhileDisconnected(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: offline_request
description: A client that is not connected cannot reach the host.
clients: [alice]
steps:
  - sync_request: alice
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "alice", result.Trace[0].Device)
	assert.Contains(t, result.Trace[0].Error, "not connected")
}
