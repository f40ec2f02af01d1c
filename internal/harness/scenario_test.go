package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_Defaults(t *testing.T) {
	s := loadTestScenario(t, "join_leave_change")

	assert.Equal(t, "host", s.Host)
	assert.Equal(t, "E1", s.Event)
	assert.Equal(t, "change", s.Policy)
	assert.Equal(t, []string{"alice", "bob"}, s.Clients)
	require.Len(t, s.Steps, 4)
	assert.Equal(t, Duration(time.Minute), s.Steps[1].Advance)
	assert.Equal(t, &SendStep{From: "bob", Text: "hello host"}, s.Steps[3].Send)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: d\nstep: []\n",
			want: "field step not found",
		},
		{
			name: "missing name",
			yaml: "description: d\nsteps:\n  - resync: true\n",
			want: "name is required",
		},
		{
			name: "no steps",
			yaml: "name: x\ndescription: d\n",
			want: "steps list is required",
		},
		{
			name: "bad policy",
			yaml: "name: x\ndescription: d\npolicy: always\nsteps:\n  - resync: true\n",
			want: "policy must be change or growth",
		},
		{
			name: "unknown client",
			yaml: "name: x\ndescription: d\nclients: [a]\nsteps:\n  - connect: [b]\n",
			want: `unknown client "b"`,
		},
		{
			name: "client named like host",
			yaml: "name: x\ndescription: d\nclients: [host]\nsteps:\n  - resync: true\n",
			want: "differ from the host",
		},
		{
			name: "empty step",
			yaml: "name: x\ndescription: d\nsteps:\n  - {}\n",
			want: "nothing to do",
		},
		{
			name: "bad duration",
			yaml: "name: x\ndescription: d\nsteps:\n  - advance: soon\n",
			want: "invalid duration",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: d\nsteps:\n  - resync: true\nassertions:\n  - type: vibes\n",
			want: `unknown assertion type "vibes"`,
		},
		{
			name: "event_log without messages",
			yaml: "name: x\ndescription: d\nsteps:\n  - resync: true\nassertions:\n  - type: event_log\n",
			want: "messages is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
