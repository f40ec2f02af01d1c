package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one scripted run.
type Scenario struct {
	// Name uniquely identifies this scenario and its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Host is the hosting device's name. Defaults to "host".
	Host string `yaml:"host,omitempty"`

	// Event names the event the host opens. Defaults to "E1".
	Event string `yaml:"event,omitempty"`

	// Policy is the broadcast policy: "change" (default) or "growth".
	Policy string `yaml:"policy,omitempty"`

	// Clients lists the client device names the steps may refer to.
	Clients []string `yaml:"clients"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scripted action. Connect and Disconnect in the same step
// reach the host as a single presence snapshot.
type Step struct {
	// Advance moves the clock before the step runs.
	Advance Duration `yaml:"advance,omitempty"`

	Connect    []string `yaml:"connect,omitempty"`
	Disconnect []string `yaml:"disconnect,omitempty"`

	// Send delivers plain text from a client to the host.
	Send *SendStep `yaml:"send,omitempty"`

	// SyncRequest makes the named client ask the host for a FULL_SYNC.
	SyncRequest string `yaml:"sync_request,omitempty"`

	// Resync makes the host broadcast a FULL_SYNC unconditionally.
	Resync bool `yaml:"resync,omitempty"`
}

type SendStep struct {
	From string `yaml:"from"`
	Text string `yaml:"text"`
}

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Assertion checks the final state of a run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Names is the expected name list (current_members, devices).
	Names []string `yaml:"names,omitempty"`

	// Messages is the expected chronological log (event_log).
	Messages []string `yaml:"messages,omitempty"`

	// Count is the expected number of sent broadcasts (broadcast_count).
	Count int `yaml:"count,omitempty"`

	// Client names the client compared with the host (in_sync).
	Client string `yaml:"client,omitempty"`
}

const (
	AssertCurrentMembers = "current_members"
	AssertDevices        = "devices"
	AssertEventLog       = "event_log"
	AssertBroadcastCount = "broadcast_count"
	AssertInSync         = "in_sync"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if s.Host == "" {
		s.Host = "host"
	}
	if s.Event == "" {
		s.Event = "E1"
	}
	if s.Policy == "" {
		s.Policy = "change"
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Policy != "change" && s.Policy != "growth" {
		return fmt.Errorf("policy must be change or growth, got %q", s.Policy)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	seen := make(map[string]bool)
	for _, c := range s.Clients {
		if c == "" || c == s.Host || seen[c] {
			return fmt.Errorf("client %q: names must be non-empty, unique and differ from the host", c)
		}
		seen[c] = true
	}
	known := func(name string) bool { return seen[name] }

	for i, step := range s.Steps {
		if step.empty() {
			return fmt.Errorf("steps[%d]: nothing to do", i)
		}
		for _, name := range slices.Concat(step.Connect, step.Disconnect) {
			if !known(name) {
				return fmt.Errorf("steps[%d]: unknown client %q", i, name)
			}
		}
		if step.Send != nil && !known(step.Send.From) {
			return fmt.Errorf("steps[%d].send: unknown client %q", i, step.Send.From)
		}
		if step.SyncRequest != "" && !known(step.SyncRequest) {
			return fmt.Errorf("steps[%d].sync_request: unknown client %q", i, step.SyncRequest)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, known); err != nil {
			return err
		}
	}
	return nil
}

func (s Step) empty() bool {
	return len(s.Connect) == 0 && len(s.Disconnect) == 0 &&
		s.Send == nil && s.SyncRequest == "" && !s.Resync && s.Advance == 0
}

func validateAssertion(index int, a Assertion, known func(string) bool) error {
	switch a.Type {
	case AssertCurrentMembers, AssertDevices:
	case AssertEventLog:
		if len(a.Messages) == 0 {
			return fmt.Errorf("assertions[%d]: messages is required for event_log", index)
		}
	case AssertBroadcastCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertInSync:
		if !known(a.Client) {
			return fmt.Errorf("assertions[%d]: unknown client %q", index, a.Client)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
