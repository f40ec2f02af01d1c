package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the golden-file form of a run.
type TraceSnapshot struct {
	Scenario   string       `json:"scenario"`
	Broadcasts int          `json:"broadcasts"`
	Trace      []TraceEvent `json:"trace"`
}

// MarshalTrace renders a result as indented JSON.
func MarshalTrace(name string, result *Result) ([]byte, error) {
	return json.MarshalIndent(TraceSnapshot{
		Scenario:   name,
		Broadcasts: result.Broadcasts,
		Trace:      result.Trace,
	}, "", "  ")
}

// RunWithGolden runs the scenario and compares its trace with
// testdata/golden/<name>.golden. Assertion failures fail t.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalTrace(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
