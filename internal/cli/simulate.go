package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/huddle/internal/harness"
)

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a membership scenario over an in-memory link",
		Long: `Run a scripted scenario: a host and named clients connect, disconnect and
exchange messages over an in-memory link with a manual clock. Prints every
reconciliation, broadcast and import, then checks the scenario's assertions.

Exits 1 when an assertion fails.`,
		Example: `  huddle simulate scenarios/join_leave.yaml
  huddle simulate scenarios/join_leave.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, rootOpts, args[0])
		},
	}
	return cmd
}

func runSimulate(cmd *cobra.Command, opts *RootOptions, path string) error {
	f := opts.formatter(cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	f.Debugf("running %s (%d steps)", scenario.Name, len(scenario.Steps))

	result, err := harness.Run(scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario aborted", err)
	}

	if err := f.Success(result, func(w io.Writer) { printTrace(w, scenario.Name, result) }); err != nil {
		return err
	}
	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("%d assertions failed", len(result.Errors)))
	}
	return nil
}

func printTrace(w io.Writer, name string, r *harness.Result) {
	fmt.Fprintf(w, "Scenario %s\n", name)
	for _, ev := range r.Trace {
		var parts []string
		if len(ev.Joined) > 0 {
			parts = append(parts, "joined="+strings.Join(ev.Joined, ","))
		}
		if len(ev.Left) > 0 {
			parts = append(parts, "left="+strings.Join(ev.Left, ","))
		}
		if len(ev.Refreshed) > 0 {
			parts = append(parts, "refreshed="+strings.Join(ev.Refreshed, ","))
		}
		if ev.Broadcast != "" {
			parts = append(parts, "broadcast="+ev.Broadcast)
		}
		if ev.Message != "" {
			parts = append(parts, fmt.Sprintf("message=%q", ev.Message))
		}
		if ev.Imported != nil {
			parts = append(parts, fmt.Sprintf("imported=%d/%d/%d/%d",
				ev.Imported.Devices, ev.Imported.Events, ev.Imported.Connections, ev.Imported.Logs))
		}
		if ev.Error != "" {
			parts = append(parts, "error="+ev.Error)
		}
		fmt.Fprintf(w, "  [%d] %-8s %-10s %s\n", ev.Step, ev.Device, ev.Type, strings.Join(parts, " "))
	}
	fmt.Fprintf(w, "Broadcasts: %d\n", r.Broadcasts)

	if r.Pass {
		fmt.Fprintln(w, "PASS")
		return
	}
	fmt.Fprintln(w, "FAIL")
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}
