package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/huddle/internal/registry"
	"github.com/roach88/huddle/internal/wire"
)

// ImportReport is the JSON shape of the import command.
type ImportReport struct {
	Devices     int           `json:"devices"`
	Events      int           `json:"events"`
	Connections int           `json:"connections"`
	Logs        int           `json:"logs"`
	Skipped     []SkippedInfo `json:"skipped,omitempty"`
}

type SkippedInfo struct {
	Kind   string `json:"kind"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the registry with a FULL_SYNC snapshot",
		Long: `Replace the local registry with the snapshot in <file> ("-" reads stdin).
The file must hold one FULL_SYNC message as written by "huddle export".

Rows that cannot be inserted are reported and the command exits 1.`,
		Example: `  huddle import backup.json
  huddle export --db host.db | huddle import --db client.db -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, rootOpts, args[0])
		},
	}
	return cmd
}

func runImport(cmd *cobra.Command, opts *RootOptions, path string) error {
	data, err := readInput(cmd, path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}
	full, ok := wire.Parse(strings.TrimSpace(string(data))).(wire.FullSync)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: not a FULL_SYNC message", path))
	}

	cfg, err := opts.loadConfig(nil)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	reg, err := openRegistry(cfg, log)
	if err != nil {
		return err
	}
	defer reg.Close()

	result, err := reg.ReplaceImport(cmd.Context(), full.Snapshot)
	if err != nil {
		return WrapExitError(ExitFailure, "import failed", err)
	}

	report := newImportReport(result)
	if err := opts.formatter(cmd).Success(report, func(w io.Writer) { printImport(w, report) }); err != nil {
		return err
	}
	if result.Partial() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d rows skipped", len(result.Skipped)))
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func newImportReport(r registry.ImportResult) ImportReport {
	report := ImportReport{
		Devices:     r.Devices,
		Events:      r.Events,
		Connections: r.Connections,
		Logs:        r.Logs,
	}
	for _, s := range r.Skipped {
		report.Skipped = append(report.Skipped, SkippedInfo{Kind: string(s.Kind), Key: s.Key, Reason: s.Reason})
	}
	return report
}

func printImport(w io.Writer, r ImportReport) {
	fmt.Fprintf(w, "Imported %d devices, %d events, %d connections, %d logs\n",
		r.Devices, r.Events, r.Connections, r.Logs)
	for _, s := range r.Skipped {
		fmt.Fprintf(w, "  skipped %s %s: %s\n", s.Kind, s.Key, s.Reason)
	}
}
