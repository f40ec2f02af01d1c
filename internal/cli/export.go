package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/huddle/internal/wire"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Out string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the registry as a FULL_SYNC message",
		Long: `Export every device, event, current connection and log entry as one
FULL_SYNC message. The output can be fed to "huddle import" on another device.`,
		Example: `  huddle export --out backup.json
  huddle export --db host.db > snapshot.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write to file instead of stdout")

	return cmd
}

func runExport(cmd *cobra.Command, opts *ExportOptions) error {
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

	snap, err := reg.Export(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to export registry", err)
	}
	text, err := wire.EncodeFullSync(snap)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode snapshot", err)
	}

	if opts.Out == "" {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
		return err
	}
	if err := os.WriteFile(opts.Out, []byte(text+"\n"), 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write snapshot", err)
	}
	opts.formatter(cmd).Debugf("wrote %s", opts.Out)
	return nil
}
