package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/huddle/internal/config"
	"github.com/roach88/huddle/internal/logging"
	"github.com/roach88/huddle/internal/registry"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string
	DeviceName string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the huddle CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "huddle",
		Short: "huddle - offline group membership and registry sync",
		Long: `huddle keeps a local registry of devices, events, connections and activity
logs in step across a host and the clients linked to it. The host reconciles
link presence into the registry and pushes FULL_SYNC snapshots; clients
replace their registry with each snapshot they receive.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "registry database path (overrides registry.path)")
	cmd.PersistentFlags().StringVar(&opts.DeviceName, "name", "", "this device's name (overrides device.name)")

	cmd.AddCommand(NewHostCommand(opts))
	cmd.AddCommand(NewJoinCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))

	return cmd
}

// loadConfig reads the config file and applies the global flag overrides.
func (o *RootOptions) loadConfig(extra map[string]any) (*config.Config, error) {
	overrides := map[string]any{}
	if o.Database != "" {
		overrides["registry.path"] = o.Database
	}
	if o.DeviceName != "" {
		overrides["device.name"] = o.DeviceName
	}
	if o.Verbose {
		overrides["log.level"] = "debug"
	}
	for k, v := range extra {
		overrides[k] = v
	}

	cfg, err := config.LoadWithOverrides(o.ConfigPath, overrides)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid log settings", err)
	}
	return log, nil
}

func openRegistry(cfg *config.Config, log *zap.Logger) (*registry.Registry, error) {
	reg, err := registry.Open(cfg.Registry.Path, registry.WithLogger(log))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open registry", err)
	}
	return reg, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
