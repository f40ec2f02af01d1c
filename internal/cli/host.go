package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/huddle/internal/config"
	"github.com/roach88/huddle/internal/engine"
	"github.com/roach88/huddle/internal/metrics"
	"github.com/roach88/huddle/internal/registry"
	"github.com/roach88/huddle/internal/transport"
	"github.com/roach88/huddle/internal/transport/ws"
)

// HostOptions holds flags for the host command.
type HostOptions struct {
	*RootOptions
	Listen string
	Event  string
	Policy string
}

// NewHostCommand creates the host command.
func NewHostCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HostOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Open a group and an event, and keep linked clients in sync",
		Long: `Host a group on the local network. Linked clients are reconciled into the
active event and receive a FULL_SYNC snapshot whenever membership changes.

SIGHUP pushes a fresh snapshot to every client. SIGINT or SIGTERM end the
event and close the group.`,
		Example: `  huddle host --name stage-left --event rehearsal
  huddle host --listen :9000 --policy growth`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runHost(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides host.listen)")
	cmd.Flags().StringVar(&opts.Event, "event", "", "event name (overrides host.event_name)")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "broadcast policy: change or growth (overrides sync.broadcast_policy)")

	return cmd
}

func (o *HostOptions) overrides() map[string]any {
	m := map[string]any{}
	if o.Listen != "" {
		m["host.listen"] = o.Listen
	}
	if o.Event != "" {
		m["host.event_name"] = o.Event
	}
	if o.Policy != "" {
		m["sync.broadcast_policy"] = o.Policy
	}
	return m
}

func runHost(ctx context.Context, cmd *cobra.Command, opts *HostOptions) error {
	cfg, err := opts.loadConfig(opts.overrides())
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	reg, err := openRegistry(cfg, log)
	if err != nil {
		return err
	}
	defer reg.Close()

	policy, err := engine.ParsePolicy(cfg.Sync.BroadcastPolicy)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	self := transport.Peer{ID: cfg.Device.UUID, DisplayName: cfg.Device.Name}
	tx := ws.NewHost(cfg.Host.Listen, cfg.Host.GroupName, self,
		ws.WithHostLogger(log),
		ws.WithPassphrase(cfg.Host.Passphrase),
		ws.WithHandler("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})),
	)

	out := cmd.OutOrStdout()
	session, err := engine.StartHost(ctx, reg, tx, engine.HostConfig{
		Device:    registry.Device{Name: cfg.Device.Name, UUID: cfg.Device.UUID},
		EventName: cfg.Host.EventName,
		Logger:    log,
		Options: []engine.Option{
			engine.WithPolicy(policy),
			engine.WithMetrics(m),
			engine.WithResyncOnPartial(cfg.Sync.RequestResyncOnPartial),
			engine.WithMessageHandler(func(text string) { fmt.Fprintln(out, text) }),
		},
	})
	if err != nil {
		return sessionExitError("failed to start host", err)
	}

	printHosting(opts.formatter(cmd), cfg, session)
	return serveHost(ctx, session, log)
}

func printHosting(f *OutputFormatter, cfg *config.Config, s *engine.HostSession) {
	group := s.Group()
	event := s.Event()
	data := map[string]string{
		"event":   event.Name,
		"ssid":    group.SSID,
		"address": group.HostAddress,
		"listen":  cfg.Host.Listen,
	}
	_ = f.Success(data, func(w io.Writer) {
		fmt.Fprintf(w, "Hosting event %s\n", event.Name)
		fmt.Fprintf(w, "  group:   %s\n", group.SSID)
		fmt.Fprintf(w, "  address: %s\n", group.HostAddress)
	})
}

// serveHost blocks until ctx is done, forcing a resync on every SIGHUP.
func serveHost(ctx context.Context, s *engine.HostSession, log *zap.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			log.Info("resync requested")
			s.Engine().Resync()
		case <-ctx.Done():
			if err := s.Stop(context.WithoutCancel(ctx)); err != nil {
				return WrapExitError(ExitFailure, "host shutdown", err)
			}
			return nil
		}
	}
}
