package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/huddle/internal/engine"
	"github.com/roach88/huddle/internal/registry"
	"github.com/roach88/huddle/internal/transport"
	"github.com/roach88/huddle/internal/transport/ws"
)

// JoinOptions holds flags for the join command.
type JoinOptions struct {
	*RootOptions
	Candidates  []string
	Passphrase  string
	ScanTimeout int
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JoinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Find a host, link to it and mirror its registry",
		Long: `Scan the configured candidate addresses for a host, link to the first one
found and replace the local registry with every FULL_SYNC it pushes.

Lines read from stdin are sent to the host as plain text.`,
		Example: `  huddle join --name tablet-3
  huddle join --candidate 192.168.1.20:7788 --passphrase secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runJoin(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Candidates, "candidate", nil, "host address to probe, repeatable (overrides client.candidates)")
	cmd.Flags().StringVar(&opts.Passphrase, "passphrase", "", "group passphrase (overrides client.passphrase)")
	cmd.Flags().IntVar(&opts.ScanTimeout, "scan-timeout", 0, "seconds to scan before giving up (overrides client.scan_timeout)")

	return cmd
}

func (o *JoinOptions) overrides() map[string]any {
	m := map[string]any{}
	if len(o.Candidates) > 0 {
		m["client.candidates"] = o.Candidates
	}
	if o.Passphrase != "" {
		m["client.passphrase"] = o.Passphrase
	}
	if o.ScanTimeout > 0 {
		m["client.scan_timeout"] = time.Duration(o.ScanTimeout) * time.Second
	}
	return m
}

func runJoin(ctx context.Context, cmd *cobra.Command, opts *JoinOptions) error {
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

	self := transport.Peer{ID: cfg.Device.UUID, DisplayName: cfg.Device.Name}
	tx := ws.NewClient(self, cfg.Client.Passphrase, cfg.Client.Candidates,
		ws.WithClientLogger(log),
		ws.WithScanInterval(cfg.Client.ScanInterval),
		ws.WithHTTPClient(&http.Client{Timeout: cfg.Client.ScanInterval}),
	)

	out := cmd.OutOrStdout()
	f := opts.formatter(cmd)
	session, err := engine.StartClient(ctx, reg, tx, engine.ClientConfig{
		Device:      registry.Device{Name: cfg.Device.Name, UUID: cfg.Device.UUID},
		ScanTimeout: cfg.Client.ScanTimeout,
		Logger:      log,
		Options: []engine.Option{
			engine.WithResyncOnPartial(cfg.Sync.RequestResyncOnPartial),
			engine.WithMessageHandler(func(text string) { fmt.Fprintln(out, text) }),
			engine.WithObserver(func(c engine.Change) {
				if c.Import != nil {
					f.Debugf("synced: %d devices, %d events, %d connections, %d logs",
						c.Import.Devices, c.Import.Events, c.Import.Connections, c.Import.Logs)
				}
			}),
		},
	})
	if err != nil {
		return sessionExitError("failed to join", err)
	}

	host := session.Host()
	_ = f.Success(map[string]string{"host": host.DisplayName, "host_id": host.ID}, func(w io.Writer) {
		fmt.Fprintf(w, "Joined %s\n", host.DisplayName)
	})

	go forwardLines(ctx, cmd.InOrStdin(), session, log)

	<-ctx.Done()
	if err := session.Stop(context.WithoutCancel(ctx)); err != nil {
		return WrapExitError(ExitFailure, "client shutdown", err)
	}
	return nil
}

// forwardLines sends each line of r to the host until r is exhausted.
func forwardLines(ctx context.Context, r io.Reader, s *engine.ClientSession, log *zap.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := s.Send(ctx, line); err != nil {
			log.Warn("send failed", zap.Error(err))
		}
	}
}
