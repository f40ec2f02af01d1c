package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/huddle/internal/registry"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Logs int
}

// StatusReport is the JSON shape of the status command.
type StatusReport struct {
	Devices     []DeviceStatus     `json:"devices"`
	Events      []EventStatus      `json:"events"`
	ActiveEvent string             `json:"active_event,omitempty"`
	Connections []ConnectionStatus `json:"connections"`
	Logs        []LogStatus        `json:"logs"`
}

type DeviceStatus struct {
	Name      string `json:"name"`
	UUID      string `json:"uuid"`
	IsHost    bool   `json:"is_host"`
	CreatedAt string `json:"created_at"`
}

type EventStatus struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	SSID      string `json:"ssid,omitempty"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
}

type ConnectionStatus struct {
	Device   string `json:"device"`
	JoinedAt string `json:"joined_at"`
	LastSeen string `json:"last_seen"`
}

type LogStatus struct {
	Device    string `json:"device"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show devices, events, current members and recent activity",
		Example: `  huddle status
  huddle status --db client.db --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Logs, "logs", 10, "number of recent log entries to show for the active event")

	return cmd
}

func runStatus(cmd *cobra.Command, opts *StatusOptions) error {
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

	report, err := buildStatus(cmd.Context(), reg, opts.Logs)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read registry", err)
	}
	return opts.formatter(cmd).Success(report, func(w io.Writer) { printStatus(w, report) })
}

func buildStatus(ctx context.Context, reg *registry.Registry, logLimit int) (StatusReport, error) {
	report := StatusReport{
		Devices:     []DeviceStatus{},
		Events:      []EventStatus{},
		Connections: []ConnectionStatus{},
		Logs:        []LogStatus{},
	}

	devices, err := reg.ListDevices(ctx)
	if err != nil {
		return report, err
	}
	for _, d := range devices {
		report.Devices = append(report.Devices, DeviceStatus{
			Name:      d.Name,
			UUID:      d.UUID,
			IsHost:    d.IsHost,
			CreatedAt: stamp(d.CreatedAt),
		})
	}

	events, err := reg.ListEvents(ctx)
	if err != nil {
		return report, err
	}
	for _, e := range events {
		es := EventStatus{Name: e.Name, Host: e.HostName, SSID: e.SSID, StartedAt: stamp(e.StartedAt)}
		if e.EndedAt != nil {
			es.EndedAt = stamp(*e.EndedAt)
		}
		report.Events = append(report.Events, es)
	}

	active, err := reg.ActiveEvent(ctx)
	if errors.Is(err, registry.ErrNotFound) {
		return report, nil
	}
	if err != nil {
		return report, err
	}
	report.ActiveEvent = active.Name

	conns, err := reg.CurrentConnections(ctx, active.Name)
	if err != nil {
		return report, err
	}
	for _, c := range conns {
		report.Connections = append(report.Connections, ConnectionStatus{
			Device:   c.DeviceName,
			JoinedAt: stamp(c.JoinedAt),
			LastSeen: stamp(c.LastSeen),
		})
	}

	logs, err := reg.LogsForEvent(ctx, active.Name)
	if err != nil {
		return report, err
	}
	if logLimit >= 0 && len(logs) > logLimit {
		logs = logs[:logLimit]
	}
	for _, l := range logs {
		report.Logs = append(report.Logs, LogStatus{Device: l.DeviceName, Message: l.Message, Timestamp: stamp(l.Timestamp)})
	}
	return report, nil
}

func printStatus(w io.Writer, r StatusReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "Devices (%d)\n", len(r.Devices))
	for _, d := range r.Devices {
		role := ""
		if d.IsHost {
			role = "host"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", d.Name, d.UUID, role)
	}

	fmt.Fprintf(tw, "Events (%d)\n", len(r.Events))
	for _, e := range r.Events {
		state := "active"
		if e.EndedAt != "" {
			state = "ended " + e.EndedAt
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", e.Name, e.Host, state)
	}

	if r.ActiveEvent == "" {
		fmt.Fprintln(tw, "No active event")
		return
	}
	fmt.Fprintf(tw, "Current members of %s (%d)\n", r.ActiveEvent, len(r.Connections))
	for _, c := range r.Connections {
		fmt.Fprintf(tw, "  %s\tjoined %s\tseen %s\n", c.Device, c.JoinedAt, c.LastSeen)
	}
	fmt.Fprintln(tw, "Recent activity")
	for _, l := range r.Logs {
		fmt.Fprintf(tw, "  %s\t%s\n", l.Timestamp, l.Message)
	}
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
