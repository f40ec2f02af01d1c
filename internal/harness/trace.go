package harness

import (
	"fmt"

	"github.com/roach88/huddle/internal/engine"
	"github.com/roach88/huddle/internal/wire"
)

// TraceEvent is one engine unit as seen by the harness.
type TraceEvent struct {
	Step      int           `json:"step"`
	Device    string        `json:"device"`
	Seq       int64         `json:"seq"`
	Type      string        `json:"type"`
	Message   string        `json:"message,omitempty"`
	Joined    []string      `json:"joined,omitempty"`
	Left      []string      `json:"left,omitempty"`
	Refreshed []string      `json:"refreshed,omitempty"`
	Broadcast string        `json:"broadcast,omitempty"`
	Imported  *ImportCounts `json:"imported,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// ImportCounts mirrors registry.ImportResult for the trace.
type ImportCounts struct {
	Devices     int `json:"devices"`
	Events      int `json:"events"`
	Connections int `json:"connections"`
	Logs        int `json:"logs"`
	Skipped     int `json:"skipped,omitempty"`
}

// Result is the outcome of one scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Broadcasts counts FULL_SYNC messages the host actually sent.
	Broadcasts int `json:"broadcasts"`

	Errors []string `json:"errors,omitempty"`
}

func newResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}}
}

// AddError records a failed assertion.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

func (r *Result) record(step int, device string, c engine.Change) {
	ev := TraceEvent{
		Step:   step,
		Device: device,
		Seq:    c.Seq,
		Type:   c.Type.String(),
	}

	switch m := c.Message.(type) {
	case wire.FullSync:
		ev.Message = wire.TypeFullSync
	case wire.SyncRequest:
		ev.Message = fmt.Sprintf("%s from %s", wire.TypeSyncRequest, m.From)
	case wire.Plain:
		ev.Message = m.Text
	}

	if c.Pass != nil {
		ev.Joined = c.Pass.Joined
		ev.Left = c.Pass.Left
		ev.Refreshed = c.Pass.Refreshed
	}

	if b := c.Broadcast; b != nil && b.Triggered {
		switch {
		case b.Sent:
			ev.Broadcast = "sent"
			r.Broadcasts++
		case b.Err != nil:
			ev.Broadcast = "failed"
		default:
			ev.Broadcast = "skipped"
		}
	}

	if imp := c.Import; imp != nil {
		ev.Imported = &ImportCounts{
			Devices:     imp.Devices,
			Events:      imp.Events,
			Connections: imp.Connections,
			Logs:        imp.Logs,
			Skipped:     len(imp.Skipped),
		}
	}

	if c.Err != nil {
		ev.Error = c.Err.Error()
	}
	r.Trace = append(r.Trace, ev)
}
