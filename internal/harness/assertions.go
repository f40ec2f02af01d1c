package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/huddle/internal/registry"
)

// AssertionError describes one failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("Assertion failed: %s\n  Expected: %s\n  Actual: %s", e.Type, e.Expected, e.Actual)
}

// evaluate runs every assertion and returns the failure messages.
func (h *Harness) evaluate(ctx context.Context) []string {
	var failures []string
	for _, a := range h.scenario.Assertions {
		if err := h.check(ctx, a); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func (h *Harness) check(ctx context.Context, a Assertion) error {
	event := h.host.Event().Name

	switch a.Type {
	case AssertCurrentMembers:
		got, err := h.hostReg.CurrentDeviceNames(ctx, event)
		if err != nil {
			return err
		}
		return sameNames(a.Type, a.Names, got)

	case AssertDevices:
		devices, err := h.hostReg.ListDevices(ctx)
		if err != nil {
			return err
		}
		got := make([]string, len(devices))
		for i, d := range devices {
			got[i] = d.Name
		}
		return sameNames(a.Type, a.Names, got)

	case AssertEventLog:
		logs, err := h.hostReg.LogsForEvent(ctx, event)
		if err != nil {
			return err
		}
		got := make([]string, len(logs))
		for i, l := range logs {
			got[len(logs)-1-i] = l.Message
		}
		if !slices.Equal(a.Messages, got) {
			return &AssertionError{Type: a.Type, Expected: quoteAll(a.Messages), Actual: quoteAll(got)}
		}
		return nil

	case AssertBroadcastCount:
		if h.result.Broadcasts != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d broadcasts", a.Count),
				Actual:   fmt.Sprintf("%d broadcasts", h.result.Broadcasts),
			}
		}
		return nil

	case AssertInSync:
		return h.checkInSync(ctx, a)

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// checkInSync compares the client's registry with the host's, ignoring
// log row ids.
func (h *Harness) checkInSync(ctx context.Context, a Assertion) error {
	want, err := h.hostReg.Export(ctx)
	if err != nil {
		return err
	}
	got, err := h.clients[a.Client].reg.Export(ctx)
	if err != nil {
		return err
	}

	if diff := diffSnapshots(want, got); diff != "" {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s mirrors %s", a.Client, h.scenario.Host),
			Actual:   diff,
		}
	}
	return nil
}

func diffSnapshots(want, got *registry.Snapshot) string {
	if want == nil || got == nil {
		if want == got {
			return ""
		}
		return fmt.Sprintf("snapshot presence differs (host nil=%t, client nil=%t)", want == nil, got == nil)
	}

	var diffs []string
	if !slices.Equal(want.Devices, got.Devices) {
		diffs = append(diffs, fmt.Sprintf("devices %v != %v", deviceNames(want.Devices), deviceNames(got.Devices)))
	}
	if !slices.EqualFunc(want.Events, got.Events, sameEvent) {
		diffs = append(diffs, fmt.Sprintf("%d events != %d events", len(want.Events), len(got.Events)))
	}
	if !slices.Equal(want.Connections, got.Connections) {
		diffs = append(diffs, fmt.Sprintf("%d connections != %d connections", len(want.Connections), len(got.Connections)))
	}
	if !slices.EqualFunc(want.Logs, got.Logs, sameLog) {
		diffs = append(diffs, fmt.Sprintf("%d logs != %d logs", len(want.Logs), len(got.Logs)))
	}
	return strings.Join(diffs, "; ")
}

func sameEvent(a, b registry.Event) bool {
	if (a.EndedAt == nil) != (b.EndedAt == nil) {
		return false
	}
	if a.EndedAt != nil && !a.EndedAt.Equal(*b.EndedAt) {
		return false
	}
	a.EndedAt, b.EndedAt = nil, nil
	return a == b
}

func sameLog(a, b registry.LogEntry) bool {
	a.ID, b.ID = 0, 0
	return a == b
}

func deviceNames(devices []registry.Device) []string {
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	return names
}

// sameNames compares name sets, ignoring order.
func sameNames(kind string, want, got []string) error {
	w, g := slices.Clone(want), slices.Clone(got)
	slices.Sort(w)
	slices.Sort(g)
	if !slices.Equal(w, g) {
		return &AssertionError{Type: kind, Expected: quoteAll(w), Actual: quoteAll(g)}
	}
	return nil
}

func quoteAll(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
