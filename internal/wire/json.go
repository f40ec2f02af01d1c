package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/huddle/internal/registry"
)

type fullSyncJSON struct {
	Type        string           `json:"type"`
	Devices     []deviceJSON     `json:"devices"`
	Events      []eventJSON      `json:"events"`
	Connections []connectionJSON `json:"connections"`
	Logs        []logJSON        `json:"logs"`
}

type syncRequestJSON struct {
	Type string `json:"type"`
	From string `json:"from,omitempty"`
}

type deviceJSON struct {
	Name      string   `json:"device_name"`
	UUID      string   `json:"device_uuid"`
	IsHost    flexBool `json:"is_host"`
	CreatedAt flexTime `json:"created_at"`
}

type eventJSON struct {
	Name      string    `json:"event_name"`
	HostName  string    `json:"host_name"`
	SSID      string    `json:"ssid"`
	Password  string    `json:"password"`
	HostIP    string    `json:"host_ip"`
	StartedAt flexTime  `json:"started_at"`
	EndedAt   *flexTime `json:"ended_at"`
}

type connectionJSON struct {
	EventName  string   `json:"event_name"`
	DeviceName string   `json:"device_name"`
	JoinedAt   flexTime `json:"joined_at"`
	LastSeen   flexTime `json:"last_seen"`
	IsCurrent  flexBool `json:"is_current"`
}

type logJSON struct {
	EventName  string   `json:"event_name"`
	DeviceName string   `json:"device_name"`
	Message    string   `json:"message"`
	Timestamp  flexTime `json:"timestamp"`
}

func newFullSyncJSON(snap *registry.Snapshot) fullSyncJSON {
	out := fullSyncJSON{
		Type:        TypeFullSync,
		Devices:     []deviceJSON{},
		Events:      []eventJSON{},
		Connections: []connectionJSON{},
		Logs:        []logJSON{},
	}
	if snap == nil {
		return out
	}
	for _, d := range snap.Devices {
		out.Devices = append(out.Devices, deviceJSON{
			Name: d.Name, UUID: d.UUID, IsHost: flexBool(d.IsHost), CreatedAt: flexTime(d.CreatedAt),
		})
	}
	for _, e := range snap.Events {
		ej := eventJSON{
			Name: e.Name, HostName: e.HostName, SSID: e.SSID, Password: e.Password,
			HostIP: e.HostIP, StartedAt: flexTime(e.StartedAt),
		}
		if e.EndedAt != nil {
			end := flexTime(*e.EndedAt)
			ej.EndedAt = &end
		}
		out.Events = append(out.Events, ej)
	}
	for _, c := range snap.Connections {
		out.Connections = append(out.Connections, connectionJSON{
			EventName: c.EventName, DeviceName: c.DeviceName,
			JoinedAt: flexTime(c.JoinedAt), LastSeen: flexTime(c.LastSeen), IsCurrent: flexBool(c.IsCurrent),
		})
	}
	for _, l := range snap.Logs {
		out.Logs = append(out.Logs, logJSON{
			EventName: l.EventName, DeviceName: l.DeviceName, Message: l.Message, Timestamp: flexTime(l.Timestamp),
		})
	}
	return out
}

func (f fullSyncJSON) snapshot() *registry.Snapshot {
	snap := &registry.Snapshot{
		Devices:     make([]registry.Device, 0, len(f.Devices)),
		Events:      make([]registry.Event, 0, len(f.Events)),
		Connections: make([]registry.Connection, 0, len(f.Connections)),
		Logs:        make([]registry.LogEntry, 0, len(f.Logs)),
	}
	for _, d := range f.Devices {
		snap.Devices = append(snap.Devices, registry.Device{
			Name: d.Name, UUID: d.UUID, IsHost: bool(d.IsHost), CreatedAt: time.Time(d.CreatedAt),
		})
	}
	for _, e := range f.Events {
		ev := registry.Event{
			Name: e.Name, HostName: e.HostName, SSID: e.SSID, Password: e.Password,
			HostIP: e.HostIP, StartedAt: time.Time(e.StartedAt),
		}
		if e.EndedAt != nil {
			end := time.Time(*e.EndedAt)
			ev.EndedAt = &end
		}
		snap.Events = append(snap.Events, ev)
	}
	for _, c := range f.Connections {
		snap.Connections = append(snap.Connections, registry.Connection{
			EventName: c.EventName, DeviceName: c.DeviceName,
			JoinedAt: time.Time(c.JoinedAt), LastSeen: time.Time(c.LastSeen), IsCurrent: bool(c.IsCurrent),
		})
	}
	for _, l := range f.Logs {
		snap.Logs = append(snap.Logs, registry.LogEntry{
			EventName: l.EventName, DeviceName: l.DeviceName, Message: l.Message, Timestamp: time.Time(l.Timestamp),
		})
	}
	return snap
}

// flexBool encodes as a JSON boolean and also decodes the 0/1 integers that
// SQLite-backed peers emit.
type flexBool bool

func (b flexBool) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true", "1":
		*b = true
	case "false", "0", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// flexTime encodes as RFC 3339 UTC and decodes RFC 3339, zone-less ISO 8601
// (taken as UTC) and integer Unix milliseconds.
type flexTime time.Time

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t flexTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339Nano))
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = flexTime{}
		return nil
	}
	if ms, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*t = flexTime(time.UnixMilli(ms).UTC())
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid timestamp %s", data)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*t = flexTime(parsed.UTC())
		return nil
	}
	for _, layout := range zonelessLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*t = flexTime(parsed)
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}
