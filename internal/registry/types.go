package registry

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrEventExists is returned by CreateEvent when the event name is taken.
	ErrEventExists = errors.New("event already exists")
)

// Device is one physical peer known to this registry.
type Device struct {
	Name      string
	UUID      string
	IsHost    bool
	CreatedAt time.Time
}

// Event is one communication session. EndedAt is nil while the event is active.
type Event struct {
	Name      string
	HostName  string
	SSID      string
	Password  string
	HostIP    string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Active reports whether the event has not ended.
func (e Event) Active() bool {
	return e.EndedAt == nil
}

// Connection is a device's membership record within one event.
type Connection struct {
	EventName  string
	DeviceName string
	JoinedAt   time.Time
	LastSeen   time.Time
	IsCurrent  bool
}

// LogEntry is an immutable activity record.
type LogEntry struct {
	ID         int64
	EventName  string
	DeviceName string
	Message    string
	Timestamp  time.Time
}

// timeLayout is fixed width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// NormalizeName returns the canonical key for a device display name:
// surrounding whitespace trimmed and Unicode NFC normalized.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
