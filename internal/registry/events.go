package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// CreateEvent inserts a new event. Unlike UpsertDevice there is no replace
// policy: an existing event with the same name yields ErrEventExists.
//
// The host device referenced by HostName must already be registered.
func (r *Registry) CreateEvent(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (event_name, host_name, ssid, password, host_ip, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, eventArgs(e)...)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && isKeyConflict(sqliteErr) {
			return fmt.Errorf("create event %q: %w", e.Name, ErrEventExists)
		}
		return fmt.Errorf("create event %q: %w", e.Name, err)
	}
	return nil
}

func upsertEvent(ctx context.Context, x execer, e Event) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO events (event_name, host_name, ssid, password, host_ip, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_name) DO UPDATE SET
			host_name = excluded.host_name,
			ssid = excluded.ssid,
			password = excluded.password,
			host_ip = excluded.host_ip,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at
	`, eventArgs(e)...)
	return err
}

func eventArgs(e Event) []any {
	var endedAt sql.NullString
	if e.EndedAt != nil {
		endedAt = sql.NullString{String: formatTime(*e.EndedAt), Valid: true}
	}
	return []any{
		e.Name,
		NormalizeName(e.HostName),
		e.SSID,
		e.Password,
		e.HostIP,
		formatTime(e.StartedAt),
		endedAt,
	}
}

// EndEvent sets ended_at on the named event.
// Returns ErrNotFound if no such event exists.
func (r *Registry) EndEvent(ctx context.Context, name string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE events SET ended_at = ? WHERE event_name = ?
	`, formatTime(at), name)
	if err != nil {
		return fmt.Errorf("end event %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end event %q: %w", name, ErrNotFound)
	}
	return nil
}

// ActiveEvent returns the earliest started event with no ended_at.
// Uniqueness of the active event is not enforced here; callers uphold it.
// Returns ErrNotFound if every event has ended.
func (r *Registry) ActiveEvent(ctx context.Context) (Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT event_name, host_name, ssid, password, host_ip, started_at, ended_at
		FROM events
		WHERE ended_at IS NULL
		ORDER BY started_at ASC, event_name ASC
		LIMIT 1
	`)
	e, err := scanEvent(row)
	if err != nil {
		return Event{}, fmt.Errorf("active event: %w", err)
	}
	return e, nil
}

// GetEvent retrieves an event by name.
func (r *Registry) GetEvent(ctx context.Context, name string) (Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT event_name, host_name, ssid, password, host_ip, started_at, ended_at
		FROM events
		WHERE event_name = ?
	`, name)
	e, err := scanEvent(row)
	if err != nil {
		return Event{}, fmt.Errorf("get event %q: %w", name, err)
	}
	return e, nil
}

// ListEvents returns all events ordered by start time.
func (r *Registry) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_name, host_name, ssid, password, host_ip, started_at, ended_at
		FROM events
		ORDER BY started_at ASC, event_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// DeleteEvent removes an event and, by cascade, its connections.
// Logs for the event are left for ClearEventLogs.
func (r *Registry) DeleteEvent(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE event_name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete event %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete event %q: %w", name, ErrNotFound)
	}
	return nil
}

func scanEvent(s rowScanner) (Event, error) {
	var e Event
	var startedAt string
	var endedAt sql.NullString
	if err := s.Scan(&e.Name, &e.HostName, &e.SSID, &e.Password, &e.HostIP, &startedAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, ErrNotFound
		}
		return Event{}, err
	}

	t, err := parseTime(startedAt)
	if err != nil {
		return Event{}, fmt.Errorf("parse started_at: %w", err)
	}
	e.StartedAt = t

	if endedAt.Valid {
		t, err := parseTime(endedAt.String)
		if err != nil {
			return Event{}, fmt.Errorf("parse ended_at: %w", err)
		}
		e.EndedAt = &t
	}
	return e, nil
}

func isKeyConflict(err sqlite3.Error) bool {
	return err.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		err.ExtendedCode == sqlite3.ErrConstraintUnique
}
