package registry

import (
	"context"
	"fmt"
	"time"
)

// UpsertConnection inserts a connection or replaces the row with the same
// (event, device) key. Re-joining reuses the row rather than duplicating it.
func (r *Registry) UpsertConnection(ctx context.Context, c Connection) error {
	if err := upsertConnection(ctx, r.db, c); err != nil {
		return fmt.Errorf("upsert connection (%s, %s): %w", c.EventName, c.DeviceName, err)
	}
	return nil
}

func upsertConnection(ctx context.Context, x execer, c Connection) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO connections (event_name, device_name, joined_at, last_seen, is_current)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(event_name, device_name) DO UPDATE SET
			joined_at = excluded.joined_at,
			last_seen = excluded.last_seen,
			is_current = excluded.is_current
	`,
		c.EventName,
		NormalizeName(c.DeviceName),
		formatTime(c.JoinedAt),
		formatTime(c.LastSeen),
		c.IsCurrent,
	)
	return err
}

// TouchConnection refreshes last_seen for an existing connection.
// Returns ErrNotFound if the connection does not exist.
func (r *Registry) TouchConnection(ctx context.Context, eventName, deviceName string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE connections SET last_seen = ?
		WHERE event_name = ? AND device_name = ?
	`, formatTime(at), eventName, NormalizeName(deviceName))
	if err != nil {
		return fmt.Errorf("touch connection (%s, %s): %w", eventName, deviceName, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("touch connection (%s, %s): %w", eventName, deviceName, ErrNotFound)
	}
	return nil
}

// MarkNotCurrent flips is_current to false, keeping the row as history.
// Returns ErrNotFound if the connection does not exist.
func (r *Registry) MarkNotCurrent(ctx context.Context, eventName, deviceName string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE connections SET is_current = 0, last_seen = ?
		WHERE event_name = ? AND device_name = ?
	`, formatTime(at), eventName, NormalizeName(deviceName))
	if err != nil {
		return fmt.Errorf("mark not current (%s, %s): %w", eventName, deviceName, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark not current (%s, %s): %w", eventName, deviceName, ErrNotFound)
	}
	return nil
}

// EndConnections marks every current connection of an event not current,
// as when the event itself ends. Returns the number of rows changed.
func (r *Registry) EndConnections(ctx context.Context, eventName string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE connections SET is_current = 0, last_seen = ?
		WHERE event_name = ? AND is_current = 1
	`, formatTime(at), eventName)
	if err != nil {
		return 0, fmt.Errorf("end connections (%s): %w", eventName, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CurrentConnections lists the connections marked current for an event,
// ordered by join time.
func (r *Registry) CurrentConnections(ctx context.Context, eventName string) ([]Connection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_name, device_name, joined_at, last_seen, is_current
		FROM connections
		WHERE event_name = ? AND is_current = 1
		ORDER BY joined_at ASC, device_name ASC
	`, eventName)
	if err != nil {
		return nil, fmt.Errorf("query current connections: %w", err)
	}
	defer rows.Close()

	conns := []Connection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return conns, nil
}

// CurrentDeviceNames returns the names of devices currently connected to an event.
func (r *Registry) CurrentDeviceNames(ctx context.Context, eventName string) ([]string, error) {
	conns, err := r.CurrentConnections(ctx, eventName)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(conns))
	for i, c := range conns {
		names[i] = c.DeviceName
	}
	return names, nil
}

// EventDevices returns every device that has ever connected to an event.
func (r *Registry) EventDevices(ctx context.Context, eventName string) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT d.device_name, d.device_uuid, d.is_host, d.created_at
		FROM connections c
		JOIN devices d ON d.device_name = c.device_name
		WHERE c.event_name = ?
		ORDER BY c.joined_at ASC, d.device_name ASC
	`, eventName)
	if err != nil {
		return nil, fmt.Errorf("query event devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event devices: %w", err)
	}
	return devices, nil
}

// IsCurrent reports whether the device is currently connected to the event.
func (r *Registry) IsCurrent(ctx context.Context, eventName, deviceName string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM connections
		WHERE event_name = ? AND device_name = ? AND is_current = 1
	`, eventName, NormalizeName(deviceName)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check connection: %w", err)
	}
	return count > 0, nil
}

func scanConnection(s rowScanner) (Connection, error) {
	var c Connection
	var joinedAt, lastSeen string
	if err := s.Scan(&c.EventName, &c.DeviceName, &joinedAt, &lastSeen, &c.IsCurrent); err != nil {
		return Connection{}, err
	}
	var err error
	if c.JoinedAt, err = parseTime(joinedAt); err != nil {
		return Connection{}, fmt.Errorf("parse joined_at: %w", err)
	}
	if c.LastSeen, err = parseTime(lastSeen); err != nil {
		return Connection{}, fmt.Errorf("parse last_seen: %w", err)
	}
	return c, nil
}
