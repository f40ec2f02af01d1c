package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertDevice inserts a device or replaces the stored record with the same name.
// Re-registering a name with a new uuid replaces the uuid.
//
// A uuid already held by a differently named device violates the UNIQUE
// constraint and is returned as an error.
func (r *Registry) UpsertDevice(ctx context.Context, d Device) error {
	if err := upsertDevice(ctx, r.db, d); err != nil {
		return fmt.Errorf("upsert device %q: %w", d.Name, err)
	}
	return nil
}

func upsertDevice(ctx context.Context, x execer, d Device) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO devices (device_name, device_uuid, is_host, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_name) DO UPDATE SET
			device_uuid = excluded.device_uuid,
			is_host = excluded.is_host,
			created_at = excluded.created_at
	`,
		NormalizeName(d.Name),
		d.UUID,
		d.IsHost,
		formatTime(d.CreatedAt),
	)
	return err
}

// GetDevice retrieves a device by name.
// Returns ErrNotFound if no such device exists.
func (r *Registry) GetDevice(ctx context.Context, name string) (Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT device_name, device_uuid, is_host, created_at
		FROM devices
		WHERE device_name = ?
	`, NormalizeName(name))

	d, err := scanDevice(row)
	if err != nil {
		return Device{}, fmt.Errorf("get device %q: %w", name, err)
	}
	return d, nil
}

// GetDeviceByUUID retrieves a device by uuid.
// Returns ErrNotFound if no such device exists.
func (r *Registry) GetDeviceByUUID(ctx context.Context, uuid string) (Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT device_name, device_uuid, is_host, created_at
		FROM devices
		WHERE device_uuid = ?
	`, uuid)

	d, err := scanDevice(row)
	if err != nil {
		return Device{}, fmt.Errorf("get device by uuid %q: %w", uuid, err)
	}
	return d, nil
}

// ListDevices returns all devices ordered by creation time, then name.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_name, device_uuid, is_host, created_at
		FROM devices
		ORDER BY created_at ASC, device_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
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
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}

// DeleteDevice removes a device and, by cascade, its connections.
// Log entries naming the device are kept. Deleting a device that hosts an
// event fails with a foreign key error.
func (r *Registry) DeleteDevice(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE device_name = ?`, NormalizeName(name))
	if err != nil {
		return fmt.Errorf("delete device %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete device %q: %w", name, ErrNotFound)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(s rowScanner) (Device, error) {
	var d Device
	var createdAt string
	if err := s.Scan(&d.Name, &d.UUID, &d.IsHost, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Device{}, ErrNotFound
		}
		return Device{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return Device{}, fmt.Errorf("parse created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}
