package registry

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendLog inserts a log entry and returns its assigned id.
// The entry's ID field is ignored.
func (r *Registry) AppendLog(ctx context.Context, l LogEntry) (int64, error) {
	res, err := insertLog(ctx, r.db, l)
	if err != nil {
		return 0, fmt.Errorf("append log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append log: last insert id: %w", err)
	}
	return id, nil
}

func insertLog(ctx context.Context, x execer, l LogEntry) (sql.Result, error) {
	return x.ExecContext(ctx, `
		INSERT INTO logs (event_name, device_name, message, timestamp)
		VALUES (?, ?, ?, ?)
	`,
		l.EventName,
		NormalizeName(l.DeviceName),
		l.Message,
		formatTime(l.Timestamp),
	)
}

// LogsForEvent lists an event's log entries, newest first.
func (r *Registry) LogsForEvent(ctx context.Context, eventName string) ([]LogEntry, error) {
	return r.queryLogs(ctx, `
		SELECT id, event_name, device_name, message, timestamp
		FROM logs
		WHERE event_name = ?
		ORDER BY timestamp DESC, id DESC
	`, eventName)
}

// LogsForDevice lists a device's log entries across all events, newest first.
func (r *Registry) LogsForDevice(ctx context.Context, deviceName string) ([]LogEntry, error) {
	return r.queryLogs(ctx, `
		SELECT id, event_name, device_name, message, timestamp
		FROM logs
		WHERE device_name = ?
		ORDER BY timestamp DESC, id DESC
	`, NormalizeName(deviceName))
}

// ClearEventLogs deletes every log entry for an event and returns the count removed.
func (r *Registry) ClearEventLogs(ctx context.Context, eventName string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM logs WHERE event_name = ?`, eventName)
	if err != nil {
		return 0, fmt.Errorf("clear logs for %q: %w", eventName, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *Registry) queryLogs(ctx context.Context, query string, arg string) ([]LogEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	logs := []LogEntry{}
	for rows.Next() {
		var l LogEntry
		var ts string
		if err := rows.Scan(&l.ID, &l.EventName, &l.DeviceName, &l.Message, &ts); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		l.Timestamp = t
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return logs, nil
}
