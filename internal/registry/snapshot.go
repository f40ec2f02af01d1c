package registry

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"go.uber.org/zap"
)

// Snapshot is a full export of registry contents.
type Snapshot struct {
	Devices     []Device
	Events      []Event
	Connections []Connection
	Logs        []LogEntry
}

// Empty reports whether the snapshot carries no devices and no events.
func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.Devices) == 0 && len(s.Events) == 0)
}

// Export builds a snapshot of the registry: all devices, all events, the
// current connections of every event and the logs of every event.
//
// Returns nil when the registry holds no devices and no events.
func (r *Registry) Export(ctx context.Context) (*Snapshot, error) {
	devices, err := r.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	events, err := r.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	if len(devices) == 0 && len(events) == 0 {
		return nil, nil
	}

	snap := &Snapshot{
		Devices:     devices,
		Events:      events,
		Connections: []Connection{},
		Logs:        []LogEntry{},
	}
	for _, e := range events {
		conns, err := r.CurrentConnections(ctx, e.Name)
		if err != nil {
			return nil, fmt.Errorf("export: %w", err)
		}
		snap.Connections = append(snap.Connections, conns...)

		logs, err := r.LogsForEvent(ctx, e.Name)
		if err != nil {
			return nil, fmt.Errorf("export: %w", err)
		}
		snap.Logs = append(snap.Logs, logs...)
	}
	return snap, nil
}

// RowKind names the table a skipped row belonged to.
type RowKind string

const (
	RowDevice     RowKind = "device"
	RowEvent      RowKind = "event"
	RowConnection RowKind = "connection"
	RowLog        RowKind = "log"
)

// SkippedRow describes one row ReplaceImport could not insert.
type SkippedRow struct {
	Kind   RowKind
	Key    string
	Reason string
}

// ImportResult counts the rows ReplaceImport inserted and lists those it skipped.
type ImportResult struct {
	Devices     int
	Events      int
	Connections int
	Logs        int
	Skipped     []SkippedRow
}

// Partial reports whether any row was skipped.
func (r ImportResult) Partial() bool {
	return len(r.Skipped) > 0
}

// ReplaceImport clears the registry and repopulates it from snap in one
// transaction.
//
// Tables are cleared in dependency order (logs, connections, events,
// devices); a failure while clearing aborts the import and leaves the
// registry untouched. Rows are then inserted with replace-on-conflict, each
// inside its own savepoint: a row that fails is rolled back alone, logged and
// recorded in ImportResult.Skipped, and the import continues. A nil snapshot
// clears the registry.
func (r *Registry) ReplaceImport(ctx context.Context, snap *Snapshot) (ImportResult, error) {
	var res ImportResult

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("replace import: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, table := range []string{"logs", "connections", "events", "devices"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return res, fmt.Errorf("replace import: clear %s: %w", table, err)
		}
	}

	if snap == nil {
		snap = &Snapshot{}
	}

	// row runs one insert under a savepoint so a failure discards only that row.
	row := func(kind RowKind, key string, insert func() error) (bool, error) {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT import_row"); err != nil {
			return false, fmt.Errorf("replace import: savepoint: %w", err)
		}
		if insertErr := insert(); insertErr != nil {
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO import_row"); err != nil {
				return false, fmt.Errorf("replace import: rollback row: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "RELEASE import_row"); err != nil {
				return false, fmt.Errorf("replace import: release row: %w", err)
			}
			r.log.Warn("import row skipped",
				zap.String("kind", string(kind)),
				zap.String("key", key),
				zap.Error(insertErr),
			)
			res.Skipped = append(res.Skipped, SkippedRow{Kind: kind, Key: key, Reason: insertErr.Error()})
			return false, nil
		}
		if _, err := tx.ExecContext(ctx, "RELEASE import_row"); err != nil {
			return false, fmt.Errorf("replace import: release row: %w", err)
		}
		return true, nil
	}

	for _, d := range snap.Devices {
		ok, err := row(RowDevice, d.Name, func() error { return upsertDevice(ctx, tx, d) })
		if err != nil {
			return res, err
		}
		if ok {
			res.Devices++
		}
	}
	for _, e := range snap.Events {
		ok, err := row(RowEvent, e.Name, func() error { return upsertEvent(ctx, tx, e) })
		if err != nil {
			return res, err
		}
		if ok {
			res.Events++
		}
	}
	for _, c := range snap.Connections {
		key := c.EventName + "/" + c.DeviceName
		ok, err := row(RowConnection, key, func() error { return upsertConnection(ctx, tx, c) })
		if err != nil {
			return res, err
		}
		if ok {
			res.Connections++
		}
	}
	for _, l := range chronological(snap.Logs) {
		key := l.EventName + "/" + l.DeviceName
		ok, err := row(RowLog, key, func() error {
			_, err := insertLog(ctx, tx, l)
			return err
		})
		if err != nil {
			return res, err
		}
		if ok {
			res.Logs++
		}
	}

	if err := tx.Commit(); err != nil {
		return ImportResult{}, fmt.Errorf("replace import: commit: %w", err)
	}
	return res, nil
}

// chronological orders logs oldest first so that re-imported ids follow time.
// Export lists logs newest first, so reversing before the stable sort keeps
// entries with equal timestamps in their original id order.
func chronological(logs []LogEntry) []LogEntry {
	ordered := slices.Clone(logs)
	slices.Reverse(ordered)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	return ordered
}
