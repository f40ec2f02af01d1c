// Package registry provides the SQLite-backed device registry shared by the
// host and its clients.
//
// The registry holds four tables:
//   - devices: every peer ever seen, keyed by display name (uuid unique)
//   - events: communication sessions; at most one has no ended_at
//   - connections: a device's membership in an event, keyed by (event, device)
//   - logs: append-only activity trail with auto-increment ids
//
// Two bulk operations move whole registries between devices: Export builds a
// Snapshot of the current contents and ReplaceImport clears every table and
// repopulates it from a Snapshot in a single transaction. Row inserts during
// ReplaceImport are best-effort; rows that fail are skipped and reported in
// the ImportResult.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Connections and events must reference known devices
//
// Timestamps are stored as fixed-width RFC 3339 UTC text so that ORDER BY on
// the column is chronological.
package registry
