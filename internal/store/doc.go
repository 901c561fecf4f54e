// Package store provides the SQLite-backed directory backend and replication
// ledger.
//
// The store holds:
//   - Entries: the local directory, one row per live entry or tombstone
//   - Attribute and value metadata: origination stamps in wire form
//   - Applied units: per-partner ledger of unit IDs, for idempotent replay
//   - Partner cursors: the highest position fully applied per partner
//
// Store implements dispatch.Backend. Every backend call runs in its own write
// transaction and is rolled back on failure. SQLITE_BUSY and SQLITE_LOCKED are
// reported as dispatch.RetryableError.
//
// # Conflict resolution
//
// An incoming attribute or value change is applied only when its stamp orders
// after the stored one (ir.Stamp.Compare). Re-applying a unit is a no-op.
// An Add for an objectGUID already stored goes through the same comparison,
// so a creation relayed by a second partner converges instead of colliding.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Ledger queries order by seq ASC, unit_id COLLATE BINARY so results are
// identical across replays.
package store
