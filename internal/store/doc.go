// Package store keeps a SQLite ledger of probe runs.
//
// Each finished run is one row in runs; a failing run additionally stores
// its diff records in diff_records so a mismatch can be inspected later
// without re-running the simulator.
//
// # Ordering
//
// Runs carry a logical sequence number assigned at insert time. History
// queries order by seq, never by wall-clock timestamps, so two runs
// recorded within the same clock tick still list deterministically.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
