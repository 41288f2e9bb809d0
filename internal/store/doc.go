// Package store is the SQLite snapshot ledger of engine passes.
//
// After each engine run the harness records what the run published: every
// database library and release, every index entry and the size and digest
// of every file of interest (clones, archives). Later checks compare two
// snapshots (idempotence) or a snapshot against the live tree (canary
// libraries left untouched by modify/remove).
//
// Records are stored as canonical JSON so two snapshots of equal content
// hold byte-equal rows.
//
// # Ordering
//
// Runs are ordered by seq, a per-ledger counter. Wall-clock time is never
// recorded. Every query ends in ORDER BY seq, key COLLATE BINARY so results
// are stable.
//
// # Database Configuration
//
//   - WAL mode: concurrent readers while a scenario writes
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: records cannot outlive their run
package store
