// Package storage persists watch entries and check history.
//
// Backends:
//   - memory: process-local, for tests and ephemeral runs
//   - file: JSONL journal + periodic snapshot, no external dependencies
//   - sqlite: modernc.org/sqlite (pure Go), WAL mode
//   - postgres: jackc/pgx connection pool
//
// Every backend exposes the same two logical tables, watch_entries and
// check_results, and the same Store contract.
package storage
