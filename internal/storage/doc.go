// Package storage persists broadcast jobs, the recipient group directory,
// the user registry and an audit trail.
//
// Drivers:
//   - memory:   process-local maps, nothing survives a restart
//   - file:     job snapshot + JSONL journal, JSON snapshots for groups/users
//   - sqlite:   modernc.org/sqlite, single connection, WAL
//   - postgres: pgx connection pool
package storage
