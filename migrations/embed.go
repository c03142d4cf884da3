package migrations

import "embed"

// Postgres holds the PostgreSQL schema migrations (postgres/*.sql).
//
//go:embed postgres/*.sql
var Postgres embed.FS

// SQLite holds the SQLite schema migrations (sqlite/*.sql).
//
//go:embed sqlite/*.sql
var SQLite embed.FS
