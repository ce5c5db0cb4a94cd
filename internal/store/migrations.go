package store

import (
	_ "embed"
	"fmt"

	"github.com/kupo-index/kupo/internal/apperr"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

//go:embed schema_core.sql
var schemaCoreSQL string

//go:embed schema_indexes.sql
var schemaIndexesSQL string

// schemaVersion is the current stored migration counter this binary
// knows how to reach. A stored version higher than this is badMigration
// (spec §6 "downgrades are unsupported").
const schemaVersion = 1

// migrations lists forward steps applied in order, one per increment of
// schemaVersion. Today there is a single step; future schema changes
// append here rather than rewriting schemaCoreSQL in place.
var migrations = []string{
	schemaCoreSQL,
}

// migrate applies any outstanding forward migrations inside a single
// IMMEDIATE transaction (spec §6 "applied at startup inside a single
// IMMEDIATE transaction").
func migrate(conn *sqlite.Conn) (err error) {
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin migration transaction: %w", err)
	}
	defer endFn(&err)

	// A fresh database has no schema_migrations table yet; create it
	// so currentVersion reads 0 instead of failing.
	if err := sqlitex.Execute(conn, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)", nil); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}

	current, err := currentVersion(conn)
	if err != nil {
		return err
	}
	if current > schemaVersion {
		return fmt.Errorf("%w: stored version %d, binary knows up to %d", apperr.ErrBadMigration, current, schemaVersion)
	}

	if current == 0 {
		if err := sqlitex.ExecuteScript(conn, schemaCoreSQL, nil); err != nil {
			return fmt.Errorf("store: apply base schema: %w", err)
		}
		if err := sqlitex.Execute(conn, "INSERT INTO schema_migrations (version) VALUES (?)",
			&sqlitex.ExecOptions{Args: []any{int64(1)}}); err != nil {
			return fmt.Errorf("store: record schema version: %w", err)
		}
		current = 1
	}

	for v := current + 1; v <= schemaVersion; v++ {
		if err := sqlitex.ExecuteScript(conn, migrations[v-1], nil); err != nil {
			return fmt.Errorf("store: apply migration %d: %w", v, err)
		}
		if err := sqlitex.Execute(conn, "UPDATE schema_migrations SET version = ?",
			&sqlitex.ExecOptions{Args: []any{int64(v)}}); err != nil {
			return fmt.Errorf("store: record schema version %d: %w", v, err)
		}
	}

	return nil
}

func currentVersion(conn *sqlite.Conn) (int, error) {
	var version int
	err := sqlitex.Execute(conn, "SELECT version FROM schema_migrations LIMIT 1", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = int(stmt.ColumnInt64(0))
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("store: read schema version: %w", err)
	}
	return version, nil
}

// ensureIndexes creates the non-essential indexes unless they are
// deferred (spec §6 "--defer-db-indexes"). The essential uniqueness
// index on output_reference and checkpoints(slot) are primary keys in
// schemaCoreSQL and therefore always present regardless of this call.
func ensureIndexes(conn *sqlite.Conn) error {
	if err := sqlitex.ExecuteScript(conn, schemaIndexesSQL, nil); err != nil {
		return fmt.Errorf("store: create indexes: %w", err)
	}
	return nil
}
