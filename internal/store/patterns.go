package store

import (
	"context"
	"fmt"

	"github.com/kupo-index/kupo/internal/pattern"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// InsertPattern persists a registered pattern's canonical text. Patterns
// are created only via HTTP or initial config (spec §3 "Lifecycles").
func InsertPattern(conn *sqlite.Conn, p pattern.Pattern) error {
	if err := sqlitex.Execute(conn, "INSERT OR IGNORE INTO patterns (pattern) VALUES (?)",
		&sqlitex.ExecOptions{Args: []any{p.String()}}); err != nil {
		return fmt.Errorf("store: insert pattern: %w", err)
	}
	return nil
}

// DeletePattern removes a registered pattern's persisted row. The
// matched inputs are left untouched until GC or an explicit
// DELETE /matches (spec §4.3 "DELETE /patterns/{p}").
func DeletePattern(conn *sqlite.Conn, p pattern.Pattern) error {
	if err := sqlitex.Execute(conn, "DELETE FROM patterns WHERE pattern = ?",
		&sqlitex.ExecOptions{Args: []any{p.String()}}); err != nil {
		return fmt.Errorf("store: delete pattern: %w", err)
	}
	return nil
}

// ListPatterns loads every persisted pattern, used at startup to seed
// the in-memory registry (spec §4.4).
func ListPatterns(conn *sqlite.Conn) ([]pattern.Pattern, error) {
	var patterns []pattern.Pattern
	var parseErr error
	err := sqlitex.Execute(conn, "SELECT pattern FROM patterns", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			p, err := pattern.Parse(stmt.ColumnText(0))
			if err != nil {
				parseErr = err
				return err
			}
			patterns = append(patterns, p)
			return nil
		},
	})
	if parseErr != nil {
		return nil, fmt.Errorf("store: parse stored pattern: %w", parseErr)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list patterns: %w", err)
	}
	return patterns, nil
}

func (s *Store) ListPatterns(ctx context.Context) ([]pattern.Pattern, error) {
	var patterns []pattern.Pattern
	err := s.ReadTx(ctx, func(conn *sqlite.Conn) error {
		var err error
		patterns, err = ListPatterns(conn)
		return err
	})
	return patterns, err
}

func (s *Store) InsertPattern(ctx context.Context, p pattern.Pattern) error {
	return s.WriteTxShort(ctx, func(conn *sqlite.Conn) error {
		return InsertPattern(conn, p)
	})
}

func (s *Store) DeletePattern(ctx context.Context, p pattern.Pattern) error {
	return s.WriteTxShort(ctx, func(conn *sqlite.Conn) error {
		return DeletePattern(conn, p)
	})
}
