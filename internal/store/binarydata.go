package store

import (
	"context"
	"fmt"

	"github.com/kupo-index/kupo/internal/model"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// InsertBinaryData stores a datum the first time it is referenced and
// bumps its ref_count on every subsequent reference. GC deletes the row
// once no input's datum_hash references it; ref_count is not consulted
// for binary_data.
func InsertBinaryData(conn *sqlite.Conn, d model.BinaryData) error {
	if err := sqlitex.Execute(conn,
		`INSERT INTO binary_data (datum_hash, bytes, ref_count) VALUES (?, ?, 1)
		 ON CONFLICT(datum_hash) DO UPDATE SET ref_count = ref_count + 1`,
		&sqlitex.ExecOptions{Args: []any{[]byte(d.Hash), d.Bytes}},
	); err != nil {
		return fmt.Errorf("store: insert binary_data: %w", err)
	}
	return nil
}

// BinaryDataByHash looks up a datum by hash, nil if absent (spec §4.3
// "GET /datums/{hash}").
func BinaryDataByHash(conn *sqlite.Conn, hash []byte) (*model.BinaryData, error) {
	var found *model.BinaryData
	if err := sqlitex.Execute(conn, "SELECT datum_hash, bytes FROM binary_data WHERE datum_hash = ?",
		&sqlitex.ExecOptions{
			Args: []any{hash},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = &model.BinaryData{Hash: columnBytes(stmt, 0), Bytes: columnBytes(stmt, 1)}
				return nil
			},
		},
	); err != nil {
		return nil, fmt.Errorf("store: datum lookup: %w", err)
	}
	return found, nil
}

// InsertScript stores a script's bytes and language, ref-counted like
// binary_data.
func InsertScript(conn *sqlite.Conn, s model.Script) error {
	if err := sqlitex.Execute(conn,
		`INSERT INTO scripts (script_hash, bytes, language, ref_count) VALUES (?, ?, ?, 1)
		 ON CONFLICT(script_hash) DO UPDATE SET ref_count = ref_count + 1`,
		&sqlitex.ExecOptions{Args: []any{[]byte(s.Hash), s.Bytes, s.Language}},
	); err != nil {
		return fmt.Errorf("store: insert script: %w", err)
	}
	return nil
}

// ScriptByHash looks up a script by hash, nil if absent (spec §4.3
// "GET /scripts/{hash}").
func ScriptByHash(conn *sqlite.Conn, hash []byte) (*model.Script, error) {
	var found *model.Script
	if err := sqlitex.Execute(conn, "SELECT script_hash, bytes, language FROM scripts WHERE script_hash = ?",
		&sqlitex.ExecOptions{
			Args: []any{hash},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = &model.Script{
					Hash:     columnBytes(stmt, 0),
					Bytes:    columnBytes(stmt, 1),
					Language: stmt.ColumnText(2),
				}
				return nil
			},
		},
	); err != nil {
		return nil, fmt.Errorf("store: script lookup: %w", err)
	}
	return found, nil
}

func (s *Store) BinaryDataByHash(ctx context.Context, hash []byte) (*model.BinaryData, error) {
	var found *model.BinaryData
	err := s.ReadTx(ctx, func(conn *sqlite.Conn) error {
		var err error
		found, err = BinaryDataByHash(conn, hash)
		return err
	})
	return found, err
}

func (s *Store) ScriptByHash(ctx context.Context, hash []byte) (*model.Script, error) {
	var found *model.Script
	err := s.ReadTx(ctx, func(conn *sqlite.Conn) error {
		var err error
		found, err = ScriptByHash(conn, hash)
		return err
	})
	return found, err
}
