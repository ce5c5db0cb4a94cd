package store

import (
	"context"
	"fmt"

	"github.com/kupo-index/kupo/internal/apperr"
	"github.com/kupo-index/kupo/internal/chainpoint"
	"github.com/kupo-index/kupo/internal/model"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// RollbackTo performs the rollback half of spec §4.1: delete inputs
// created after p, clear the spent marker on inputs spent after p,
// delete checkpoints newer than p, and return the new tip. Callers hold
// the writer lock for the whole operation (it runs inside the
// long-lived connection's IMMEDIATE transaction).
func RollbackTo(conn *sqlite.Conn, p chainpoint.Point) (*model.Checkpoint, error) {
	if err := DeleteInputsNewerThan(conn, p.Slot); err != nil {
		return nil, err
	}
	if err := sqlitex.Execute(conn, "DELETE FROM checkpoints WHERE slot > ?",
		&sqlitex.ExecOptions{Args: []any{int64(p.Slot)}}); err != nil {
		return nil, fmt.Errorf("store: delete checkpoints newer than %d: %w", p.Slot, err)
	}
	return MostRecentCheckpoint(conn)
}

// ForcedRollback resolves a requested rollback target against the known
// checkpoint ring and the configured rollback horizon, per the HTTP
// `PUT /patterns` contract (spec §4.3, §8 scenario 3):
//
//   - if p is a known checkpoint (or Origin) within the horizon, roll
//     back to it directly;
//   - if p is not known but its slot lies within longestRollback of tip,
//     accept it optimistically, inserting a synthetic checkpoint at p
//     (spec's documented Open Question: "the source tolerates optimistic
//     forced rollbacks to points outside known checkpoints within the
//     horizon"; this implementation preserves that behavior verbatim);
//   - if p lies beyond the horizon, known or not, succeed only when allowUnsafe is
//     true; otherwise return apperr.ErrUnsafeRollbackBeyondSafeZone
//     without mutating anything.
func ForcedRollback(conn *sqlite.Conn, p chainpoint.Point, allowUnsafe bool, longestRollback uint64) (*model.Checkpoint, error) {
	tip, err := MostRecentCheckpoint(conn)
	if err != nil {
		return nil, err
	}

	known, err := CheckpointAt(conn, p.Slot, true)
	if err != nil {
		return nil, err
	}

	withinHorizon := tip == nil || tip.Slot < p.Slot || tip.Slot-p.Slot <= longestRollback
	if !withinHorizon && !allowUnsafe {
		return nil, apperr.ErrUnsafeRollbackBeyondSafeZone
	}

	if known == nil && !p.IsOrigin() {
		if err := sqlitex.Execute(conn,
			"INSERT OR REPLACE INTO checkpoints (slot, header_hash) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{int64(p.Slot), p.Hash[:]}},
		); err != nil {
			return nil, fmt.Errorf("store: insert synthetic checkpoint: %w", err)
		}
	}

	return RollbackTo(conn, p)
}

// (s *Store) wrapper used by the chain consumer's ForcedRollback state
// and by plain RollBackward events during Following.

func (s *Store) RollbackTo(ctx context.Context, p chainpoint.Point) (*model.Checkpoint, error) {
	var tip *model.Checkpoint
	err := s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		var err error
		tip, err = RollbackTo(conn, p)
		return err
	})
	return tip, err
}

func (s *Store) ForcedRollback(ctx context.Context, p chainpoint.Point, allowUnsafe bool, longestRollback uint64) (*model.Checkpoint, error) {
	var tip *model.Checkpoint
	err := s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		var err error
		tip, err = ForcedRollback(conn, p, allowUnsafe, longestRollback)
		return err
	})
	return tip, err
}
