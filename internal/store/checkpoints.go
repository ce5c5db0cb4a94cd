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

// InsertCheckpoint records a new checkpoint and thins the ring so it
// keeps every checkpoint within longestRollback slots of the tip and at
// least one per power-of-two distance beyond (spec §3 Checkpoint, §8
// testable property). Callers run this inside the same transaction as
// the block's inputs (spec §4.2 "Checkpoints are written inside the
// same transaction as the block's inputs").
func InsertCheckpoint(conn *sqlite.Conn, cp model.Checkpoint, longestRollback uint64) error {
	if err := sqlitex.Execute(conn,
		"INSERT OR REPLACE INTO checkpoints (slot, header_hash) VALUES (?, ?)",
		&sqlitex.ExecOptions{Args: []any{int64(cp.Slot), []byte(cp.Hash)}},
	); err != nil {
		return fmt.Errorf("store: insert checkpoint: %w", err)
	}
	return thinCheckpoints(conn, cp.Slot, longestRollback)
}

// thinCheckpoints deletes checkpoints that the coverage policy no
// longer requires: every slot is kept inside the rollback horizon;
// beyond it, a checkpoint survives only if it is the closest one at or
// before tip-2^k for some k≥0 (exponential thinning). This keeps the
// ring size O(log(tip)) while guaranteeing a resolvable rollback target
// at every power-of-two distance.
func thinCheckpoints(conn *sqlite.Conn, tip uint64, longestRollback uint64) error {
	var horizon uint64
	if tip > longestRollback {
		horizon = tip - longestRollback
	}

	var slots []uint64
	if err := sqlitex.Execute(conn,
		"SELECT slot FROM checkpoints WHERE slot < ? ORDER BY slot DESC",
		&sqlitex.ExecOptions{
			Args: []any{int64(horizon)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				slots = append(slots, uint64(stmt.ColumnInt64(0)))
				return nil
			},
		},
	); err != nil {
		return fmt.Errorf("store: list thinning candidates: %w", err)
	}

	keep := make(map[uint64]bool, len(slots))
	for k := uint64(0); ; k++ {
		distance := uint64(1) << k
		if distance > tip {
			break
		}
		target := tip - distance
		if target >= horizon {
			continue
		}
		if nearest, ok := nearestAtOrBelow(slots, target); ok {
			keep[nearest] = true
		}
		if distance == 0 {
			break
		}
	}

	for _, slot := range slots {
		if keep[slot] {
			continue
		}
		if err := sqlitex.Execute(conn, "DELETE FROM checkpoints WHERE slot = ?",
			&sqlitex.ExecOptions{Args: []any{int64(slot)}}); err != nil {
			return fmt.Errorf("store: thin checkpoint %d: %w", slot, err)
		}
	}
	return nil
}

// nearestAtOrBelow returns the largest element of the descending-sorted
// slots that is <= target.
func nearestAtOrBelow(slots []uint64, target uint64) (uint64, bool) {
	for _, s := range slots {
		if s <= target {
			return s, true
		}
	}
	return 0, false
}

// CheckpointAt returns the checkpoint exactly at slot (strict=true), or
// the closest ancestor (strict=false); nil if none qualifies (spec §4.3
// "GET /checkpoints/{slot}").
func CheckpointAt(conn *sqlite.Conn, slot uint64, strict bool) (*model.Checkpoint, error) {
	query := "SELECT slot, header_hash FROM checkpoints WHERE slot = ? LIMIT 1"
	if !strict {
		query = "SELECT slot, header_hash FROM checkpoints WHERE slot <= ? ORDER BY slot DESC LIMIT 1"
	}

	var found *model.Checkpoint
	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{int64(slot)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = &model.Checkpoint{
				Slot: uint64(stmt.ColumnInt64(0)),
				Hash: columnBytes(stmt, 1),
			}
			return nil
		},
	}); err != nil {
		return nil, fmt.Errorf("store: checkpoint at %d: %w", slot, err)
	}
	return found, nil
}

// StreamCheckpoints invokes yield for every stored checkpoint in
// descending slot order, stopping early if yield returns an error (spec
// §4.3 "GET /checkpoints").
func StreamCheckpoints(conn *sqlite.Conn, yield func(model.Checkpoint) error) error {
	var yieldErr error
	err := sqlitex.Execute(conn,
		"SELECT slot, header_hash FROM checkpoints ORDER BY slot DESC",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if yieldErr != nil {
					return nil
				}
				cp := model.Checkpoint{
					Slot: uint64(stmt.ColumnInt64(0)),
					Hash: columnBytes(stmt, 1),
				}
				yieldErr = yield(cp)
				return yieldErr
			},
		},
	)
	if yieldErr != nil {
		return yieldErr
	}
	if err != nil {
		return fmt.Errorf("store: stream checkpoints: %w", err)
	}
	return nil
}

// MostRecentCheckpoint returns the tip checkpoint, or nil if the store
// has never ingested a block.
func MostRecentCheckpoint(conn *sqlite.Conn) (*model.Checkpoint, error) {
	var found *model.Checkpoint
	if err := sqlitex.Execute(conn,
		"SELECT slot, header_hash FROM checkpoints ORDER BY slot DESC LIMIT 1",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = &model.Checkpoint{
					Slot: uint64(stmt.ColumnInt64(0)),
					Hash: columnBytes(stmt, 1),
				}
				return nil
			},
		},
	); err != nil {
		return nil, fmt.Errorf("store: most recent checkpoint: %w", err)
	}
	return found, nil
}

// (s *Store) convenience wrappers used by the HTTP handlers, which only
// ever need a short-lived read transaction for checkpoint lookups.

func (s *Store) Checkpoints(ctx context.Context, yield func(model.Checkpoint) error) error {
	return s.ReadTx(ctx, func(conn *sqlite.Conn) error {
		return StreamCheckpoints(conn, yield)
	})
}

func (s *Store) CheckpointAt(ctx context.Context, slot uint64, strict bool) (*model.Checkpoint, error) {
	var found *model.Checkpoint
	err := s.ReadTx(ctx, func(conn *sqlite.Conn) error {
		cp, err := CheckpointAt(conn, slot, strict)
		found = cp
		return err
	})
	return found, err
}

func (s *Store) MostRecentCheckpoint(ctx context.Context) (*model.Checkpoint, error) {
	var found *model.Checkpoint
	err := s.ReadTx(ctx, func(conn *sqlite.Conn) error {
		cp, err := MostRecentCheckpoint(conn)
		found = cp
		return err
	})
	return found, err
}

// AncestorOrOrigin resolves a requested rollback point to the known
// checkpoint at exactly its slot, or to the zero Checkpoint if p is
// chainpoint.Origin. Returns apperr.ErrNonExistingPoint if neither
// applies.
func AncestorOrOrigin(conn *sqlite.Conn, p chainpoint.Point) (model.Checkpoint, error) {
	if p.IsOrigin() {
		return model.Checkpoint{}, nil
	}
	found, err := CheckpointAt(conn, p.Slot, true)
	if err != nil {
		return model.Checkpoint{}, err
	}
	if found == nil {
		return model.Checkpoint{}, apperr.ErrNonExistingPoint
	}
	return *found, nil
}
