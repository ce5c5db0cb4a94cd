package store

import (
	"context"
	"fmt"

	"github.com/kupo-index/kupo/internal/digest"
	"github.com/kupo-index/kupo/internal/model"
	"github.com/kupo-index/kupo/internal/pattern"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// InsertInput persists a newly matched output and its asset rows. Called
// once per matched output while folding a block (spec §4.2 "persist
// matches plus any referenced datums and scripts").
func InsertInput(conn *sqlite.Conn, in model.Input) error {
	if err := sqlitex.Execute(conn,
		`INSERT INTO inputs (
			output_reference, output_tx_id, output_index, address,
			payment_credential, delegation_credential, value, datum_hash,
			created_at_slot, created_at_header_hash, created_at_tx_id,
			spent_at_slot, spent_at_header_hash, spent_at_tx_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			outputReferenceKey(in.OutputReference),
			[]byte(in.OutputReference.TxID), int64(in.OutputReference.Index),
			in.Address, nilableBytes(in.PaymentCred), nilableBytes(in.DelegationCred),
			[]byte(in.Value), nilableBytes(in.DatumHash),
			int64(in.CreatedAtSlot), []byte(in.CreatedAtHeaderHash), []byte(in.CreatedAtTxID),
			nilableSlot(in.SpentAtSlot), nilableBytes(in.SpentAtHeaderHash), nilableBytes(in.SpentAtTxID),
		}},
	); err != nil {
		return fmt.Errorf("store: insert input: %w", err)
	}

	for _, a := range in.Assets {
		if err := sqlitex.Execute(conn,
			"INSERT INTO assets (output_reference, policy_id, asset_name, quantity) VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{
				outputReferenceKey(in.OutputReference),
				[]byte(a.PolicyID), []byte(a.AssetName), int64(a.Quantity),
			}},
		); err != nil {
			return fmt.Errorf("store: insert asset: %w", err)
		}
	}
	return nil
}

// MarkSpent records that the output at ref was consumed by txID at
// slot/headerHash. Called once per spent input observed while folding a
// block.
func MarkSpent(conn *sqlite.Conn, ref model.OutputReference, slot uint64, headerHash, txID []byte) error {
	if err := sqlitex.Execute(conn,
		"UPDATE inputs SET spent_at_slot = ?, spent_at_header_hash = ?, spent_at_tx_id = ? WHERE output_reference = ?",
		&sqlitex.ExecOptions{Args: []any{int64(slot), headerHash, txID, outputReferenceKey(ref)}},
	); err != nil {
		return fmt.Errorf("store: mark spent: %w", err)
	}
	return nil
}

// DeleteInputsNewerThan deletes inputs created after slot and clears the
// spent marker of inputs spent after slot, the forward half of a
// rollback to slot (spec §4.1 "Rollback").
func DeleteInputsNewerThan(conn *sqlite.Conn, slot uint64) error {
	if err := sqlitex.Execute(conn, "DELETE FROM inputs WHERE created_at_slot > ?",
		&sqlitex.ExecOptions{Args: []any{int64(slot)}}); err != nil {
		return fmt.Errorf("store: delete inputs newer than %d: %w", slot, err)
	}
	if err := sqlitex.Execute(conn,
		"UPDATE inputs SET spent_at_slot = NULL, spent_at_header_hash = NULL, spent_at_tx_id = NULL WHERE spent_at_slot > ?",
		&sqlitex.ExecOptions{Args: []any{int64(slot)}}); err != nil {
		return fmt.Errorf("store: unspend inputs newer than %d: %w", slot, err)
	}
	return nil
}

// MatchQuery narrows the pattern pre-filter with the query-string
// parameters spec §4.3 names for GET /matches: status and sort always
// apply, plus optional asset/policy/outputReference/txid narrowing on
// top of the path pattern.
type MatchQuery struct {
	Pattern         pattern.Pattern
	Status          pattern.StatusFlag
	Sort            pattern.SortDirection
	Policy          digest.Digest
	Asset           digest.Digest
	TransactionID   digest.Digest
	OutputReference *model.OutputReference
}

// narrowingPatterns turns the query-string narrowing fields into extra
// Pattern predicates, reusing Pattern.ToSQL/Matches instead of
// duplicating their SQL fragments and post-filter logic.
func (q MatchQuery) narrowingPatterns() []pattern.Pattern {
	var extra []pattern.Pattern
	switch {
	case len(q.Asset) > 0:
		extra = append(extra, pattern.Pattern{Kind: pattern.KindAssetID, PolicyID: q.Policy, AssetName: q.Asset})
	case len(q.Policy) > 0:
		extra = append(extra, pattern.Pattern{Kind: pattern.KindPolicyID, PolicyID: q.Policy})
	}
	if q.OutputReference != nil {
		extra = append(extra, pattern.Pattern{Kind: pattern.KindOutputReference, TxID: q.OutputReference.TxID, OutputIx: q.OutputReference.Index})
	} else if len(q.TransactionID) > 0 {
		extra = append(extra, pattern.Pattern{Kind: pattern.KindTransactionID, TxID: q.TransactionID})
	}
	return extra
}

// StreamMatches pushes every input row satisfying q to yield, SQL
// pre-filtered by the pattern and status flag and post-filtered in
// process for asset-level specificity the SQL fragment cannot express
// (spec §4.3 "asset-level post-filtering is applied in process").
func StreamMatches(conn *sqlite.Conn, q MatchQuery, yield func(model.Input) error) error {
	narrowing := q.narrowingPatterns()
	fragments := make([]pattern.Fragment, 0, len(narrowing)+2)
	fragments = append(fragments, q.Pattern.ToSQL(), q.Status.StatusSQL())
	for _, np := range narrowing {
		fragments = append(fragments, np.ToSQL())
	}
	where := pattern.And(fragments...)

	query := fmt.Sprintf(`SELECT
		output_reference, output_tx_id, output_index, address,
		payment_credential, delegation_credential, value, datum_hash,
		created_at_slot, created_at_header_hash, created_at_tx_id,
		spent_at_slot, spent_at_header_hash, spent_at_tx_id
		FROM inputs WHERE %s %s`, where.SQL, q.Sort.OrderBySQL())

	var yieldErr error
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: where.Args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if yieldErr != nil {
				return nil
			}
			in, err := scanInput(conn, stmt)
			if err != nil {
				yieldErr = err
				return yieldErr
			}
			fields := fieldsOf(in)
			if !q.Pattern.Matches(fields) {
				return nil
			}
			for _, np := range narrowing {
				if !np.Matches(fields) {
					return nil
				}
			}
			yieldErr = yield(in)
			return yieldErr
		},
	})
	if yieldErr != nil {
		return yieldErr
	}
	if err != nil {
		return fmt.Errorf("store: stream matches: %w", err)
	}
	return nil
}

// DeleteMatches deletes every input row satisfying pattern p, used by
// DELETE /matches/{pattern} once the caller has verified p does not
// overlap a registered pattern.
func DeleteMatches(conn *sqlite.Conn, p pattern.Pattern) (int, error) {
	frag := p.ToSQL()

	var refs [][]byte
	if err := sqlitex.Execute(conn,
		fmt.Sprintf("SELECT output_reference, address, payment_credential, delegation_credential, output_tx_id, output_index FROM inputs WHERE %s", frag.SQL),
		&sqlitex.ExecOptions{
			Args: frag.Args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				fields := fieldsFromRow(conn, stmt)
				if !p.Matches(fields) {
					return nil
				}
				refs = append(refs, columnBytes(stmt, 0))
				return nil
			},
		},
	); err != nil {
		return 0, fmt.Errorf("store: select matches for delete: %w", err)
	}

	for _, ref := range refs {
		if err := sqlitex.Execute(conn, "DELETE FROM assets WHERE output_reference = ?",
			&sqlitex.ExecOptions{Args: []any{ref}}); err != nil {
			return 0, fmt.Errorf("store: delete assets: %w", err)
		}
		if err := sqlitex.Execute(conn, "DELETE FROM inputs WHERE output_reference = ?",
			&sqlitex.ExecOptions{Args: []any{ref}}); err != nil {
			return 0, fmt.Errorf("store: delete input: %w", err)
		}
	}
	return len(refs), nil
}

func outputReferenceKey(ref model.OutputReference) []byte {
	key := make([]byte, len(ref.TxID)+4)
	copy(key, ref.TxID)
	key[len(ref.TxID)+0] = byte(ref.Index >> 24)
	key[len(ref.TxID)+1] = byte(ref.Index >> 16)
	key[len(ref.TxID)+2] = byte(ref.Index >> 8)
	key[len(ref.TxID)+3] = byte(ref.Index)
	return key
}

func nilableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nilableSlot(s *uint64) any {
	if s == nil {
		return nil
	}
	return int64(*s)
}

// scanInput reads a full inputs row plus its joined assets into a
// model.Input.
func scanInput(conn *sqlite.Conn, stmt *sqlite.Stmt) (model.Input, error) {
	ref := model.OutputReference{
		TxID:  columnBytes(stmt, 1),
		Index: uint32(stmt.ColumnInt64(2)),
	}
	in := model.Input{
		OutputReference:     ref,
		Address:             stmt.ColumnText(3),
		PaymentCred:         columnBytes(stmt, 4),
		DelegationCred:      columnBytes(stmt, 5),
		Value:               columnBytes(stmt, 6),
		DatumHash:           columnBytes(stmt, 7),
		CreatedAtSlot:       uint64(stmt.ColumnInt64(8)),
		CreatedAtHeaderHash: columnBytes(stmt, 9),
		CreatedAtTxID:       columnBytes(stmt, 10),
	}
	if stmt.ColumnType(11) != sqlite.TypeNull {
		slot := uint64(stmt.ColumnInt64(11))
		in.SpentAtSlot = &slot
		in.SpentAtHeaderHash = columnBytes(stmt, 12)
		in.SpentAtTxID = columnBytes(stmt, 13)
	}

	var assets []model.AssetQuantity
	if err := sqlitex.Execute(conn,
		"SELECT policy_id, asset_name, quantity FROM assets WHERE output_reference = ?",
		&sqlitex.ExecOptions{
			Args: []any{outputReferenceKey(ref)},
			ResultFunc: func(a *sqlite.Stmt) error {
				assets = append(assets, model.AssetQuantity{
					PolicyID:  columnBytes(a, 0),
					AssetName: columnBytes(a, 1),
					Quantity:  uint64(a.ColumnInt64(2)),
				})
				return nil
			},
		},
	); err != nil {
		return model.Input{}, fmt.Errorf("store: load assets for %x: %w", ref.TxID, err)
	}
	in.Assets = assets
	return in, nil
}

func fieldsOf(in model.Input) pattern.MatchFields {
	assets := make([]pattern.Asset, len(in.Assets))
	for i, a := range in.Assets {
		assets[i] = pattern.Asset{PolicyID: a.PolicyID, AssetName: a.AssetName}
	}
	return pattern.MatchFields{
		Address:     in.Address,
		Payment:     in.PaymentCred,
		Delegation:  in.DelegationCred,
		Assets:      assets,
		TxID:        in.OutputReference.TxID,
		OutputIndex: in.OutputReference.Index,
	}
}

// fieldsFromRow builds MatchFields from a row shaped like DeleteMatches'
// projection, without the assets join (policy/asset-id patterns are
// pre-filtered entirely in SQL via the assets subquery, so no post-filter
// needs asset data for DELETE /matches).
func fieldsFromRow(conn *sqlite.Conn, stmt *sqlite.Stmt) pattern.MatchFields {
	return pattern.MatchFields{
		Address:     stmt.ColumnText(1),
		Payment:     columnBytes(stmt, 2),
		Delegation:  columnBytes(stmt, 3),
		TxID:        columnBytes(stmt, 4),
		OutputIndex: uint32(stmt.ColumnInt64(5)),
	}
}

// (s *Store) convenience wrappers for the HTTP layer.

func (s *Store) StreamMatches(ctx context.Context, q MatchQuery, yield func(model.Input) error) error {
	return s.ReadTx(ctx, func(conn *sqlite.Conn) error {
		return StreamMatches(conn, q, yield)
	})
}

func (s *Store) DeleteMatches(ctx context.Context, p pattern.Pattern) (int, error) {
	var n int
	err := s.WriteTxShort(ctx, func(conn *sqlite.Conn) error {
		var err error
		n, err = DeleteMatches(conn, p)
		return err
	})
	return n, err
}
