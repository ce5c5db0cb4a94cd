package store

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"

	"github.com/kupo-index/kupo/internal/chainpoint"
	"github.com/kupo-index/kupo/internal/digest"
	"github.com/kupo-index/kupo/internal/model"
	"github.com/kupo-index/kupo/internal/pattern"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{InMemory: true, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustDigest(t *testing.T, hex string) digest.Digest {
	t.Helper()
	d, err := digest.Parse(hex)
	require.NoError(t, err)
	return d
}

func testInput(t *testing.T, slot uint64, address string, txid digest.Digest, ix uint32) model.Input {
	t.Helper()
	return model.Input{
		OutputReference:     model.OutputReference{TxID: txid, Index: ix},
		Address:             address,
		Value:               []byte{0xa0},
		CreatedAtSlot:       slot,
		CreatedAtHeaderHash: mustDigest(t, "11"),
		CreatedAtTxID:       txid,
	}
}

func TestOpenRunsMigrationsAndIsQueryable(t *testing.T) {
	s := newTestStore(t)
	patterns, err := s.ListPatterns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestCheckpointRoundTripAndAncestorResolution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, slot := range []uint64{100, 200, 300} {
		err := s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
			return InsertCheckpoint(conn, model.Checkpoint{Slot: slot, Hash: mustDigest(t, "aa")}, 10000)
		})
		require.NoError(t, err)
	}

	tip, err := s.MostRecentCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, uint64(300), tip.Slot)

	exact, err := s.CheckpointAt(ctx, 200, true)
	require.NoError(t, err)
	require.NotNil(t, exact)
	assert.Equal(t, uint64(200), exact.Slot)

	missing, err := s.CheckpointAt(ctx, 250, true)
	require.NoError(t, err)
	assert.Nil(t, missing)

	ancestor, err := s.CheckpointAt(ctx, 250, false)
	require.NoError(t, err)
	require.NotNil(t, ancestor)
	assert.Equal(t, uint64(200), ancestor.Slot)

	var streamed []model.Checkpoint
	err = s.Checkpoints(ctx, func(cp model.Checkpoint) error {
		streamed = append(streamed, cp)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, streamed, 3)
	assert.Equal(t, uint64(300), streamed[0].Slot, "streamed in descending slot order")
}

func TestCheckpointThinningKeepsPowerOfTwoCoverageBeyondHorizon(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const longestRollback = 10

	// Insert a checkpoint at every slot 1..200; each insert re-thins
	// against the new tip, so only the final pass's survivors remain.
	err := s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		for slot := uint64(1); slot <= 200; slot++ {
			if err := InsertCheckpoint(conn, model.Checkpoint{Slot: slot, Hash: mustDigest(t, "bb")}, longestRollback); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var kept []model.Checkpoint
	err = s.Checkpoints(ctx, func(cp model.Checkpoint) error {
		kept = append(kept, cp)
		return nil
	})
	require.NoError(t, err)

	// Every slot inside the horizon (191..200) must survive unthinned.
	inHorizon := 0
	for _, cp := range kept {
		if cp.Slot > 200-longestRollback {
			inHorizon++
		}
	}
	assert.Equal(t, longestRollback, inHorizon)
	// Thinning must have actually dropped something outside the horizon.
	assert.Less(t, len(kept), 200)
}

func TestInsertInputStreamAndStatusFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	txid := mustDigest(t, "cc")
	in := testInput(t, 100, "addr_test_1", txid, 0)

	err := s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		return InsertInput(conn, in)
	})
	require.NoError(t, err)

	var unspent []model.Input
	err = s.StreamMatches(ctx, MatchQuery{Pattern: pattern.Any, Status: pattern.StatusUnspent}, func(got model.Input) error {
		unspent = append(unspent, got)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, unspent, 1)
	assert.Equal(t, "addr_test_1", unspent[0].Address)

	err = s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		return MarkSpent(conn, in.OutputReference, 150, []byte("header"), []byte(txid))
	})
	require.NoError(t, err)

	var spent []model.Input
	err = s.StreamMatches(ctx, MatchQuery{Pattern: pattern.Any, Status: pattern.StatusSpent}, func(got model.Input) error {
		spent = append(spent, got)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, spent, 1)

	var stillUnspent []model.Input
	err = s.StreamMatches(ctx, MatchQuery{Pattern: pattern.Any, Status: pattern.StatusUnspent}, func(got model.Input) error {
		stillUnspent = append(stillUnspent, got)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, stillUnspent)
}

func TestStreamMatchesNarrowsByAssetPolicyAndOutputReference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	txidA := mustDigest(t, "a1")
	inA := testInput(t, 100, "addr_test_asset", txidA, 0)
	policy := mustDigest(t, "ee")
	asset := mustDigest(t, "ff")
	inA.Assets = []model.AssetQuantity{{PolicyID: policy, AssetName: asset, Quantity: 1}}

	txidB := mustDigest(t, "b2")
	inB := testInput(t, 101, "addr_test_other", txidB, 1)
	otherPolicy := mustDigest(t, "cc")
	inB.Assets = []model.AssetQuantity{{PolicyID: otherPolicy, AssetName: mustDigest(t, "dd"), Quantity: 1}}

	err := s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		if err := InsertInput(conn, inA); err != nil {
			return err
		}
		return InsertInput(conn, inB)
	})
	require.NoError(t, err)

	var byAsset []model.Input
	err = s.StreamMatches(ctx, MatchQuery{Pattern: pattern.Any, Status: pattern.StatusAll, Policy: policy, Asset: asset}, func(got model.Input) error {
		byAsset = append(byAsset, got)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, byAsset, 1)
	assert.Equal(t, "addr_test_asset", byAsset[0].Address)

	var byPolicy []model.Input
	err = s.StreamMatches(ctx, MatchQuery{Pattern: pattern.Any, Status: pattern.StatusAll, Policy: otherPolicy}, func(got model.Input) error {
		byPolicy = append(byPolicy, got)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, byPolicy, 1)
	assert.Equal(t, "addr_test_other", byPolicy[0].Address)

	ref := model.OutputReference{TxID: txidB, Index: 1}
	var byRef []model.Input
	err = s.StreamMatches(ctx, MatchQuery{Pattern: pattern.Any, Status: pattern.StatusAll, OutputReference: &ref}, func(got model.Input) error {
		byRef = append(byRef, got)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, byRef, 1)
	assert.Equal(t, "addr_test_other", byRef[0].Address)
}

func TestDeleteMatchesRemovesInputsAndAssets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	txid := mustDigest(t, "dd")
	in := testInput(t, 100, "addr_test_2", txid, 0)
	in.Assets = []model.AssetQuantity{{PolicyID: mustDigest(t, "ee"), AssetName: mustDigest(t, "ff"), Quantity: 1}}

	err := s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		return InsertInput(conn, in)
	})
	require.NoError(t, err)

	p, err := pattern.Parse("addr_test_2")
	require.NoError(t, err)

	n, err := s.DeleteMatches(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var remaining []model.Input
	err = s.StreamMatches(ctx, MatchQuery{Pattern: pattern.Any, Status: pattern.StatusAll}, func(got model.Input) error {
		remaining = append(remaining, got)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestPatternPersistenceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, err := pattern.Parse("*")
	require.NoError(t, err)

	require.NoError(t, s.InsertPattern(ctx, p))
	patterns, err := s.ListPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	require.NoError(t, s.DeletePattern(ctx, p))
	patterns, err = s.ListPatterns(ctx)
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestBinaryDataRefCountsAcrossRepeatedInserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := model.BinaryData{Hash: mustDigest(t, "12"), Bytes: []byte("payload")}

	err := s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		if err := InsertBinaryData(conn, d); err != nil {
			return err
		}
		return InsertBinaryData(conn, d)
	})
	require.NoError(t, err)

	found, err := s.BinaryDataByHash(ctx, d.Hash)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, d.Bytes, found.Bytes)

	missing, err := s.BinaryDataByHash(ctx, mustDigest(t, "ab"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestScriptLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sc := model.Script{Hash: mustDigest(t, "34"), Bytes: []byte("script bytes"), Language: "plutus:v2"}

	err := s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		return InsertScript(conn, sc)
	})
	require.NoError(t, err)

	found, err := s.ScriptByHash(ctx, sc.Hash)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "plutus:v2", found.Language)
}

func TestRollbackToDeletesNewerInputsAndCheckpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	txid1, txid2 := mustDigest(t, "a1"), mustDigest(t, "a2")

	err := s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		if err := InsertCheckpoint(conn, model.Checkpoint{Slot: 100, Hash: mustDigest(t, "aa")}, 10000); err != nil {
			return err
		}
		if err := InsertCheckpoint(conn, model.Checkpoint{Slot: 200, Hash: mustDigest(t, "bb")}, 10000); err != nil {
			return err
		}
		if err := InsertInput(conn, testInput(t, 100, "addr_old", txid1, 0)); err != nil {
			return err
		}
		return InsertInput(conn, testInput(t, 200, "addr_new", txid2, 0))
	})
	require.NoError(t, err)

	point := chainpoint.New(100, chainhash.Hash{})
	tip, err := s.RollbackTo(ctx, point)
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, uint64(100), tip.Slot)

	var remaining []model.Input
	err = s.StreamMatches(ctx, MatchQuery{Pattern: pattern.Any, Status: pattern.StatusAll}, func(got model.Input) error {
		remaining = append(remaining, got)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "addr_old", remaining[0].Address)
}

func TestForcedRollbackAcceptsOptimisticPointWithinHorizon(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		return InsertCheckpoint(conn, model.Checkpoint{Slot: 1000, Hash: mustDigest(t, "aa")}, 10000)
	})
	require.NoError(t, err)

	// slot 950 is not a known checkpoint, but within the horizon of tip
	// 1000 given longestRollback 10000 - this is the spec's documented
	// optimistic-forced-rollback behavior.
	target := chainpoint.New(950, chainhash.Hash{})
	tip, err := s.ForcedRollback(ctx, target, false, 10000)
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, uint64(950), tip.Slot)
}

func TestForcedRollbackRejectsBeyondHorizonUnlessUnsafe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		return InsertCheckpoint(conn, model.Checkpoint{Slot: 1000, Hash: mustDigest(t, "aa")}, 10000)
	})
	require.NoError(t, err)

	target := chainpoint.New(10, chainhash.Hash{})
	_, err = s.ForcedRollback(ctx, target, false, 10)
	assert.Error(t, err)

	tip, err := s.ForcedRollback(ctx, target, true, 10)
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, uint64(10), tip.Slot)
}

func TestCollectGarbagePruneModes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	txid := mustDigest(t, "f0")
	in := testInput(t, 100, "addr_spent", txid, 0)
	in.DatumHash = mustDigest(t, "d0")

	err := s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		if err := InsertInput(conn, in); err != nil {
			return err
		}
		if err := InsertBinaryData(conn, model.BinaryData{Hash: in.DatumHash, Bytes: []byte("datum")}); err != nil {
			return err
		}
		return MarkSpent(conn, in.OutputReference, 100, []byte("h"), []byte(txid))
	})
	require.NoError(t, err)

	// Under MarkSpentInputs, GC never removes the spent row, so its
	// referenced datum stays live too.
	err = s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		_, err := CollectGarbage(conn, MarkSpentInputs, 100000, 10, zap.NewNop())
		return err
	})
	require.NoError(t, err)

	found, err := s.BinaryDataByHash(ctx, in.DatumHash)
	require.NoError(t, err)
	assert.NotNil(t, found, "datum referenced by a spent-but-retained input survives GC")

	// Under RemoveSpentInputs with tip far beyond the horizon, the spent
	// input is deleted and its datum becomes an orphan GC collects.
	err = s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		result, err := CollectGarbage(conn, RemoveSpentInputs, 100000, 10, zap.NewNop())
		if err != nil {
			return err
		}
		assert.Equal(t, 1, result.InputsRemoved)
		assert.Equal(t, 1, result.BinaryDataRemoved)
		return nil
	})
	require.NoError(t, err)

	found, err = s.BinaryDataByHash(ctx, in.DatumHash)
	require.NoError(t, err)
	assert.Nil(t, found)
}
