package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kupo-index/kupo/internal/chainpoint"
	"github.com/kupo-index/kupo/internal/codec"
	"github.com/kupo-index/kupo/internal/model"
	"github.com/kupo-index/kupo/internal/pattern"
	"github.com/kupo-index/kupo/internal/producer"
	"github.com/kupo-index/kupo/internal/registry"
	"github.com/kupo-index/kupo/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{InMemory: true, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustParsePattern(t *testing.T, text string) pattern.Pattern {
	t.Helper()
	p, err := pattern.Parse(text)
	require.NoError(t, err)
	return p
}

func TestRunFoldsMatchedBlockIntoStore(t *testing.T) {
	s := newTestStore(t)
	reg := registry.New([]pattern.Pattern{mustParsePattern(t, "*")})

	value, err := codec.EncodeValue(codec.Value{Coin: 5_000_000})
	require.NoError(t, err)

	var headerHash chainhash.Hash
	headerHash[0] = 0xaa
	point := chainpoint.New(100, headerHash)
	txid := make([]byte, 32)
	txid[0] = 0xbb

	block := producer.Block{
		Point: point,
		Outputs: []producer.Output{
			{TxID: txid, Index: 0, Address: "addr_test_follow", Value: value},
		},
	}
	mock := producer.NewMock([]chainpoint.Point{chainpoint.Origin}, []producer.Event{{Block: &block}})

	c := New(Config{
		Producer:        mock,
		Store:           s,
		Registry:        reg,
		Since:           chainpoint.Origin,
		LongestRollback: 10,
		Logger:          zap.NewNop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err = c.Run(ctx)
	require.Error(t, err, "Run exits once the mock's events are exhausted and ctx is canceled")

	tip, err := s.MostRecentCheckpoint(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, uint64(100), tip.Slot)

	var matched []model.Input
	err = s.StreamMatches(context.Background(), store.MatchQuery{Pattern: pattern.Any, Status: pattern.StatusAll}, func(in model.Input) error {
		matched = append(matched, in)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "addr_test_follow", matched[0].Address)
	assert.Equal(t, point.Slot, c.Tip().Slot)
}

func TestRunPersistsDatumAndScriptCarriedByMatchedOutput(t *testing.T) {
	s := newTestStore(t)
	reg := registry.New([]pattern.Pattern{mustParsePattern(t, "*")})

	value, err := codec.EncodeValue(codec.Value{Coin: 1_000_000})
	require.NoError(t, err)

	var headerHash chainhash.Hash
	headerHash[0] = 0xcc
	point := chainpoint.New(200, headerHash)
	txid := make([]byte, 32)
	txid[0] = 0xdd

	datumHash := make([]byte, 32)
	datumHash[0] = 0xee
	scriptHash := make([]byte, 28)
	scriptHash[0] = 0xff

	block := producer.Block{
		Point: point,
		Outputs: []producer.Output{{
			TxID: txid, Index: 0, Address: "addr_with_datum_and_script", Value: value,
			DatumHash: datumHash, Datum: []byte("inline datum"),
			ScriptHash: scriptHash, Script: []byte("script bytes"), ScriptLanguage: "plutus:v2",
		}},
	}
	mock := producer.NewMock([]chainpoint.Point{chainpoint.Origin}, []producer.Event{{Block: &block}})

	c := New(Config{
		Producer:        mock,
		Store:           s,
		Registry:        reg,
		Since:           chainpoint.Origin,
		LongestRollback: 10,
		Logger:          zap.NewNop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err = c.Run(ctx)
	require.Error(t, err, "Run exits once the mock's events are exhausted and ctx is canceled")

	datum, err := s.BinaryDataByHash(context.Background(), datumHash)
	require.NoError(t, err)
	require.NotNil(t, datum)
	assert.Equal(t, "inline datum", string(datum.Bytes))

	script, err := s.ScriptByHash(context.Background(), scriptHash)
	require.NoError(t, err)
	require.NotNil(t, script)
	assert.Equal(t, "script bytes", string(script.Bytes))
	assert.Equal(t, "plutus:v2", script.Language)
}

func TestRunInvokesOnCheckpointForEveryFoldedBlock(t *testing.T) {
	s := newTestStore(t)
	reg := registry.New([]pattern.Pattern{mustParsePattern(t, "*")})

	value, err := codec.EncodeValue(codec.Value{Coin: 1})
	require.NoError(t, err)

	var headerHash chainhash.Hash
	headerHash[0] = 0x12
	point := chainpoint.New(75, headerHash)
	txid := make([]byte, 32)

	block := producer.Block{
		Point:   point,
		Outputs: []producer.Output{{TxID: txid, Index: 0, Address: "addr_checkpoint", Value: value}},
	}
	mock := producer.NewMock([]chainpoint.Point{chainpoint.Origin}, []producer.Event{{Block: &block}})

	var mu sync.Mutex
	var observed []*model.Checkpoint

	c := New(Config{
		Producer:        mock,
		Store:           s,
		Registry:        reg,
		Since:           chainpoint.Origin,
		LongestRollback: 10,
		Logger:          zap.NewNop(),
		OnCheckpoint: func(cp *model.Checkpoint) {
			mu.Lock()
			defer mu.Unlock()
			observed = append(observed, cp)
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, observed, 1)
	require.NotNil(t, observed[0])
	assert.Equal(t, uint64(75), observed[0].Slot)
}

func TestRunSkipsOutputsNotMatchingAnyRegisteredPattern(t *testing.T) {
	s := newTestStore(t)
	reg := registry.New([]pattern.Pattern{mustParsePattern(t, "addr_only_this_one")})

	value, err := codec.EncodeValue(codec.Value{Coin: 1})
	require.NoError(t, err)

	var headerHash chainhash.Hash
	point := chainpoint.New(50, headerHash)
	txid := make([]byte, 32)

	block := producer.Block{
		Point:   point,
		Outputs: []producer.Output{{TxID: txid, Index: 0, Address: "addr_unmatched", Value: value}},
	}
	mock := producer.NewMock([]chainpoint.Point{chainpoint.Origin}, []producer.Event{{Block: &block}})

	c := New(Config{
		Producer:        mock,
		Store:           s,
		Registry:        reg,
		Since:           chainpoint.Origin,
		LongestRollback: 10,
		Logger:          zap.NewNop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	var matched []model.Input
	err = s.StreamMatches(context.Background(), store.MatchQuery{Pattern: pattern.Any, Status: pattern.StatusAll}, func(in model.Input) error {
		matched = append(matched, in)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, matched, "unmatched output must not be persisted")

	// The checkpoint is still recorded even when nothing matched.
	tip, err := s.MostRecentCheckpoint(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, uint64(50), tip.Slot)
}

func TestRunAppliesRollBackwardEvent(t *testing.T) {
	s := newTestStore(t)
	reg := registry.New([]pattern.Pattern{mustParsePattern(t, "*")})

	value, err := codec.EncodeValue(codec.Value{Coin: 1})
	require.NoError(t, err)
	txid := make([]byte, 32)

	var h1, h2 chainhash.Hash
	h1[0], h2[0] = 0x01, 0x02
	firstPoint := chainpoint.New(10, h1)
	secondPoint := chainpoint.New(20, h2)
	rollbackTarget := chainpoint.New(10, h1)

	events := []producer.Event{
		{Block: &producer.Block{Point: firstPoint, Outputs: []producer.Output{{TxID: txid, Index: 0, Address: "addr_rb", Value: value}}}},
		{Block: &producer.Block{Point: secondPoint, Outputs: []producer.Output{{TxID: txid, Index: 1, Address: "addr_rb", Value: value}}}},
		{Rollback: &rollbackTarget},
	}
	mock := producer.NewMock([]chainpoint.Point{chainpoint.Origin}, events)

	c := New(Config{
		Producer:        mock,
		Store:           s,
		Registry:        reg,
		Since:           chainpoint.Origin,
		LongestRollback: 10,
		Logger:          zap.NewNop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	tip, err := s.MostRecentCheckpoint(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, uint64(10), tip.Slot, "rollback removes the checkpoint at slot 20")

	var matched []model.Input
	err = s.StreamMatches(context.Background(), store.MatchQuery{Pattern: pattern.Any, Status: pattern.StatusAll}, func(in model.Input) error {
		matched = append(matched, in)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, matched, 1, "the output created at slot 20 is rolled back")
	assert.Equal(t, uint32(0), matched[0].OutputReference.Index)
}

func TestRequestForcedRollbackIsServicedBetweenEvents(t *testing.T) {
	s := newTestStore(t)
	reg := registry.New([]pattern.Pattern{mustParsePattern(t, "*")})

	var headerHash chainhash.Hash
	mock := producer.NewMock([]chainpoint.Point{chainpoint.Origin}, nil)

	c := New(Config{
		Producer:        mock,
		Store:           s,
		Registry:        reg,
		Since:           chainpoint.Origin,
		LongestRollback: 10000,
		Logger:          zap.NewNop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	// Give the consumer a moment to reach Following before the rollback
	// request is enqueued.
	time.Sleep(50 * time.Millisecond)

	req := NewRollbackRequest(chainpoint.New(500, headerHash), true)
	c.RequestForcedRollback(req)
	res := req.Await()
	require.NoError(t, res.Err)
	assert.Equal(t, uint64(500), res.NewTip.Slot)
}
