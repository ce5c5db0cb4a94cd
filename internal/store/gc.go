package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/kupo-index/kupo/pkg/batcher"
)

// PruneMode selects the garbage collector's handling of spent inputs
// (spec §4.1 "Garbage collector"), set at startup by --prune-utxo.
type PruneMode int

const (
	// MarkSpentInputs keeps spent inputs indefinitely with a spent
	// marker; only orphaned binary_data/scripts rows are collected.
	MarkSpentInputs PruneMode = iota
	// RemoveSpentInputs deletes inputs whose spentAtSlot is older than
	// the rollback horizon, then collects their now-orphaned
	// binary_data/scripts rows.
	RemoveSpentInputs
)

// gcBatchSize bounds how many rows one DELETE statement removes, so a
// collection pass with many eligible rows issues several bounded
// statements; the whole pass still runs in one transaction under the
// writer lock.
const gcBatchSize = 500

// gcBatchRate paces successive batches within one pass, the same role
// go.uber.org/ratelimit plays for the teacher's ClickHouse flush
// buffer, repurposed here for SQLite deletes.
const gcBatchRate = 50

// GCResult reports what one collection pass removed, for logging and
// tests.
type GCResult struct {
	InputsRemoved     int
	BinaryDataRemoved int
	ScriptsRemoved    int
}

// CollectGarbage runs one GC pass inside the long-lived writer's lock,
// so it never races the consumer (spec §4.1 "GC runs inside the
// long-lived writer's lock"). tip/longestRollback bound how old a spent
// input must be under RemoveSpentInputs.
func CollectGarbage(conn *sqlite.Conn, mode PruneMode, tip uint64, longestRollback uint64, logger *zap.Logger) (GCResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var result GCResult

	if mode == RemoveSpentInputs {
		var horizon uint64
		if tip > longestRollback {
			horizon = tip - longestRollback
		}
		keys, err := queryKeys(conn, "SELECT output_reference FROM inputs WHERE spent_at_slot IS NOT NULL AND spent_at_slot < ?", int64(horizon))
		if err != nil {
			return result, fmt.Errorf("store: gc list spent inputs: %w", err)
		}
		n, err := batchedDelete(conn, logger, "inputs", "output_reference", keys)
		if err != nil {
			return result, fmt.Errorf("store: gc remove spent inputs: %w", err)
		}
		result.InputsRemoved = n
	}

	assetOrphans, err := queryKeys(conn, `SELECT DISTINCT output_reference FROM assets WHERE output_reference NOT IN (SELECT output_reference FROM inputs)`)
	if err != nil {
		return result, fmt.Errorf("store: gc list orphan assets: %w", err)
	}
	if _, err := batchedDelete(conn, logger, "assets", "output_reference", assetOrphans); err != nil {
		return result, fmt.Errorf("store: gc orphan assets: %w", err)
	}

	datumOrphans, err := queryKeys(conn, `SELECT datum_hash FROM binary_data WHERE datum_hash NOT IN (SELECT datum_hash FROM inputs WHERE datum_hash IS NOT NULL)`)
	if err != nil {
		return result, fmt.Errorf("store: gc list orphan binary_data: %w", err)
	}
	n, err := batchedDelete(conn, logger, "binary_data", "datum_hash", datumOrphans)
	if err != nil {
		return result, fmt.Errorf("store: gc orphan binary_data: %w", err)
	}
	result.BinaryDataRemoved = n

	scriptOrphans, err := queryKeys(conn, `SELECT script_hash FROM scripts WHERE ref_count <= 0`)
	if err != nil {
		return result, fmt.Errorf("store: gc list orphan scripts: %w", err)
	}
	n, err = batchedDelete(conn, logger, "scripts", "script_hash", scriptOrphans)
	if err != nil {
		return result, fmt.Errorf("store: gc orphan scripts: %w", err)
	}
	result.ScriptsRemoved = n

	return result, nil
}

// queryKeys collects a single blob column from query into a slice, for
// feeding batchedDelete.
func queryKeys(conn *sqlite.Conn, query string, args ...any) ([][]byte, error) {
	var keys [][]byte
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			keys = append(keys, columnBytes(stmt, 0))
			return nil
		},
	})
	return keys, err
}

// batchedDelete removes rows matching keys from table in chunks of
// gcBatchSize, run through a pkg/batcher.Batcher so a large pass is
// paced as several DELETE statements inside the caller's transaction
// instead of issuing one huge IN (...) delete. The batcher's own
// goroutine is the only thing touching conn for the duration of this
// call: Stop() waits for it to drain before batchedDelete returns, so
// the caller never races it.
func batchedDelete(conn *sqlite.Conn, logger *zap.Logger, table, column string, keys [][]byte) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	var removed int
	var flushErr error

	b := batcher.New(logger, func(_ context.Context, chunk [][]byte) error {
		placeholders := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for i, k := range chunk {
			placeholders[i] = "?"
			args[i] = k
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", table, column, strings.Join(placeholders, ","))
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			flushErr = err
			return err
		}
		removed += conn.Changes()
		return nil
	}, gcBatchSize, time.Millisecond, gcBatchRate)

	ctx := context.Background()
	b.Start(ctx)
	for _, k := range keys {
		_ = b.Add(ctx, k)
	}
	b.Stop()

	return removed, flushErr
}

// GCTicker runs CollectGarbage once per gcInterval until ctx is
// cancelled (spec §4.1 "Periodic task at gcInterval"). The rate
// limiter caps how often a pass can re-acquire the writer lock even if
// a pass itself finishes fast, the same go.uber.org/ratelimit pacing
// role the teacher gives its reconnect backoff.
type GCTicker struct {
	store           *Store
	mode            PruneMode
	longestRollback uint64
	interval        time.Duration
	limiter         ratelimit.Limiter
}

// NewGCTicker builds a ticker that collects garbage at most once per
// interval.
func NewGCTicker(s *Store, mode PruneMode, longestRollback uint64, interval time.Duration) *GCTicker {
	return &GCTicker{
		store:           s,
		mode:            mode,
		longestRollback: longestRollback,
		interval:        interval,
		limiter:         ratelimit.New(1, ratelimit.Per(interval)),
	}
}

// Run blocks, collecting garbage once per tick, until ctx is done.
// tip reports the current chain tip slot so RemoveSpentInputs knows the
// rollback horizon to measure against.
func (t *GCTicker) Run(ctx context.Context, tip func() uint64) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.limiter.Take()
			err := t.store.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
				_, err := CollectGarbage(conn, t.mode, tip(), t.longestRollback, t.store.logger)
				return err
			})
			if err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}
