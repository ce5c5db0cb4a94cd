package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kupo-index/kupo/internal/apperr"
	"github.com/kupo-index/kupo/internal/clock"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// busyRetryInterval is the fixed backoff spec §4.1 prescribes for
// short-lived IMMEDIATE transactions that collide with the long-lived
// writer: "retry on the engine's BUSY status with a 100 ms backoff,
// unbounded."
const busyRetryInterval = 100 * time.Millisecond

// ReadTx runs fn inside a short-lived deferred (read-only) transaction,
// arbitrated so it never observes a partially-committed block from the
// long-lived writer (spec §4.1 "Transaction protocol").
func (s *Store) ReadTx(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	s.arb.AcquireReader()
	defer s.arb.ReleaseReader()

	conn, err := s.conns.takeShort(ctx)
	if err != nil {
		return err
	}
	defer s.conns.putShort(conn)

	endFn := sqlitex.Transaction(conn)
	defer endFn(&err)

	return fn(conn)
}

// WriteTxShort runs fn inside a short-lived IMMEDIATE (read/write)
// transaction — used by HTTP pattern mutations. Retries indefinitely on
// SQLITE_BUSY with a fixed 100ms backoff (spec §4.1, §7 "dbBusy").
func (s *Store) WriteTxShort(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	s.arb.AcquireReader()
	defer s.arb.ReleaseReader()

	conn, err := s.conns.takeShort(ctx)
	if err != nil {
		return err
	}
	defer s.conns.putShort(conn)

	for {
		txErr := runImmediate(conn, fn)
		if !isBusy(txErr) {
			return txErr
		}
		if sleepErr := clock.SleepWithContext(ctx, busyRetryInterval); sleepErr != nil {
			return sleepErr
		}
	}
}

// WriteLongLived runs fn inside the dedicated long-lived connection
// under the writer lock — used by the chain consumer to persist a block
// (with its checkpoint, in the same transaction) and by the garbage
// collector, which runs inside the consumer's lock so it never races
// ingestion (spec §4.1 "Garbage collector").
func (s *Store) WriteLongLived(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	s.arb.AcquireWriter()
	defer s.arb.ReleaseWriter()

	if err := ctx.Err(); err != nil {
		return err
	}
	return runImmediate(s.conns.long(), fn)
}

// runImmediate wraps fn in a BEGIN IMMEDIATE transaction, rolling back
// on any error so the caller can retry cleanly (spec §4.1 "Commit must
// roll back on failure").
func runImmediate(conn *sqlite.Conn, fn func(conn *sqlite.Conn) error) (err error) {
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return apperr.Wrap("dbBusy", apperr.ClassTransient, 0, err)
	}
	defer endFn(&err)

	err = fn(conn)
	return err
}

// isBusy reports whether err originated from SQLite reporting BUSY.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	if code := sqlite.ErrCode(err); code == sqlite.ResultBusy || code == sqlite.ResultLocked {
		return true
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "SQLITE_LOCKED")
}

// columnBytes copies a BLOB column out of stmt without retaining
// SQLite's internal buffer past the current row.
func columnBytes(stmt *sqlite.Stmt, col int) []byte {
	n := stmt.ColumnLen(col)
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	stmt.ColumnBytes(col, buf)
	return buf
}

func bindArgs(stmt *sqlite.Stmt, args []any) error {
	for i, arg := range args {
		idx := i + 1
		switch v := arg.(type) {
		case nil:
			stmt.BindNull(idx)
		case []byte:
			stmt.BindBytes(idx, v)
		case string:
			stmt.BindText(idx, v)
		case int:
			stmt.BindInt64(idx, int64(v))
		case int64:
			stmt.BindInt64(idx, v)
		case uint64:
			stmt.BindInt64(idx, int64(v))
		case uint32:
			stmt.BindInt64(idx, int64(v))
		case bool:
			if v {
				stmt.BindInt64(idx, 1)
			} else {
				stmt.BindInt64(idx, 0)
			}
		default:
			return fmt.Errorf("store: unsupported bind argument type %T", arg)
		}
	}
	return nil
}
