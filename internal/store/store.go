// Package store implements the embedded SQLite-backed storage engine:
// one long-lived writer connection for the chain consumer, a pool of
// short-lived connections for the HTTP API, arbitrated so neither side
// observes the other mid-transaction (spec §4.1, §6).
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
)

// Config configures Open.
type Config struct {
	// Path is the SQLite database file. Ignored when InMemory is set.
	Path string
	// InMemory runs the engine against a shared-cache in-memory database
	// with a single connection slot (spec §5).
	InMemory bool
	// PoolSize bounds the short-lived connection pool. Zero picks
	// runtime.NumCPU(), at least 4. InMemory always uses a pool of 1.
	PoolSize int
	// DeferIndexes postpones creation of non-essential secondary indexes
	// past startup (spec §6 "--defer-db-indexes").
	DeferIndexes bool
	Logger       *zap.Logger
}

// Store is the storage engine's entry point: every query and mutation
// in the rest of the package hangs off a *Store.
type Store struct {
	conns  *connections
	arb    *arbiter
	logger *zap.Logger
}

// Open opens (creating if necessary) the database at cfg.Path, applies
// any outstanding schema migrations inside a single IMMEDIATE
// transaction, and returns a ready Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conns, err := openConnections(connConfig{
		Path:     cfg.Path,
		InMemory: cfg.InMemory,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Store{
		conns:  conns,
		arb:    newArbiter(),
		logger: logger,
	}

	if err := migrate(conns.long()); err != nil {
		_ = conns.close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	if !cfg.DeferIndexes {
		if err := ensureIndexes(conns.long()); err != nil {
			_ = conns.close()
			return nil, err
		}
	} else {
		logger.Info("deferring non-essential index creation (--defer-db-indexes)")
	}

	logger.Info("storage engine ready", zap.Bool("in_memory", cfg.InMemory))
	return s, nil
}

// EnsureIndexes creates the deferred secondary indexes. Exposed so an
// operator can trigger it explicitly after a --defer-db-indexes start,
// mirroring spec §6's "left for an explicit later pass".
func (s *Store) EnsureIndexes(ctx context.Context) error {
	return s.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		return ensureIndexes(conn)
	})
}

// Close releases both connection tiers. Safe to call once, after every
// in-flight ReadTx/WriteTx* caller has returned.
func (s *Store) Close() error {
	return s.conns.close()
}
