// Package producer defines the chain consumer's view of an upstream
// block source. Spec marks the concrete node-socket/Ogmios transports
// out of scope (SPEC_FULL.md "Chain consumer"), so this package ships
// the interface, a mock test producer, and a dialer stub that fails
// with configurationError until a transport is wired — the same shape
// the teacher uses for HistorySource/BackfillSource behind
// NewBackfillIngesterService.
package producer

import (
	"context"
	"fmt"

	"github.com/kupo-index/kupo/internal/apperr"
	"github.com/kupo-index/kupo/internal/chainpoint"
)

// Block is the subset of an on-chain block the consumer folds into
// storage: its point, the outputs it creates, and the inputs it spends.
type Block struct {
	Point   chainpoint.Point
	Outputs []Output
	Spent   []Spent
}

// Output is a transaction output as reported by the producer, still
// opaque to the pattern engine until decoded by internal/pattern.
type Output struct {
	TxID      []byte
	Index     uint32
	Address   string
	Value     []byte // codec.Value, CBOR-encoded
	DatumHash []byte // nil if the output carries no datum

	// Datum carries the datum's raw bytes when the block's witness set
	// resolves DatumHash inline (spec §3 "BinaryData"); nil when only
	// the hash is known (the datum is supplied later, e.g. by a spending
	// transaction's witness set).
	Datum []byte

	// ScriptHash/Script/ScriptLanguage describe a reference script
	// attached to the output, resolved the same way as Datum; ScriptHash
	// is nil if the output carries no reference script.
	ScriptHash     []byte
	Script         []byte
	ScriptLanguage string
}

// Spent is a previously-created output consumed by this block.
type Spent struct {
	TxID        []byte // the spent output's own transaction id
	Index       uint32
	SpentByTxID []byte // the transaction id that consumed it
}

// Event is either a forward block or a backward rollback target,
// delivered by RequestNext (spec §4.2 "Following": "receive
// RollForward(block) or RollBackward(point) events").
type Event struct {
	Block    *Block
	Rollback *chainpoint.Point
}

// Producer is the chain consumer's upstream dependency.
type Producer interface {
	// FindIntersect negotiates the starting point against candidates in
	// descending recency order, returning the agreed point (spec §4.2
	// "Intersecting").
	FindIntersect(ctx context.Context, candidates []chainpoint.Point) (chainpoint.Point, error)
	// RequestNext blocks until the next roll-forward or roll-backward
	// event is available.
	RequestNext(ctx context.Context) (Event, error)
	// QueryBlock fetches the block at p for GET /metadata (spec §4.3).
	QueryBlock(ctx context.Context, p chainpoint.Point) (*Block, error)
}

// Dial returns a nil Producer and a configurationError for every
// target: no --node-socket/--ogmios-host transport is implemented. Matches the teacher's pattern of returning a typed
// unavailability error from a not-yet-wired dependency rather than
// panicking.
func Dial(ctx context.Context, target string) (Producer, error) {
	return nil, fmt.Errorf("%w: no transport configured for %q", apperr.ErrConfiguration, target)
}
