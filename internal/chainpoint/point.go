// Package chainpoint implements the point and checkpoint types shared by
// the storage engine, chain consumer, and HTTP layer: a chain position is
// either the distinguished Origin or a (slot, header hash) pair, encoded
// on the wire as "<slot>.<hexHash>" (spec §6).
package chainpoint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/kupo-index/kupo/internal/apperr"
)

// Point identifies a position on the chain. The zero value is the
// non-origin point at slot 0 with a zero hash; use Origin for Origin.
type Point struct {
	origin bool
	Slot   uint64
	Hash   chainhash.Hash
}

// Origin is the distinguished point preceding the first block.
var Origin = Point{origin: true}

// New builds a non-origin point from a slot and header hash.
func New(slot uint64, hash chainhash.Hash) Point {
	return Point{Slot: slot, Hash: hash}
}

// IsOrigin reports whether p is the distinguished Origin point.
func (p Point) IsOrigin() bool { return p.origin }

// Compare orders points by slot; Origin sorts before every other point.
// Ties on slot between two non-origin points never occur on a single
// chain (spec §3), so the result in that case is unspecified but total.
func (p Point) Compare(other Point) int {
	switch {
	case p.origin && other.origin:
		return 0
	case p.origin:
		return -1
	case other.origin:
		return 1
	case p.Slot < other.Slot:
		return -1
	case p.Slot > other.Slot:
		return 1
	default:
		return 0
	}
}

// Before reports whether p precedes other.
func (p Point) Before(other Point) bool { return p.Compare(other) < 0 }

// String renders the canonical wire form: "origin" or "<slot>.<hexHash>".
func (p Point) String() string {
	if p.origin {
		return "origin"
	}
	return fmt.Sprintf("%d.%s", p.Slot, p.Hash.String())
}

// MarshalText implements encoding.TextMarshaler.
func (p Point) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Point) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Parse decodes a wire-form point: "origin" or "<slot>.<hexHash>".
func Parse(text string) (Point, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Point{}, apperr.Wrap("malformedPoint", apperr.ClassRequest, 400, fmt.Errorf("empty point"))
	}
	if strings.EqualFold(text, "origin") {
		return Origin, nil
	}

	dot := strings.IndexByte(text, '.')
	if dot < 0 {
		return Point{}, apperr.Wrap("malformedPoint", apperr.ClassRequest, 400, fmt.Errorf("missing '.' separator in %q", text))
	}

	slot, err := strconv.ParseUint(text[:dot], 10, 64)
	if err != nil {
		return Point{}, apperr.Wrap("malformedPoint", apperr.ClassRequest, 400, fmt.Errorf("invalid slot in %q: %w", text, err))
	}

	hash, err := chainhash.NewHashFromStr(text[dot+1:])
	if err != nil {
		return Point{}, apperr.Wrap("malformedPoint", apperr.ClassRequest, 400, fmt.Errorf("invalid header hash in %q: %w", text, err))
	}

	return New(slot, *hash), nil
}

// ParseSlot parses a bare slot number, used by /checkpoints/{slot} and
// /metadata/{slot}.
func ParseSlot(text string) (uint64, error) {
	slot, err := strconv.ParseUint(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return 0, apperr.Wrap("invalidSlotNo", apperr.ClassRequest, 400, err)
	}
	return slot, nil
}
