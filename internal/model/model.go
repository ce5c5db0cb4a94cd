// Package model defines the domain types materialized by the storage
// engine: inputs, their binary data and scripts, checkpoints, and health
// (spec §3).
package model

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/kupo-index/kupo/internal/chainpoint"
	"github.com/kupo-index/kupo/internal/digest"
)

// OutputReference identifies a transaction output: the transaction id
// plus its output index.
type OutputReference struct {
	TxID  digest.Digest
	Index uint32
}

// String renders the canonical "<hexTxId>#<index>" form (spec SPEC_FULL
// "Codec & pattern model").
func (r OutputReference) String() string {
	return r.TxID.String() + "#" + itoa(r.Index)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Input is a materialized output: a row kept because it matched a
// pattern at ingest time (spec §3 "Input").
type Input struct {
	OutputReference OutputReference
	Address         string
	PaymentCred     digest.Digest
	DelegationCred  digest.Digest
	Value           []byte // CBOR-encoded Ada + native assets
	Assets          []AssetQuantity
	DatumHash       digest.Digest

	CreatedAtSlot       uint64
	CreatedAtHeaderHash digest.Digest
	CreatedAtTxID       digest.Digest

	SpentAtSlot       *uint64
	SpentAtHeaderHash digest.Digest
	SpentAtTxID       digest.Digest
}

// AssetQuantity is one native asset entry decoded out of Value, indexed
// separately so the policy/asset patterns can pre-filter in SQL.
type AssetQuantity struct {
	PolicyID  digest.Digest
	AssetName digest.Digest
	Quantity  uint64
}

// IsSpent reports whether the input carries a spent marker.
func (i Input) IsSpent() bool { return i.SpentAtSlot != nil }

// BinaryData is a datum referenced by hash from one or more inputs
// (spec §3 "BinaryData").
type BinaryData struct {
	Hash  digest.Digest
	Bytes []byte
}

// Script is a script referenced by hash from one or more inputs.
type Script struct {
	Hash     digest.Digest
	Bytes    []byte
	Language string
}

// Checkpoint is a persisted resume/rollback anchor (spec §3
// "Checkpoint").
type Checkpoint struct {
	Slot uint64
	Hash digest.Digest
}

// Point converts the checkpoint to a chainpoint.Point, where Hash must
// be exactly 32 bytes (the chain's header hash width).
func (c Checkpoint) Point() (chainpoint.Point, error) {
	var h chainhash.Hash
	copy(h[:], c.Hash)
	return chainpoint.New(c.Slot, h), nil
}

// ConnectionStatus describes the chain consumer's relationship to its
// producer.
type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
)

// Health aggregates the observable state exposed by GET /health (spec
// §3 "Health").
type Health struct {
	ConnectionStatus    ConnectionStatus
	MostRecentCheckpoint *Checkpoint
	MostRecentNodeTip    *Checkpoint
	Configuration        Configuration
}

// Configuration is the subset of startup configuration surfaced in
// health responses.
type Configuration struct {
	Network         string
	LongestRollback uint64
	PruneUTXO       bool
}
