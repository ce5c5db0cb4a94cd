// Package codec implements the CBOR (de)serialization of an output's
// value (spec §3 "Value" is stored as a CBOR blob; spec §6 "binary
// artifacts ... encoded as hex" only at the JSON boundary).
package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Asset is one native-asset entry within a Value.
type Asset struct {
	PolicyID  []byte `cbor:"p"`
	AssetName []byte `cbor:"n"`
	Quantity  uint64 `cbor:"q"`
}

// Value is the decoded form of an output's ada + native-asset bundle,
// the payload the chain consumer hands to the storage engine and the
// shape `inputs.value` round-trips through CBOR.
type Value struct {
	Coin   uint64  `cbor:"c"`
	Assets []Asset `cbor:"a,omitempty"`
}

// EncodeValue serializes v for storage in the inputs.value column.
func EncodeValue(v Value) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encode value: %w", err)
	}
	return b, nil
}

// DecodeValue is the inverse of EncodeValue, used when rendering
// GET /matches results back to JSON.
func DecodeValue(b []byte) (Value, error) {
	var v Value
	if err := cbor.Unmarshal(b, &v); err != nil {
		return Value{}, fmt.Errorf("codec: decode value: %w", err)
	}
	return v, nil
}

