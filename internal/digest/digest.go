// Package digest provides a hex-encoded variable-length byte identifier
// used for credential hashes, policy ids, asset names, datum hashes, and
// script hashes — everywhere spec.md names a "32-byte digest" or a bare
// hash without prescribing chainhash's fixed 32-byte width (credential
// and policy hashes are 28 bytes on a real Cardano chain).
package digest

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/kupo-index/kupo/internal/apperr"
)

// Digest is an immutable byte string compared and hex-encoded as a unit.
type Digest []byte

// Parse decodes a hex string into a Digest. An empty string yields a nil
// Digest (used for the Any pattern's absent discriminators).
func Parse(text string) (Digest, error) {
	if text == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(text)
	if err != nil {
		return nil, apperr.Wrap("malformedDatumHash", apperr.ClassRequest, 400, err)
	}
	return Digest(b), nil
}

// ParseExact decodes text and requires it to be exactly wantLen bytes,
// returning the given apperr code otherwise.
func ParseExact(text string, wantLen int, code string) (Digest, error) {
	b, err := hex.DecodeString(text)
	if err != nil {
		return nil, apperr.Wrap(code, apperr.ClassRequest, 400, err)
	}
	if len(b) != wantLen {
		return nil, apperr.New(code, apperr.ClassRequest, 400,
			fmt.Sprintf("expected %d bytes, got %d", wantLen, len(b)))
	}
	return Digest(b), nil
}

// String renders the digest as lowercase hex.
func (d Digest) String() string { return hex.EncodeToString(d) }

// Equal reports byte-for-byte equality.
func (d Digest) Equal(other Digest) bool { return bytes.Equal(d, other) }

// HasPrefix reports whether d starts with prefix.
func (d Digest) HasPrefix(prefix Digest) bool { return bytes.HasPrefix(d, prefix) }

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
