package pattern

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/kupo-index/kupo/internal/digest"
)

// credentialLen is the width of a Cardano payment/delegation credential
// (a Blake2b-224 digest).
const credentialLen = 28

// decodedAddress is the result of splitting an address into its header
// byte and the credentials it commits to.
type decodedAddress struct {
	header     byte
	payment    digest.Digest
	delegation digest.Digest
}

// decodeAddress accepts either a bech32-encoded address (the common
// case) or a raw hex-encoded address body, and extracts the header byte
// plus up to two 28-byte credentials, matching the layout of addresses
// that carry a payment credential optionally followed by a delegation
// credential.
func decodeAddress(addr string) (decodedAddress, error) {
	body, err := addressBody(addr)
	if err != nil {
		return decodedAddress{}, err
	}
	if len(body) == 0 {
		return decodedAddress{}, fmt.Errorf("empty address body")
	}

	out := decodedAddress{header: body[0]}
	rest := body[1:]

	switch {
	case len(rest) >= 2*credentialLen:
		out.payment = digest.Digest(rest[:credentialLen])
		out.delegation = digest.Digest(rest[credentialLen : 2*credentialLen])
	case len(rest) >= credentialLen:
		out.payment = digest.Digest(rest[:credentialLen])
	}

	return out, nil
}

// addressBody decodes addr into raw bytes, trying bech32 first and
// falling back to plain hex.
func addressBody(addr string) ([]byte, error) {
	if hrp, data, err := bech32.Decode(addr); err == nil && hrp != "" {
		converted, cerr := bech32.ConvertBits(data, 5, 8, false)
		if cerr != nil {
			return nil, fmt.Errorf("convert bech32 address bits: %w", cerr)
		}
		return converted, nil
	}

	raw, err := hex.DecodeString(addr)
	if err != nil {
		return nil, fmt.Errorf("address %q is neither valid bech32 nor hex: %w", addr, err)
	}
	return raw, nil
}
