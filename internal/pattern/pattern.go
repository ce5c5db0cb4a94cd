// Package pattern implements the algebraic matcher over outputs (spec
// §3 "Pattern"): parsing of the canonical text form, a SQL pre-filter
// translator, an in-memory post-filter, and the overlap predicate used
// by the pattern registry and the DELETE /matches guard.
package pattern

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kupo-index/kupo/internal/apperr"
	"github.com/kupo-index/kupo/internal/digest"
	"github.com/kupo-index/kupo/pkg/safe"
)

// Kind discriminates the closed set of pattern variants named in spec §3.
type Kind int

const (
	KindAny Kind = iota
	KindExactAddress
	KindPaymentCredential
	KindDelegationCredential
	KindAddressPair
	KindPolicyID
	KindAssetID
	KindTransactionID
	KindOutputReference
)

// Pattern is a closed tagged variant. Only the fields relevant to Kind
// are populated; callers must switch on Kind before reading them.
type Pattern struct {
	Kind Kind

	Address    string        // KindExactAddress
	Payment    digest.Digest // KindPaymentCredential, KindAddressPair
	Delegation digest.Digest // KindDelegationCredential, KindAddressPair
	PolicyID   digest.Digest // KindPolicyID, KindAssetID
	AssetName  digest.Digest // KindAssetID
	TxID       digest.Digest // KindTransactionID, KindOutputReference
	OutputIx   uint32        // KindOutputReference
}

// Any matches every output.
var Any = Pattern{Kind: KindAny}

// Asset names a policy id and (optionally empty) asset name found in an
// output's value.
type Asset struct {
	PolicyID  digest.Digest
	AssetName digest.Digest
}

// MatchFields carries exactly the fields of a materialized output a
// Pattern needs to test, decoupling this package from the storage
// schema.
type MatchFields struct {
	Address     string
	Payment     digest.Digest
	Delegation  digest.Digest
	Assets      []Asset
	TxID        digest.Digest
	OutputIndex uint32
}

// String renders the canonical text form of the pattern (spec §3, used
// in /matches path segments, pattern listings, and DELETE targets).
func (p Pattern) String() string {
	switch p.Kind {
	case KindAny:
		return "*"
	case KindExactAddress:
		return p.Address
	case KindPaymentCredential:
		return p.Payment.String() + "/*"
	case KindDelegationCredential:
		return "*/" + p.Delegation.String()
	case KindAddressPair:
		return p.Payment.String() + "/" + p.Delegation.String()
	case KindPolicyID:
		return p.PolicyID.String() + ".*"
	case KindAssetID:
		return p.PolicyID.String() + "." + p.AssetName.String()
	case KindTransactionID:
		return p.TxID.String() + "/*@*"
	case KindOutputReference:
		return fmt.Sprintf("%s#%d", p.TxID.String(), p.OutputIx)
	default:
		return "?"
	}
}

// MarshalText renders the pattern in its canonical text form, so a
// Pattern JSON-encodes as a plain string rather than its struct fields
// (same idiom as chainpoint.Point and digest.Digest).
func (p Pattern) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses the canonical text form back into a Pattern.
func (p *Pattern) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Parse decodes a pattern's canonical text form. Recognized shapes,
// tried in order:
//
//	"*"                          -> Any
//	"<hex64>#<index>"            -> OutputReference
//	"<hex28>.*"                  -> PolicyID
//	"<hex28>.<hexAsset>"         -> AssetID
//	"<hex64>/*@*"                -> TransactionID
//	"*/<hex28>"                  -> DelegationCredential
//	"<hex28>/*"                  -> PaymentCredential
//	"<hex28>/<hex28>"            -> AddressPair
//	anything else (bech32 or hex)-> ExactAddress
func Parse(text string) (Pattern, error) {
	text = strings.TrimSpace(text)
	if text == "" || text == "*" {
		return Any, nil
	}

	if strings.Contains(text, "#") {
		parts := strings.SplitN(text, "#", 2)
		txid, err := digest.ParseExact(parts[0], 32, "invalidPattern")
		if err != nil {
			return Pattern{}, err
		}
		ix, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return Pattern{}, apperr.Wrap("invalidPattern", apperr.ClassRequest, 400, err)
		}
		ix32, err := safe.Uint32(ix)
		if err != nil {
			return Pattern{}, apperr.Wrap("invalidPattern", apperr.ClassRequest, 400, err)
		}
		return Pattern{Kind: KindOutputReference, TxID: txid, OutputIx: ix32}, nil
	}

	if strings.Contains(text, ".") {
		parts := strings.SplitN(text, ".", 2)
		policy, err := digest.ParseExact(parts[0], 28, "invalidPattern")
		if err != nil {
			return Pattern{}, err
		}
		if parts[1] == "*" {
			return Pattern{Kind: KindPolicyID, PolicyID: policy}, nil
		}
		name, err := digest.Parse(parts[1])
		if err != nil {
			return Pattern{}, apperr.Wrap("invalidPattern", apperr.ClassRequest, 400, err)
		}
		return Pattern{Kind: KindAssetID, PolicyID: policy, AssetName: name}, nil
	}

	if strings.Contains(text, "/") {
		parts := strings.SplitN(text, "/", 2)
		left, right := parts[0], parts[1]

		if right == "*@*" {
			txid, err := digest.ParseExact(left, 32, "invalidPattern")
			if err != nil {
				return Pattern{}, err
			}
			return Pattern{Kind: KindTransactionID, TxID: txid}, nil
		}
		if left == "*" {
			deleg, err := digest.ParseExact(right, 28, "invalidPattern")
			if err != nil {
				return Pattern{}, err
			}
			return Pattern{Kind: KindDelegationCredential, Delegation: deleg}, nil
		}
		if right == "*" {
			pay, err := digest.ParseExact(left, 28, "invalidPattern")
			if err != nil {
				return Pattern{}, err
			}
			return Pattern{Kind: KindPaymentCredential, Payment: pay}, nil
		}
		pay, err := digest.ParseExact(left, 28, "invalidPattern")
		if err != nil {
			return Pattern{}, err
		}
		deleg, err := digest.ParseExact(right, 28, "invalidPattern")
		if err != nil {
			return Pattern{}, err
		}
		return Pattern{Kind: KindAddressPair, Payment: pay, Delegation: deleg}, nil
	}

	if text != "" {
		return Pattern{Kind: KindExactAddress, Address: text}, nil
	}

	return Pattern{}, apperr.Request("invalidPattern", fmt.Sprintf("unrecognized pattern %q", text))
}

// Matches reports whether fields satisfies the pattern. This is the
// in-memory post-filter applied after any SQL pre-filter narrows the
// candidate set (spec §4.1 "Pattern → SQL").
func (p Pattern) Matches(fields MatchFields) bool {
	switch p.Kind {
	case KindAny:
		return true
	case KindExactAddress:
		return fields.Address == p.Address
	case KindPaymentCredential:
		return fields.Payment.Equal(p.Payment)
	case KindDelegationCredential:
		return fields.Delegation.Equal(p.Delegation)
	case KindAddressPair:
		return fields.Payment.Equal(p.Payment) && fields.Delegation.Equal(p.Delegation)
	case KindPolicyID:
		for _, a := range fields.Assets {
			if a.PolicyID.Equal(p.PolicyID) {
				return true
			}
		}
		return false
	case KindAssetID:
		for _, a := range fields.Assets {
			if a.PolicyID.Equal(p.PolicyID) && a.AssetName.Equal(p.AssetName) {
				return true
			}
		}
		return false
	case KindTransactionID:
		return fields.TxID.Equal(p.TxID)
	case KindOutputReference:
		return fields.TxID.Equal(p.TxID) && fields.OutputIndex == p.OutputIx
	default:
		return false
	}
}

// FieldsFromAddress builds the address-derived portion of MatchFields by
// decoding addr into its payment/delegation credentials. Callers fill in
// Assets/TxID/OutputIndex separately.
func FieldsFromAddress(addr string) (MatchFields, error) {
	decoded, err := decodeAddress(addr)
	if err != nil {
		// Addresses that don't decode into credentials (e.g. byron-era
		// or malformed) still support ExactAddress matching.
		return MatchFields{Address: addr}, nil
	}
	return MatchFields{
		Address:    addr,
		Payment:    decoded.payment,
		Delegation: decoded.delegation,
	}, nil
}
