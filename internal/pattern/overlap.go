package pattern

// Overlaps reports whether any output matched by p could also be matched
// by other — the symmetric, reflexive predicate used by the registry
// (spec §4.4) to decide whether a new pattern's pre-history back-fill
// would duplicate an existing one, and by DELETE /matches to refuse
// deleting rows that a still-registered pattern would re-populate.
//
// This is a sound (not exact) approximation for the credential/asset
// specializations: two ExactAddress patterns overlap only if textually
// equal, since decoding every address to compare credentials would
// require a fallible address codec round-trip on both sides.
func (p Pattern) Overlaps(other Pattern) bool {
	if p.Kind == KindAny || other.Kind == KindAny {
		return true
	}
	if overlapsOneWay(p, other) {
		return true
	}
	return overlapsOneWay(other, p)
}

// overlapsOneWay checks whether a's matches are a superset relationship
// with b's in the direction that matters: does a specialization (b)
// fall within a broader pattern (a)? Called both ways by Overlaps to
// make the overall predicate symmetric.
func overlapsOneWay(a, b Pattern) bool {
	switch a.Kind {
	case KindPaymentCredential:
		switch b.Kind {
		case KindPaymentCredential:
			return a.Payment.Equal(b.Payment)
		case KindAddressPair:
			return a.Payment.Equal(b.Payment)
		case KindExactAddress:
			fields, err := FieldsFromAddress(b.Address)
			return err == nil && a.Payment.Equal(fields.Payment)
		}
	case KindDelegationCredential:
		switch b.Kind {
		case KindDelegationCredential:
			return a.Delegation.Equal(b.Delegation)
		case KindAddressPair:
			return a.Delegation.Equal(b.Delegation)
		case KindExactAddress:
			fields, err := FieldsFromAddress(b.Address)
			return err == nil && a.Delegation.Equal(fields.Delegation)
		}
	case KindAddressPair:
		switch b.Kind {
		case KindAddressPair:
			return a.Payment.Equal(b.Payment) && a.Delegation.Equal(b.Delegation)
		case KindExactAddress:
			fields, err := FieldsFromAddress(b.Address)
			return err == nil && a.Payment.Equal(fields.Payment) && a.Delegation.Equal(fields.Delegation)
		}
	case KindPolicyID:
		switch b.Kind {
		case KindPolicyID:
			return a.PolicyID.Equal(b.PolicyID)
		case KindAssetID:
			return a.PolicyID.Equal(b.PolicyID)
		}
	case KindAssetID:
		if b.Kind == KindAssetID {
			return a.PolicyID.Equal(b.PolicyID) && a.AssetName.Equal(b.AssetName)
		}
	case KindTransactionID:
		switch b.Kind {
		case KindTransactionID:
			return a.TxID.Equal(b.TxID)
		case KindOutputReference:
			return a.TxID.Equal(b.TxID)
		}
	case KindOutputReference:
		if b.Kind == KindOutputReference {
			return a.TxID.Equal(b.TxID) && a.OutputIx == b.OutputIx
		}
	case KindExactAddress:
		if b.Kind == KindExactAddress {
			return a.Address == b.Address
		}
	}
	return false
}
