package pattern

import (
	"fmt"
	"strings"
)

// StatusFlag narrows a query to unspent, spent, or all matched rows
// (spec §4.1 "statusFlag").
type StatusFlag int

const (
	StatusUnspent StatusFlag = iota
	StatusSpent
	StatusAll
)

// ParseStatusFlag parses the `status` query parameter.
func ParseStatusFlag(text string) (StatusFlag, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "", "unspent":
		return StatusUnspent, nil
	case "spent":
		return StatusSpent, nil
	case "all":
		return StatusAll, nil
	default:
		return 0, fmt.Errorf("invalidStatusFlag: %q", text)
	}
}

// SortDirection orders query results by creation slot.
type SortDirection int

const (
	SortDesc SortDirection = iota
	SortAsc
)

// ParseSortDirection parses the `order` query parameter.
func ParseSortDirection(text string) (SortDirection, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "", "desc":
		return SortDesc, nil
	case "asc":
		return SortAsc, nil
	default:
		return 0, fmt.Errorf("invalidSortDirection: %q", text)
	}
}

// Fragment is a parameterized WHERE clause fragment: SQL text with `?`
// placeholders and the arguments to bind to them. Fragments do not
// share a leading column: each variant constrains the column it needs
// (inputs.address, inputs.payment_credential, inputs.delegation_credential,
// inputs.output_reference via the assets table, inputs.created_at_tx_id,
// or inputs.output_tx_id).
type Fragment struct {
	SQL  string
	Args []any
}

// ToSQL is total over the closed Kind set: every variant produces a
// syntactically valid, parameterized WHERE fragment (spec §8 testable
// property "Pattern-to-SQL is total").
func (p Pattern) ToSQL() Fragment {
	switch p.Kind {
	case KindAny:
		return Fragment{SQL: "1 = 1"}
	case KindExactAddress:
		return Fragment{SQL: "inputs.address = ?", Args: []any{p.Address}}
	case KindPaymentCredential:
		return Fragment{SQL: "inputs.payment_credential = ?", Args: []any{[]byte(p.Payment)}}
	case KindDelegationCredential:
		return Fragment{SQL: "inputs.delegation_credential = ?", Args: []any{[]byte(p.Delegation)}}
	case KindAddressPair:
		return Fragment{
			SQL:  "inputs.payment_credential = ? AND inputs.delegation_credential = ?",
			Args: []any{[]byte(p.Payment), []byte(p.Delegation)},
		}
	case KindPolicyID:
		return Fragment{
			SQL: "inputs.output_reference IN (SELECT output_reference FROM assets WHERE policy_id = ?)",
			Args: []any{[]byte(p.PolicyID)},
		}
	case KindAssetID:
		return Fragment{
			SQL:  "inputs.output_reference IN (SELECT output_reference FROM assets WHERE policy_id = ? AND asset_name = ?)",
			Args: []any{[]byte(p.PolicyID), []byte(p.AssetName)},
		}
	case KindTransactionID:
		return Fragment{SQL: "inputs.created_at_tx_id = ?", Args: []any{[]byte(p.TxID)}}
	case KindOutputReference:
		return Fragment{
			SQL:  "inputs.output_tx_id = ? AND inputs.output_index = ?",
			Args: []any{[]byte(p.TxID), p.OutputIx},
		}
	default:
		// Unreachable for the closed Kind set above; kept to preserve
		// totality if Kind is ever extended without updating ToSQL.
		return Fragment{SQL: "0 = 1"}
	}
}

// StatusSQL returns the predicate fragment for a status flag.
func (s StatusFlag) StatusSQL() Fragment {
	switch s {
	case StatusUnspent:
		return Fragment{SQL: "inputs.spent_at_slot IS NULL"}
	case StatusSpent:
		return Fragment{SQL: "inputs.spent_at_slot IS NOT NULL"}
	default:
		return Fragment{SQL: "1 = 1"}
	}
}

// OrderBySQL returns the ORDER BY clause for a sort direction.
func (s SortDirection) OrderBySQL() string {
	if s == SortAsc {
		return "ORDER BY inputs.created_at_slot ASC"
	}
	return "ORDER BY inputs.created_at_slot DESC"
}

// And combines fragments with AND, short-circuiting trivial "1 = 1"
// fragments to keep generated SQL readable.
func And(fragments ...Fragment) Fragment {
	var clauses []string
	var args []any
	for _, f := range fragments {
		if f.SQL == "" || f.SQL == "1 = 1" {
			continue
		}
		clauses = append(clauses, "("+f.SQL+")")
		args = append(args, f.Args...)
	}
	if len(clauses) == 0 {
		return Fragment{SQL: "1 = 1"}
	}
	return Fragment{SQL: strings.Join(clauses, " AND "), Args: args}
}
