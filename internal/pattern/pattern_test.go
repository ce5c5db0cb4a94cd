package pattern

import (
	"encoding/json"
	"testing"

	"github.com/kupo-index/kupo/internal/digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hex28(b byte) string {
	buf := make([]byte, 28)
	for i := range buf {
		buf[i] = b
	}
	return digest.Digest(buf).String()
}

func hex32(b byte) string {
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = b
	}
	return digest.Digest(buf).String()
}

func TestJSONRoundTripsThroughCanonicalText(t *testing.T) {
	p, err := Parse("addr_test_json")
	require.NoError(t, err)

	b, err := json.Marshal([]Pattern{p})
	require.NoError(t, err)
	assert.JSONEq(t, `["addr_test_json"]`, string(b))

	var decoded []Pattern
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, p, decoded[0])
}

func TestParseAny(t *testing.T) {
	p, err := Parse("*")
	require.NoError(t, err)
	assert.Equal(t, KindAny, p.Kind)
	assert.Equal(t, "*", p.String())
}

func TestParsePolicyAndAsset(t *testing.T) {
	policy := hex28(0xAB)

	p, err := Parse(policy + ".*")
	require.NoError(t, err)
	assert.Equal(t, KindPolicyID, p.Kind)

	p2, err := Parse(policy + ".deadbeef")
	require.NoError(t, err)
	assert.Equal(t, KindAssetID, p2.Kind)
}

func TestParseOutputReference(t *testing.T) {
	txid := hex32(0x01)
	p, err := Parse(txid + "#3")
	require.NoError(t, err)
	assert.Equal(t, KindOutputReference, p.Kind)
	assert.Equal(t, uint32(3), p.OutputIx)
	assert.Equal(t, txid+"#3", p.String())
}

func TestParseCredentials(t *testing.T) {
	pay := hex28(0x02)
	deleg := hex28(0x03)

	p, err := Parse(pay + "/*")
	require.NoError(t, err)
	assert.Equal(t, KindPaymentCredential, p.Kind)

	p2, err := Parse("*/" + deleg)
	require.NoError(t, err)
	assert.Equal(t, KindDelegationCredential, p2.Kind)

	p3, err := Parse(pay + "/" + deleg)
	require.NoError(t, err)
	assert.Equal(t, KindAddressPair, p3.Kind)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse(hex28(0x04) + ".notasset!!")
	require.Error(t, err)
}

func TestMatchesPaymentCredential(t *testing.T) {
	pay, _ := digest.ParseExact(hex28(0x05), 28, "invalidPattern")
	p := Pattern{Kind: KindPaymentCredential, Payment: pay}

	assert.True(t, p.Matches(MatchFields{Payment: pay}))
	other, _ := digest.ParseExact(hex28(0x06), 28, "invalidPattern")
	assert.False(t, p.Matches(MatchFields{Payment: other}))
}

func TestMatchesAssetID(t *testing.T) {
	policy, _ := digest.ParseExact(hex28(0x07), 28, "invalidPattern")
	name, _ := digest.Parse("cafe")
	p := Pattern{Kind: KindAssetID, PolicyID: policy, AssetName: name}

	assert.True(t, p.Matches(MatchFields{Assets: []Asset{{PolicyID: policy, AssetName: name}}}))
	assert.False(t, p.Matches(MatchFields{Assets: nil}))
}

func TestToSQLIsTotalAndParameterized(t *testing.T) {
	patterns := []Pattern{
		Any,
		{Kind: KindExactAddress, Address: "addr_test1xyz"},
		{Kind: KindPaymentCredential, Payment: digest.Digest{1, 2, 3}},
		{Kind: KindDelegationCredential, Delegation: digest.Digest{4, 5, 6}},
		{Kind: KindAddressPair, Payment: digest.Digest{1}, Delegation: digest.Digest{2}},
		{Kind: KindPolicyID, PolicyID: digest.Digest{7, 8}},
		{Kind: KindAssetID, PolicyID: digest.Digest{7}, AssetName: digest.Digest{9}},
		{Kind: KindTransactionID, TxID: digest.Digest{10}},
		{Kind: KindOutputReference, TxID: digest.Digest{11}, OutputIx: 2},
	}

	for _, p := range patterns {
		frag := p.ToSQL()
		assert.NotEmpty(t, frag.SQL)
	}

	for _, flag := range []StatusFlag{StatusUnspent, StatusSpent, StatusAll} {
		assert.NotEmpty(t, flag.StatusSQL().SQL)
	}
	for _, dir := range []SortDirection{SortAsc, SortDesc} {
		assert.NotEmpty(t, dir.OrderBySQL())
	}
}

func TestOverlapReflexiveAndSymmetric(t *testing.T) {
	policy, _ := digest.ParseExact(hex28(0x0A), 28, "invalidPattern")
	a := Pattern{Kind: KindPolicyID, PolicyID: policy}
	name, _ := digest.Parse("ff")
	b := Pattern{Kind: KindAssetID, PolicyID: policy, AssetName: name}

	assert.True(t, a.Overlaps(a))
	assert.True(t, a.Overlaps(b))
	assert.True(t, b.Overlaps(a))

	other, _ := digest.ParseExact(hex28(0x0B), 28, "invalidPattern")
	c := Pattern{Kind: KindPolicyID, PolicyID: other}
	assert.False(t, a.Overlaps(c))
}

func TestOverlapAnyAbsorbsEverything(t *testing.T) {
	assert.True(t, Any.Overlaps(Pattern{Kind: KindTransactionID, TxID: digest.Digest{1}}))
}
