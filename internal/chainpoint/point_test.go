package chainpoint

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	hash := chainhash.HashH([]byte("block-30"))
	p := New(30, hash)

	text := p.String()
	parsed, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Compare(parsed))
	assert.False(t, parsed.IsOrigin())
}

func TestParseOrigin(t *testing.T) {
	p, err := Parse("origin")
	require.NoError(t, err)
	assert.True(t, p.IsOrigin())
	assert.Equal(t, "origin", p.String())
}

func TestParseMalformed(t *testing.T) {
	cases := []string{"", "notaslot.deadbeef", "30.nothex", "30-deadbeef"}
	for _, c := range cases {
		_, err := Parse(c)
		require.Error(t, err, c)
	}
}

func TestCompareOrdersByslot(t *testing.T) {
	a := New(10, chainhash.HashH([]byte("a")))
	b := New(20, chainhash.HashH([]byte("b")))
	assert.True(t, a.Before(b))
	assert.True(t, Origin.Before(a))
	assert.False(t, a.Before(Origin))
}
