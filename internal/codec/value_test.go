package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueRoundTrip(t *testing.T) {
	v := Value{
		Coin: 1_500_000,
		Assets: []Asset{
			{PolicyID: []byte{0x01, 0x02}, AssetName: []byte("kupo"), Quantity: 7},
		},
	}

	b, err := EncodeValue(v)
	require.NoError(t, err)

	got, err := DecodeValue(b)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestValueRoundTripNoAssets(t *testing.T) {
	v := Value{Coin: 2_000_000}
	b, err := EncodeValue(v)
	require.NoError(t, err)

	got, err := DecodeValue(b)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}
