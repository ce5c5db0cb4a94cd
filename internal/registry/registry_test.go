package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kupo-index/kupo/internal/pattern"
)

func mustParse(t *testing.T, text string) pattern.Pattern {
	t.Helper()
	p, err := pattern.Parse(text)
	require.NoError(t, err)
	return p
}

func TestAddRejectsDuplicate(t *testing.T) {
	r := New(nil)
	p := mustParse(t, "*")

	assert.True(t, r.Add(p))
	assert.False(t, r.Add(p))
	assert.Len(t, r.Snapshot(), 1)
}

func TestRemoveDeregisters(t *testing.T) {
	r := New(nil)
	p := mustParse(t, "*")
	r.Add(p)

	assert.Equal(t, 1, r.Remove(p))
	assert.Empty(t, r.Snapshot())
	assert.Equal(t, 0, r.Remove(p))
}

func TestOverlapsChecksEveryRegisteredPattern(t *testing.T) {
	r := New([]pattern.Pattern{mustParse(t, "*")})
	assert.True(t, r.Overlaps(mustParse(t, "addr_test_placeholder")))
}

func TestIncludedFiltersBySubstring(t *testing.T) {
	r := New([]pattern.Pattern{mustParse(t, "*")})
	assert.Len(t, r.Included(""), 1)
	assert.Len(t, r.Included("nomatch-substring"), 0)
}

func TestSnapshotIsWaitFreeAndStable(t *testing.T) {
	r := New([]pattern.Pattern{mustParse(t, "*")})
	snap1 := r.Snapshot()
	r.Add(mustParse(t, "11111111111111111111111111111111111111111111111111111111."))
	snap2 := r.Snapshot()

	assert.Len(t, snap1, 1, "earlier snapshot must not observe a later Add")
	assert.Len(t, snap2, 2)
}
