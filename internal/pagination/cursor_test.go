package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)

	c, err := Decode(Encode(ts, "ten_abc|x"))
	require.NoError(t, err)
	assert.Equal(t, ts, c.CreatedAt)
	assert.Equal(t, "ten_abc|x", c.ID, "ids may contain the separator")

	c, err = Decode("")
	assert.NoError(t, err)
	assert.Nil(t, c)

	for _, bad := range []string{"not-base64!!!", "bm9waXBl", Encode(ts, "")} {
		_, err := Decode(bad)
		assert.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}

func TestCursor_Precedes(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Cursor{CreatedAt: t0, ID: "b"}

	assert.True(t, c.Precedes(t0.Add(time.Second), "a"))
	assert.True(t, c.Precedes(t0, "c"))
	assert.False(t, c.Precedes(t0, "b"))
	assert.False(t, c.Precedes(t0, "a"))
	assert.False(t, c.Precedes(t0.Add(-time.Second), "z"))

	var none *Cursor
	assert.True(t, none.Precedes(t0, "a"))
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, p.Limit)
	assert.Nil(t, p.After)

	p, err = ParseParams("", "1000")
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, p.Limit)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err = ParseParams(Encode(ts, "ten_1"), "10")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Limit)
	require.NotNil(t, p.After)
	assert.Equal(t, "ten_1", p.After.ID)

	_, err = ParseParams("", "0")
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = ParseParams("", "ten")
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = ParseParams("garbage!", "")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestComputePage(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	key := func(s string) (time.Time, string) { return ts, s }

	tests := []struct {
		name    string
		items   []string
		limit   int
		want    int
		hasMore bool
	}{
		{"short page", []string{"a", "b", "c"}, 5, 3, false},
		{"exact limit", []string{"a", "b", "c"}, 3, 3, false},
		{"one extra", []string{"a", "b", "c", "d"}, 3, 3, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, next, hasMore := ComputePage(tc.items, tc.limit, key)
			assert.Len(t, got, tc.want)
			assert.Equal(t, tc.hasMore, hasMore)
			if !tc.hasMore {
				assert.Empty(t, next)
				return
			}
			c, err := Decode(next)
			require.NoError(t, err)
			assert.Equal(t, got[len(got)-1], c.ID)
		})
	}
}
