package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s := Encode(at, "txn_abc123")

	c, err := Decode(s)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, at, c.CreatedAt)
	assert.Equal(t, "txn_abc123", c.ID)
}

func TestDecode_Empty(t *testing.T) {
	c, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode("not-base64!!!")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	_, err = Decode("bm9waXBl") // valid base64, no separator
	assert.ErrorIs(t, err, ErrInvalidCursor)

	// A separator with nothing behind it is not a row key.
	_, err = Decode(Encode(time.Now(), ""))
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestComputePage(t *testing.T) {
	type item struct {
		id string
		at time.Time
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []item{
		{"a", base},
		{"b", base.Add(time.Minute)},
		{"c", base.Add(2 * time.Minute)},
	}
	extract := func(i item) (time.Time, string) { return i.at, i.id }

	// Fetched limit+1: one extra row means there is a next page.
	page, cursor, hasMore := ComputePage(items, 2, extract)
	require.True(t, hasMore)
	assert.Len(t, page, 2)
	c, err := Decode(cursor)
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID)

	// Fewer rows than limit: no next page.
	page, cursor, hasMore = ComputePage(items, 5, extract)
	assert.False(t, hasMore)
	assert.Len(t, page, 3)
	assert.Empty(t, cursor)
}
