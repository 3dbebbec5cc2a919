package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRatingMapValueScanRoundTrip(t *testing.T) {
	t.Parallel()

	m := RatingMap{"bob": 4, "carol": 2.5}

	value, err := m.Value()
	require.NoError(t, err)

	var got RatingMap
	require.NoError(t, got.Scan(value))
	assert.Equal(t, m, got)
}

func TestRatingMapValueNil(t *testing.T) {
	t.Parallel()

	var m RatingMap
	value, err := m.Value()
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(value.([]byte)))
}

func TestRatingMapScanNil(t *testing.T) {
	t.Parallel()

	var m RatingMap
	require.NoError(t, m.Scan(nil))
	assert.Empty(t, m)
	assert.NotNil(t, m)
}

func TestRatingMapScanString(t *testing.T) {
	t.Parallel()

	var m RatingMap
	require.NoError(t, m.Scan(`{"dave":5}`))
	assert.Equal(t, RatingMap{"dave": 5}, m)
}

func TestRatingMapScanUnsupportedType(t *testing.T) {
	t.Parallel()

	var m RatingMap
	assert.Error(t, m.Scan(42))
}

func TestRatingMapMergeOverwrites(t *testing.T) {
	t.Parallel()

	m := RatingMap{}
	require.NoError(t, m.Merge("alice", "bob", 2))
	require.NoError(t, m.Merge("alice", "bob", 4))

	assert.Len(t, m, 1)
	assert.Equal(t, 4.0, m["bob"])
}

func TestRatingMapMergeRejectsSelf(t *testing.T) {
	t.Parallel()

	m := RatingMap{}
	err := m.Merge("alice", "alice", 3)
	assert.ErrorIs(t, err, ErrSelfRating)
	assert.Empty(t, m)
}

func TestUserHasPassword(t *testing.T) {
	t.Parallel()

	assert.False(t, User{}.HasPassword())
	assert.True(t, User{PasswordHash: "$2a$10$abc"}.HasPassword())
}

func TestUserJSONHidesPasswordHash(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(User{Username: "alice", PasswordHash: "secret-hash"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-hash")
}

func TestProfileViewDefaultsRatings(t *testing.T) {
	t.Parallel()

	view := User{Username: "alice"}.ProfileView()
	assert.NotNil(t, view.Ratings)
	assert.Empty(t, view.Ratings)
}
