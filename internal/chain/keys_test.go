package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHeadKeySortsFirst verifies the head sentinel precedes every member
// key in byte order, which the branch scan in List depends on.
func TestHeadKeySortsFirst(t *testing.T) {
	head := HeadKey("b1")
	assert.True(t, IsHeadKey(head))

	for i := 0; i < 100; i++ {
		key, err := NewKey()
		require.NoError(t, err)
		assert.Less(t, head, key, "head key must sort before member key %s", key)
		assert.False(t, IsHeadKey(key))
	}
}

// TestNewKeyTimeSortable verifies keys generated in sequence sort in
// generation order.
func TestNewKeyTimeSortable(t *testing.T) {
	prev, err := NewKey()
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		key, err := NewKey()
		require.NoError(t, err)
		assert.Less(t, prev, key)
		prev = key
	}
}

// TestTailMarkerNeverCollides verifies the tail marker can't be mistaken
// for a generated key.
func TestTailMarkerNeverCollides(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)
	assert.NotEqual(t, TailMarker, key)
	assert.NotContains(t, key, TailMarker)
}
