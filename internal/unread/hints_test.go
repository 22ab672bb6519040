package unread

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHintStore checks the behavior every HintStore must share.
func testHintStore(t *testing.T, newStore func(t *testing.T) HintStore) {
	t.Run("incr and get", func(t *testing.T) {
		hints, ctx := newStore(t), context.Background()

		_, ok, err := hints.Get(ctx, 1, 10)
		require.NoError(t, err)
		assert.False(t, ok)

		v, err := hints.Incr(ctx, 1, 10, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		v, err = hints.Incr(ctx, 1, 10, 2)
		require.NoError(t, err)
		assert.Equal(t, 3, v)

		got, ok, err := hints.Get(ctx, 1, 10)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 3, got)
	})

	t.Run("never negative", func(t *testing.T) {
		hints, ctx := newStore(t), context.Background()

		v, err := hints.Incr(ctx, 1, 1, -5)
		require.NoError(t, err)
		assert.Zero(t, v)
		got, ok, err := hints.Get(ctx, 1, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Zero(t, got)

		require.NoError(t, hints.Set(ctx, 1, 2, -1))
		got, ok, err = hints.Get(ctx, 1, 2)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Zero(t, got)
	})

	t.Run("all and reset", func(t *testing.T) {
		hints, ctx := newStore(t), context.Background()

		require.NoError(t, hints.Set(ctx, 1, 10, 4))
		require.NoError(t, hints.Set(ctx, 1, 11, 2))
		require.NoError(t, hints.Set(ctx, 2, 10, 7))

		all, err := hints.All(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, map[int64]int{10: 4, 11: 2}, all)

		require.NoError(t, hints.Reset(ctx, 1))
		all, err = hints.All(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, all)

		other, err := hints.All(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, map[int64]int{10: 7}, other)
	})
}

func TestMemoryHints(t *testing.T) {
	testHintStore(t, func(*testing.T) HintStore { return NewMemoryHints() })
}
