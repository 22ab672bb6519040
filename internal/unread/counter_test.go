package unread

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"convo-service/internal/models"
	"convo-service/internal/repositories"
)

func text(s string) *string { return &s }

func setup(t *testing.T) (*Counter, *repositories.MemoryStore, models.Conversation) {
	t.Helper()
	store := repositories.NewMemoryStore()
	conv, err := store.CreateDirect(context.Background(), 1, 2)
	require.NoError(t, err)
	return NewCounter(NewMemoryHints(), store, store, zap.NewNop()), store, conv
}

func TestIncrementIsAHintUntilRecount(t *testing.T) {
	counter, store, conv := setup(t)
	ctx := context.Background()

	_, err := store.CreateMessage(ctx, models.Message{ConversationID: conv.ID, SenderID: 1, Content: text("a")})
	require.NoError(t, err)
	assert.Equal(t, 1, counter.Increment(ctx, conv.ID, 2))
	// drift: a second increment without a stored message
	assert.Equal(t, 2, counter.Increment(ctx, conv.ID, 2))

	count, err := counter.Recount(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := counter.Get(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestGetFallsBackToStore(t *testing.T) {
	counter, store, conv := setup(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := store.CreateMessage(ctx, models.Message{ConversationID: conv.ID, SenderID: 1, Content: text("a")})
		require.NoError(t, err)
	}

	got, err := counter.Get(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	own, err := counter.Get(ctx, conv.ID, 1)
	require.NoError(t, err)
	assert.Zero(t, own)
}

func TestRecountAllDropsStaleHints(t *testing.T) {
	counter, store, conv := setup(t)
	ctx := context.Background()
	_, err := store.CreateMessage(ctx, models.Message{ConversationID: conv.ID, SenderID: 1, Content: text("a")})
	require.NoError(t, err)

	counter.Increment(ctx, 999, 2)
	counts, err := counter.RecountAll(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{conv.ID: 1}, counts)
	assert.Equal(t, 1, Sum(counts))
	assert.Equal(t, 1, counter.Total(ctx, 2))
}
