package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convo-service/internal/models"
)

func text(s string) *string { return &s }

func TestMemoryCreateDirectIsUniquePerPair(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]int64, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := int64(1), int64(2)
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := store.CreateDirect(ctx, a, b)
			assert.NoError(t, err)
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	participants, err := store.ListParticipants(ctx, ids[0])
	require.NoError(t, err)
	assert.Len(t, participants, 2)
}

func TestMemoryCreateDirectRejectsSelf(t *testing.T) {
	_, err := NewMemoryStore().CreateDirect(context.Background(), 3, 3)
	require.ErrorIs(t, err, ErrSelfConversation)
}

func TestMemoryFlagsAreMonotonic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv, err := store.CreateDirect(ctx, 1, 2)
	require.NoError(t, err)
	msg, err := store.CreateMessage(ctx, models.Message{ConversationID: conv.ID, SenderID: 1, Content: text("hi")})
	require.NoError(t, err)

	changed, err := store.UpdateMessageFlags(ctx, msg.ID, FlagUpdate{Read: true})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.UpdateMessageFlags(ctx, msg.ID, FlagUpdate{Delivered: true})
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.Read)
	assert.True(t, got.Delivered)
}

func TestMemoryHiddenConversationReappearsOnNewMessage(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv, err := store.CreateDirect(ctx, 1, 2)
	require.NoError(t, err)

	require.NoError(t, store.HideForUser(ctx, conv.ID, 2))
	list, err := store.ListForUser(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = store.CreateMessage(ctx, models.Message{ConversationID: conv.ID, SenderID: 1, Content: text("back")})
	require.NoError(t, err)
	list, err = store.ListForUser(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "back", list[0].LastMessagePreview)
	assert.Equal(t, []int64{1, 2}, list[0].ParticipantIDs)
}

func TestMemoryUndeliveredPaging(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv, err := store.CreateGroup(ctx, 1, "team", "", []int64{2, 3})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := store.CreateMessage(ctx, models.Message{ConversationID: conv.ID, SenderID: 1, Content: text("m")})
		require.NoError(t, err)
	}
	_, err = store.CreateMessage(ctx, models.Message{ConversationID: conv.ID, SenderID: 2, Content: text("own")})
	require.NoError(t, err)

	page, err := store.FindUndeliveredFor(ctx, 2, 0, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)

	next, err := store.FindUndeliveredFor(ctx, 2, page[2].ID, 3)
	require.NoError(t, err)
	assert.Len(t, next, 2)

	changes, err := store.MarkDeliveredBatch(ctx, []int64{page[0].ID, page[0].ID, page[1].ID})
	require.NoError(t, err)
	assert.Len(t, changes, 2)
}

func TestMemoryMarkReadUpToAndCount(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv, err := store.CreateDirect(ctx, 1, 2)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := store.CreateMessage(ctx, models.Message{ConversationID: conv.ID, SenderID: 1, Content: text("m")})
		require.NoError(t, err)
	}

	count, err := store.CountUnread(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	changes, err := store.MarkReadUpTo(ctx, conv.ID, 2, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, changes, 3)

	changes, err = store.MarkReadUpTo(ctx, conv.ID, 2, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, changes)

	count, err = store.CountUnread(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryListMessagesPagesBackwards(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv, err := store.CreateDirect(ctx, 1, 2)
	require.NoError(t, err)
	var ids []int64
	for i := 0; i < 5; i++ {
		msg, err := store.CreateMessage(ctx, models.Message{ConversationID: conv.ID, SenderID: 1, Content: text("m")})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	latest, err := store.ListMessages(ctx, conv.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, ids[3], latest[0].ID)
	assert.Equal(t, ids[4], latest[1].ID)

	older, err := store.ListMessages(ctx, conv.ID, ids[3], 10)
	require.NoError(t, err)
	assert.Len(t, older, 3)
}

func TestGroupMembersIncludesOwnerOnce(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 5}, groupMembers(5, []int64{2, 5, 1, 2}))
	assert.Equal(t, []int64{3}, groupMembers(3, nil))
}
