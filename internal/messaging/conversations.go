package messaging

import (
	"context"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"convo-service/internal/apperrors"
	"convo-service/internal/models"
	"convo-service/internal/unread"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// CreateDirect returns the one direct conversation between two users, creating it if needed.
func (c *Coordinator) CreateDirect(ctx context.Context, userID, peerID int64) (models.Conversation, error) {
	if peerID <= 0 {
		return models.Conversation{}, apperrors.Validation("peer id is required")
	}
	if peerID == userID {
		return models.Conversation{}, apperrors.Validation("cannot create a conversation with yourself")
	}
	conv, err := c.conversations.CreateDirect(ctx, userID, peerID)
	if err != nil {
		return models.Conversation{}, storeError(err, "create direct conversation")
	}
	return conv, nil
}

// CreateGroup creates a named conversation owned by ownerID.
func (c *Coordinator) CreateGroup(ctx context.Context, ownerID int64, name, avatarURL string, memberIDs []int64) (models.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Conversation{}, apperrors.Validation("group name is required")
	}
	members := lo.Uniq(lo.Filter(memberIDs, func(id int64, _ int) bool { return id > 0 && id != ownerID }))
	if len(members) == 0 {
		return models.Conversation{}, apperrors.Validation("group needs at least one other member")
	}
	conv, err := c.conversations.CreateGroup(ctx, ownerID, name, strings.TrimSpace(avatarURL), members)
	if err != nil {
		return models.Conversation{}, storeError(err, "create group conversation")
	}
	return conv, nil
}

// ListConversations returns the visible conversations of a user with unread counts.
func (c *Coordinator) ListConversations(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	summaries, err := c.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, storeError(err, "list conversations")
	}
	for i := range summaries {
		unlock := c.locks.lock(summaries[i].ID)
		count, err := c.counter.Get(ctx, summaries[i].ID, userID)
		unlock()
		if err != nil {
			c.logger.Warn("unread count", zap.Int64("conversation_id", summaries[i].ID), zap.Error(err))
			continue
		}
		summaries[i].UnreadCount = count
	}
	return summaries, nil
}

// HideConversation hides a conversation for one user until its next message.
func (c *Coordinator) HideConversation(ctx context.Context, conversationID, userID int64) error {
	if _, err := c.requireParticipant(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := c.conversations.HideForUser(ctx, conversationID, userID); err != nil {
		return storeError(err, "hide conversation")
	}
	return nil
}

// ListMessages returns a page of messages older than beforeID, oldest first,
// with status projected for the viewer.
func (c *Coordinator) ListMessages(ctx context.Context, conversationID, userID, beforeID int64, limit int) ([]models.MessageView, error) {
	if _, err := c.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	msgs, err := c.messages.ListMessages(ctx, conversationID, beforeID, limit)
	if err != nil {
		return nil, storeError(err, "list messages")
	}
	return lo.Map(msgs, func(m models.Message, _ int) models.MessageView { return m.ViewFor(userID) }), nil
}

// UnreadCount recomputes the unread count of one conversation from the store.
func (c *Coordinator) UnreadCount(ctx context.Context, conversationID, userID int64) (int, error) {
	if _, err := c.requireParticipant(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	unlock := c.locks.lock(conversationID)
	count, err := c.counter.Recount(ctx, conversationID, userID)
	unlock()
	if err != nil {
		return 0, storeError(err, "count unread")
	}
	return count, nil
}

// UnreadCounts recomputes every unread count of a user from the store.
// The user's conversations stay locked while their hints are rebuilt.
func (c *Coordinator) UnreadCounts(ctx context.Context, userID int64) (map[int64]int, int, error) {
	summaries, err := c.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, 0, storeError(err, "list conversations")
	}
	unlock := c.locks.lockMany(lo.Map(summaries, func(s models.ConversationSummary, _ int) int64 { return s.ID }))
	counts, err := c.counter.RecountAll(ctx, userID)
	unlock()
	if err != nil {
		return nil, 0, storeError(err, "count unread")
	}
	return counts, unread.Sum(counts), nil
}

// IsParticipant reports conversation membership.
func (c *Coordinator) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	ok, err := c.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return false, storeError(err, "check participant")
	}
	return ok, nil
}
