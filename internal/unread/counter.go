// Package unread maintains per-(conversation, user) unread counts.
//
// The store's CountUnread query is the only authority. Increments recorded here are
// hints that let the server push a fresh count without a query per message; every
// explicit read and every reconnect replaces the hint with a recount.
package unread

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"convo-service/internal/models"
	"convo-service/internal/observability"
)

// Counts is the authoritative count query.
type Counts interface {
	CountUnread(ctx context.Context, conversationID, userID int64) (int, error)
}

// Memberships lists the conversations a user can see.
type Memberships interface {
	ListForUser(ctx context.Context, userID int64) ([]models.ConversationSummary, error)
}

// Counter combines hints with store recounts.
type Counter struct {
	hints       HintStore
	counts      Counts
	memberships Memberships
	logger      *zap.Logger
}

// NewCounter constructs a Counter.
func NewCounter(hints HintStore, counts Counts, memberships Memberships, logger *zap.Logger) *Counter {
	return &Counter{hints: hints, counts: counts, memberships: memberships, logger: logger}
}

// Increment bumps the hint after a message was dispatched to a user not viewing the conversation.
// Hint failures are logged; the next recount repairs them.
func (c *Counter) Increment(ctx context.Context, conversationID, userID int64) int {
	value, err := c.hints.Incr(ctx, userID, conversationID, 1)
	if err != nil {
		c.logger.Warn("unread hint increment failed",
			zap.Int64("conversation_id", conversationID), zap.Int64("user_id", userID), zap.Error(err))
		return 0
	}
	return value
}

// Recount queries the store and overwrites the hint.
func (c *Counter) Recount(ctx context.Context, conversationID, userID int64) (int, error) {
	count, err := c.counts.CountUnread(ctx, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	count = clamp(count)
	observability.IncUnreadRecount()
	if err := c.hints.Set(ctx, userID, conversationID, count); err != nil {
		c.logger.Warn("unread hint write failed",
			zap.Int64("conversation_id", conversationID), zap.Int64("user_id", userID), zap.Error(err))
	}
	return count, nil
}

// RecountAll rebuilds every hint of the user from the store and returns the per-conversation counts.
func (c *Counter) RecountAll(ctx context.Context, userID int64) (map[int64]int, error) {
	convs, err := c.memberships.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if err := c.hints.Reset(ctx, userID); err != nil {
		c.logger.Warn("unread hint reset failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	counts := make(map[int64]int, len(convs))
	for _, conv := range convs {
		count, err := c.Recount(ctx, conv.ID, userID)
		if err != nil {
			return nil, err
		}
		counts[conv.ID] = count
	}
	return counts, nil
}

// Get returns the hint, recounting when none is cached.
func (c *Counter) Get(ctx context.Context, conversationID, userID int64) (int, error) {
	value, ok, err := c.hints.Get(ctx, userID, conversationID)
	if err == nil && ok {
		return value, nil
	}
	return c.Recount(ctx, conversationID, userID)
}

// Total sums the user's hints. It is an estimate between recounts.
func (c *Counter) Total(ctx context.Context, userID int64) int {
	all, err := c.hints.All(ctx, userID)
	if err != nil {
		c.logger.Warn("unread hint read failed", zap.Int64("user_id", userID), zap.Error(err))
		return 0
	}
	total := 0
	for _, v := range all {
		total += clamp(v)
	}
	return total
}

// Sum adds up a RecountAll result.
func Sum(counts map[int64]int) int {
	total := 0
	for _, v := range counts {
		total += v
	}
	return total
}
