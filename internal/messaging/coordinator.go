// Package messaging owns the message lifecycle: creation, the monotonic
// sent → delivered → read transitions and the catch-up run on reconnect.
package messaging

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"convo-service/internal/apperrors"
	"convo-service/internal/dedup"
	"convo-service/internal/models"
	"convo-service/internal/observability"
	"convo-service/internal/repositories"
	"convo-service/internal/unread"
)

var tracer = otel.Tracer("convo-service/messaging")

// Dispatcher pushes events to live connections without blocking.
type Dispatcher interface {
	SendToUser(userID int64, event models.Event)
	SendToConversation(conversationID int64, participantIDs []int64, event models.Event)
	BroadcastRoom(conversationID int64, event models.Event)
	IsViewing(userID, conversationID int64) bool
}

// RewardNotifier receives message activity for point awarding. Calls must not block.
type RewardNotifier interface {
	MessageSent(ctx context.Context, msg models.Message)
	MessagesRead(ctx context.Context, readerID, conversationID int64, count int)
}

// Options bounds message payloads.
type Options struct {
	MaxContentLength int
	MaxAttachments   int
}

// SendInput is a createMessage request.
type SendInput struct {
	ConversationID int64
	SenderID       int64
	Content        *string
	Attachments    []string
	ClientID       string
}

// Coordinator applies every message mutation and announces committed state.
type Coordinator struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	dispatcher    Dispatcher
	counter       *unread.Counter
	rewards       RewardNotifier
	recent        *dedup.Cache
	locks         *convLocks
	opts          Options
	logger        *zap.Logger
	now           func() time.Time
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	dispatcher Dispatcher,
	counter *unread.Counter,
	rewards RewardNotifier,
	recent *dedup.Cache,
	opts Options,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		conversations: conversations,
		messages:      messages,
		dispatcher:    dispatcher,
		counter:       counter,
		rewards:       rewards,
		recent:        recent,
		locks:         &convLocks{},
		opts:          opts,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateMessage persists a message from a participant and dispatches message:new.
func (c *Coordinator) CreateMessage(ctx context.Context, in SendInput) (msg models.Message, err error) {
	ctx, span := tracer.Start(ctx, "messaging.CreateMessage", trace.WithAttributes(
		attribute.Int64("conversation_id", in.ConversationID),
		attribute.Int64("sender_id", in.SenderID),
	))
	defer func() { endSpan(span, err) }()

	if err := c.validateSend(&in); err != nil {
		return models.Message{}, err
	}
	members, err := c.requireParticipant(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return models.Message{}, err
	}

	unlock := c.locks.lock(in.ConversationID)
	msg, err = c.messages.CreateMessage(ctx, models.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Attachments:    in.Attachments,
	})
	if err != nil {
		unlock()
		return models.Message{}, storeError(err, "store message")
	}
	observability.IncMessageCreated()
	c.dispatcher.SendToConversation(msg.ConversationID, members, models.Event{
		Type: models.EventMessageNew,
		Data: models.MessageView{Message: msg, ClientID: in.ClientID},
	})
	// Unread hints change only under the conversation lock.
	for _, userID := range members {
		if userID == msg.SenderID || c.dispatcher.IsViewing(userID, msg.ConversationID) {
			continue
		}
		count := c.counter.Increment(ctx, msg.ConversationID, userID)
		c.pushUnread(ctx, userID, msg.ConversationID, count)
	}
	unlock()

	c.rewards.MessageSent(ctx, msg)
	return msg, nil
}

// MarkDelivered records that a recipient's client received the message.
func (c *Coordinator) MarkDelivered(ctx context.Context, messageID, userID int64) (msg models.Message, err error) {
	ctx, span := tracer.Start(ctx, "messaging.MarkDelivered", trace.WithAttributes(
		attribute.Int64("message_id", messageID),
		attribute.Int64("user_id", userID),
	))
	defer func() { endSpan(span, err) }()

	msg, err = c.loadForStatusChange(ctx, messageID, userID)
	if err != nil {
		return models.Message{}, err
	}
	key := dedup.Key("delivered", messageID, userID)
	if msg.Delivered || c.recent.Seen(key) {
		return msg, nil
	}

	unlock := c.locks.lock(msg.ConversationID)
	changed, err := c.messages.UpdateMessageFlags(ctx, messageID, repositories.FlagUpdate{Delivered: true})
	if err != nil {
		unlock()
		return models.Message{}, storeError(err, "mark delivered")
	}
	if changed {
		observability.AddStatusTransitions(models.StatusDelivered, "live", 1)
		c.dispatcher.SendToUser(msg.SenderID, statusEvent(msg.ConversationID, userID, models.StatusDelivered, messageID))
	}
	unlock()

	c.recent.Mark(key)
	msg.Delivered = true
	return msg, nil
}

// MarkRead records that a recipient viewed the message. It implies delivery.
func (c *Coordinator) MarkRead(ctx context.Context, messageID, userID int64) (msg models.Message, err error) {
	ctx, span := tracer.Start(ctx, "messaging.MarkRead", trace.WithAttributes(
		attribute.Int64("message_id", messageID),
		attribute.Int64("user_id", userID),
	))
	defer func() { endSpan(span, err) }()

	msg, err = c.loadForStatusChange(ctx, messageID, userID)
	if err != nil {
		return models.Message{}, err
	}
	key := dedup.Key("read", messageID, userID)

	// The read flag is shared by all recipients; the caller is recounted even when nothing changes.
	unlock := c.locks.lock(msg.ConversationID)
	changed := false
	if !msg.Read && !c.recent.Seen(key) {
		changed, err = c.messages.UpdateMessageFlags(ctx, messageID, repositories.FlagUpdate{Read: true})
		if err != nil {
			unlock()
			return models.Message{}, storeError(err, "mark read")
		}
		if changed {
			observability.AddStatusTransitions(models.StatusRead, "live", 1)
			c.dispatcher.SendToUser(msg.SenderID, statusEvent(msg.ConversationID, userID, models.StatusRead, messageID))
		}
	}
	c.refreshUnread(ctx, msg.ConversationID, userID)
	unlock()

	c.recent.Mark(key)
	msg.Delivered, msg.Read = true, true
	if err := c.conversations.UpdateLastRead(ctx, msg.ConversationID, userID, msg.CreatedAt); err != nil {
		c.logger.Warn("update last read", zap.Int64("conversation_id", msg.ConversationID), zap.Error(err))
	}
	if changed {
		c.rewards.MessagesRead(ctx, userID, msg.ConversationID, 1)
	}
	return msg, nil
}

// MarkConversationRead marks every unread message from others up to upTo as read.
// A zero upTo means now. It returns how many messages changed.
func (c *Coordinator) MarkConversationRead(ctx context.Context, conversationID, userID int64, upTo time.Time) (n int, err error) {
	ctx, span := tracer.Start(ctx, "messaging.MarkConversationRead", trace.WithAttributes(
		attribute.Int64("conversation_id", conversationID),
		attribute.Int64("user_id", userID),
	))
	defer func() { endSpan(span, err) }()

	if _, err := c.requireParticipant(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	if upTo.IsZero() {
		upTo = c.now()
	}

	unlock := c.locks.lock(conversationID)
	changes, err := c.messages.MarkReadUpTo(ctx, conversationID, userID, upTo)
	if err != nil {
		unlock()
		return 0, storeError(err, "mark conversation read")
	}
	bySender := lo.GroupBy(changes, func(ch models.StatusChange) int64 { return ch.SenderID })
	for senderID, senderChanges := range bySender {
		c.dispatcher.SendToUser(senderID, models.Event{
			Type: models.EventConversationStatusUpdated,
			Data: models.ConversationStatusPayload{
				ConversationID: conversationID,
				Status:         models.StatusRead,
				Count:          len(senderChanges),
				UpdatedBy:      userID,
			},
		})
	}
	c.refreshUnread(ctx, conversationID, userID)
	unlock()

	observability.AddStatusTransitions(models.StatusRead, "bulk", len(changes))
	if err := c.conversations.UpdateLastRead(ctx, conversationID, userID, upTo); err != nil {
		c.logger.Warn("update last read", zap.Int64("conversation_id", conversationID), zap.Error(err))
	}
	if len(changes) > 0 {
		c.rewards.MessagesRead(ctx, userID, conversationID, len(changes))
	}
	return len(changes), nil
}

// EditMessage replaces the content of a message. Only its sender may edit it.
func (c *Coordinator) EditMessage(ctx context.Context, messageID, userID int64, content string) (msg models.Message, err error) {
	ctx, span := tracer.Start(ctx, "messaging.EditMessage", trace.WithAttributes(
		attribute.Int64("message_id", messageID),
	))
	defer func() { endSpan(span, err) }()

	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, apperrors.Validation("content is required")
	}
	if utf8.RuneCountInString(content) > c.opts.MaxContentLength {
		return models.Message{}, apperrors.Validation("content exceeds %d characters", c.opts.MaxContentLength)
	}

	current, err := c.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, storeError(err, "load message")
	}
	if current.SenderID != userID {
		return models.Message{}, apperrors.Authorization("only the sender can edit a message")
	}
	participants, err := c.conversations.ListParticipants(ctx, current.ConversationID)
	if err != nil {
		return models.Message{}, storeError(err, "list participants")
	}

	unlock := c.locks.lock(current.ConversationID)
	defer unlock()
	msg, err = c.messages.EditMessage(ctx, messageID, content, c.now())
	if err != nil {
		return models.Message{}, storeError(err, "edit message")
	}
	c.dispatcher.SendToConversation(msg.ConversationID, participantIDs(participants), models.Event{
		Type: models.EventMessageEdited,
		Data: models.MessageView{Message: msg},
	})
	return msg, nil
}

// Typing relays an ephemeral typing indicator to the conversation room.
func (c *Coordinator) Typing(ctx context.Context, conversationID, userID int64, isTyping bool) error {
	ok, err := c.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return storeError(err, "check participant")
	}
	if !ok {
		return apperrors.Authorization("not a conversation participant")
	}
	c.dispatcher.BroadcastRoom(conversationID, models.Event{
		Type: models.EventTypingUpdate,
		Data: models.TypingPayload{ConversationID: conversationID, UserID: userID, IsTyping: isTyping},
	})
	return nil
}

func (c *Coordinator) validateSend(in *SendInput) error {
	if in.Content != nil {
		trimmed := strings.TrimSpace(*in.Content)
		if trimmed == "" {
			in.Content = nil
		} else if utf8.RuneCountInString(trimmed) > c.opts.MaxContentLength {
			return apperrors.Validation("content exceeds %d characters", c.opts.MaxContentLength)
		} else {
			in.Content = &trimmed
		}
	}
	if len(in.Attachments) > c.opts.MaxAttachments {
		return apperrors.Validation("at most %d attachments allowed", c.opts.MaxAttachments)
	}
	for _, ref := range in.Attachments {
		if strings.TrimSpace(ref) == "" {
			return apperrors.Validation("attachment reference must not be empty")
		}
	}
	if in.Content == nil && len(in.Attachments) == 0 {
		return apperrors.Validation("message needs content or attachments")
	}
	return nil
}

// requireParticipant returns the participant ids of the conversation after checking membership.
func (c *Coordinator) requireParticipant(ctx context.Context, conversationID, userID int64) ([]int64, error) {
	if _, err := c.conversations.GetConversation(ctx, conversationID); err != nil {
		return nil, storeError(err, "load conversation")
	}
	participants, err := c.conversations.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, storeError(err, "list participants")
	}
	ids := participantIDs(participants)
	if !lo.Contains(ids, userID) {
		return nil, apperrors.Authorization("not a conversation participant")
	}
	return ids, nil
}

// loadForStatusChange fails closed: unknown message, own message or outsider.
func (c *Coordinator) loadForStatusChange(ctx context.Context, messageID, userID int64) (models.Message, error) {
	msg, err := c.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, storeError(err, "load message")
	}
	if msg.SenderID == userID {
		return models.Message{}, apperrors.State("cannot update own message status")
	}
	ok, err := c.conversations.IsParticipant(ctx, msg.ConversationID, userID)
	if err != nil {
		return models.Message{}, storeError(err, "check participant")
	}
	if !ok {
		return models.Message{}, apperrors.Authorization("not a conversation participant")
	}
	return msg, nil
}

// refreshUnread replaces the hint with the store count and pushes it to the user.
func (c *Coordinator) refreshUnread(ctx context.Context, conversationID, userID int64) {
	count, err := c.counter.Recount(ctx, conversationID, userID)
	if err != nil {
		c.logger.Warn("unread recount failed",
			zap.Int64("conversation_id", conversationID), zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	c.pushUnread(ctx, userID, conversationID, count)
}

func (c *Coordinator) pushUnread(ctx context.Context, userID, conversationID int64, count int) {
	c.dispatcher.SendToUser(userID, models.Event{
		Type: models.EventUnreadCountUpdated,
		Data: models.UnreadCountPayload{
			ConversationID: conversationID,
			Count:          count,
			TotalCount:     c.counter.Total(ctx, userID),
		},
	})
}

func statusEvent(conversationID, updatedBy int64, status string, messageIDs ...int64) models.Event {
	payload := models.MessageStatusPayload{
		ConversationID: conversationID,
		Status:         status,
		UpdatedBy:      updatedBy,
	}
	if len(messageIDs) == 1 {
		payload.MessageID = messageIDs[0]
	} else {
		payload.MessageIDs = messageIDs
	}
	return models.Event{Type: models.EventMessageStatusUpdated, Data: payload}
}

func participantIDs(participants []models.Participant) []int64 {
	return lo.Map(participants, func(p models.Participant, _ int) int64 { return p.UserID })
}

// storeError translates repository errors into the service taxonomy.
func storeError(err error, op string) error {
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound):
		return apperrors.NotFound("conversation not found")
	case errors.Is(err, repositories.ErrMessageNotFound):
		return apperrors.NotFound("message not found")
	case errors.Is(err, repositories.ErrSelfConversation):
		return apperrors.Validation("cannot create a conversation with yourself")
	default:
		return apperrors.Internal(err, "%s", op)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
