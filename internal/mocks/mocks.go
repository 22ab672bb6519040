package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"convo-service/internal/models"
	"convo-service/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) CreateDirect(ctx context.Context, userID, peerID int64) (models.Conversation, error) {
	args := m.Called(ctx, userID, peerID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) CreateGroup(ctx context.Context, ownerID int64, name, avatarURL string, memberIDs []int64) (models.Conversation, error) {
	args := m.Called(ctx, ownerID, name, avatarURL, memberIDs)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ListParticipants(ctx context.Context, conversationID int64) ([]models.Participant, error) {
	args := m.Called(ctx, conversationID)
	var list []models.Participant
	if val := args.Get(0); val != nil {
		list = val.([]models.Participant)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) ListForUser(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) HideForUser(ctx context.Context, conversationID, userID int64) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) UpdateLastRead(ctx context.Context, conversationID, userID int64, at time.Time) error {
	args := m.Called(ctx, conversationID, userID, at)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var created models.Message
	if val := args.Get(0); val != nil {
		created = val.(models.Message)
	}
	return created, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID int64, beforeID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, beforeID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateMessageFlags(ctx context.Context, messageID int64, update repositories.FlagUpdate) (bool, error) {
	args := m.Called(ctx, messageID, update)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) MarkReadUpTo(ctx context.Context, conversationID, readerID int64, upTo time.Time) ([]models.StatusChange, error) {
	args := m.Called(ctx, conversationID, readerID, upTo)
	var changes []models.StatusChange
	if val := args.Get(0); val != nil {
		changes = val.([]models.StatusChange)
	}
	return changes, args.Error(1)
}

func (m *MessageRepositoryMock) FindUndeliveredFor(ctx context.Context, userID int64, afterID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, userID, afterID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkDeliveredBatch(ctx context.Context, messageIDs []int64) ([]models.StatusChange, error) {
	args := m.Called(ctx, messageIDs)
	var changes []models.StatusChange
	if val := args.Get(0); val != nil {
		changes = val.([]models.StatusChange)
	}
	return changes, args.Error(1)
}

func (m *MessageRepositoryMock) CountUnread(ctx context.Context, conversationID, userID int64) (int, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) EditMessage(ctx context.Context, messageID int64, content string, at time.Time) (models.Message, error) {
	args := m.Called(ctx, messageID, content, at)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

// PublisherMock stands in for rabbitmq.Publisher.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func (m *PublisherMock) Close() error {
	return m.Called().Error(0)
}

type RewardNotifierMock struct {
	mock.Mock
}

func (m *RewardNotifierMock) MessageSent(ctx context.Context, msg models.Message) {
	m.Called(ctx, msg)
}

func (m *RewardNotifierMock) MessagesRead(ctx context.Context, readerID, conversationID int64, count int) {
	m.Called(ctx, readerID, conversationID, count)
}
