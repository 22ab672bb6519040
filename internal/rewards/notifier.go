// Package rewards tells the external reward engine about message activity.
// Publishing is fire-and-forget: failures are logged and counted, never returned.
package rewards

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"convo-service/internal/models"
	"convo-service/internal/observability"
	"convo-service/internal/rabbitmq"
)

const (
	RoutingKeyMessageSent = "rewards.message_sent"
	RoutingKeyMessageRead = "rewards.message_read"

	defaultTimeout = 5 * time.Second
)

type Envelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	Environment   string `json:"environment"`
	RequestID     string `json:"request_id,omitempty"`
	UserID        int64  `json:"user_id"`
	Payload       any    `json:"payload"`
}

type MessageSentPayload struct {
	MessageID      int64 `json:"message_id"`
	ConversationID int64 `json:"conversation_id"`
	HasAttachments bool  `json:"has_attachments"`
}

type MessagesReadPayload struct {
	ConversationID int64 `json:"conversation_id"`
	Count          int   `json:"count"`
}

type Notifier struct {
	publisher   rabbitmq.Publisher
	service     string
	environment string
	timeout     time.Duration
	logger      *zap.Logger
	wg          sync.WaitGroup
}

func NewNotifier(publisher rabbitmq.Publisher, service, environment string, timeout time.Duration, logger *zap.Logger) *Notifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Notifier{
		publisher:   publisher,
		service:     service,
		environment: environment,
		timeout:     timeout,
		logger:      logger,
	}
}

func (n *Notifier) MessageSent(ctx context.Context, msg models.Message) {
	n.publish(ctx, RoutingKeyMessageSent, "message_sent", msg.SenderID, MessageSentPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		HasAttachments: len(msg.Attachments) > 0,
	})
}

func (n *Notifier) MessagesRead(ctx context.Context, readerID, conversationID int64, count int) {
	n.publish(ctx, RoutingKeyMessageRead, "message_read", readerID, MessagesReadPayload{
		ConversationID: conversationID,
		Count:          count,
	})
}

// Wait blocks until in-flight publishes finish.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

func (n *Notifier) publish(ctx context.Context, routingKey, eventType string, userID int64, payload any) {
	if n == nil || n.publisher == nil {
		return
	}

	envelope := Envelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       n.service,
		Environment:   n.environment,
		RequestID:     observability.RequestIDFromContext(ctx),
		UserID:        userID,
		Payload:       payload,
	}

	// The caller's context usually ends with its request.
	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		if err := n.publisher.Publish(ctx, routingKey, envelope); err != nil {
			observability.IncAMQPPublishError()
			n.logger.Warn("reward publish failed",
				zap.String("routing_key", routingKey),
				zap.Int64("user_id", userID),
				zap.Error(err))
		}
	}()
}
