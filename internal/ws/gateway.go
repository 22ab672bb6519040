package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"convo-service/internal/apperrors"
	"convo-service/internal/auth"
	"convo-service/internal/messaging"
	"convo-service/internal/models"
	"convo-service/internal/observability"
	"convo-service/internal/presence"
	"convo-service/internal/rabbitmq"
)

const lifecycleRoutingKey = "ws_events.connections"

// Messaging is the subset of the coordinator the gateway drives.
type Messaging interface {
	CreateMessage(ctx context.Context, in messaging.SendInput) (models.Message, error)
	MarkDelivered(ctx context.Context, messageID, userID int64) (models.Message, error)
	MarkRead(ctx context.Context, messageID, userID int64) (models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, userID int64, upTo time.Time) (int, error)
	Typing(ctx context.Context, conversationID, userID int64, isTyping bool) error
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	UnreadCounts(ctx context.Context, userID int64) (map[int64]int, int, error)
}

// Reconciler delivers the backlog of a user who just connected.
type Reconciler interface {
	Reconcile(ctx context.Context, userID int64) (messaging.ReconcileResult, error)
}

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int64, error)
}

// GatewayConfig tunes connection handling. A FrameRate <= 0 disables inbound rate limiting.
type GatewayConfig struct {
	SendBuffer      int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	FrameRate       float64
	FrameBurst      int
}

// Gateway upgrades authenticated requests and serves the event protocol on them.
type Gateway struct {
	hub        *Hub
	presence   *presence.Registry
	messaging  Messaging
	reconciler Reconciler
	tokens     TokenValidator
	events     rabbitmq.Publisher
	cfg        GatewayConfig
	validate   *validator.Validate
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewGateway constructs a Gateway. events may be nil.
func NewGateway(
	hub *Hub,
	registry *presence.Registry,
	msgs Messaging,
	reconciler Reconciler,
	tokens TokenValidator,
	events rabbitmq.Publisher,
	cfg GatewayConfig,
	logger *zap.Logger,
) *Gateway {
	return &Gateway{
		hub:        hub,
		presence:   registry,
		messaging:  msgs,
		reconciler: reconciler,
		tokens:     tokens,
		events:     events,
		cfg:        cfg,
		validate:   validator.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Handle authenticates, upgrades and starts serving the connection.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("convo-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, err := auth.TokenFromRequest(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := g.tokens.ValidateToken(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	meta := observability.ClientMetaFromRequest(c.Request)
	if meta.RequestID == "" {
		meta.RequestID = observability.RequestIDFromContext(ctx)
	}
	info := newConnInfo(userID, meta, span.SpanContext().TraceID().String())
	client := NewClient(conn, info, g.cfg.SendBuffer)
	if g.cfg.FrameRate > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(g.cfg.FrameRate), max(g.cfg.FrameBurst, 1))
	}
	logger := g.logger.With(zap.String("conn_id", info.ConnID), zap.Int64("user_id", userID))

	// The request context ends when Handle returns.
	session := observability.WithRequestID(context.WithoutCancel(ctx), info.RequestID)

	g.hub.Register(client)
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	g.publishLifecycle(session, "ws_connect", info, "")
	if g.presence.Connect(userID, info.ConnID) {
		g.hub.BroadcastAll(models.Event{
			Type: models.EventUserOnline,
			Data: models.UserPresencePayload{UserID: userID},
		}, userID)
	}

	go func() {
		defer conn.Close()
		client.writePump(g.cfg.WriteTimeout, g.cfg.PingInterval, func(err error) {
			logger.Debug("websocket write failed", zap.Error(err))
		})
	}()
	go g.serve(session, client, logger)
}

// serve catches the user up, then reads frames until the connection fails.
func (g *Gateway) serve(ctx context.Context, client *Client, logger *zap.Logger) {
	var closeReason string
	defer func() {
		g.hub.Unregister(client)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		g.publishLifecycle(ctx, "ws_disconnect", client.Info, closeReason)
		if g.presence.Disconnect(client.UserID(), client.ID(), closeReason) {
			g.hub.BroadcastAll(models.Event{
				Type: models.EventUserOffline,
				Data: models.UserPresencePayload{UserID: client.UserID(), Reason: closeReason},
			}, client.UserID())
		}
		logger.Debug("websocket closed", zap.String("reason", closeReason))
	}()

	g.catchUp(ctx, client, logger)

	conn := client.conn
	pongWait := 2 * g.cfg.PingInterval
	conn.SetReadLimit(g.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = "disconnect"
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				closeReason = "error"
				observability.IncWSEvent("ws_error")
				logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if !client.limiter.Allow() {
			observability.IncWSEvent("rate_limited")
			g.sendError(client, apperrors.Validation("rate limit exceeded"))
			continue
		}
		g.handleFrame(ctx, client, data)
	}
}

// catchUp delivers the offline backlog and pushes fresh unread counts.
func (g *Gateway) catchUp(ctx context.Context, client *Client, logger *zap.Logger) {
	res, err := g.reconciler.Reconcile(ctx, client.UserID())
	if err != nil {
		logger.Error("reconcile failed", zap.Error(err))
	} else if res.Delivered > 0 {
		logger.Debug("reconciled backlog", zap.Int("delivered", res.Delivered), zap.Bool("truncated", res.Truncated))
	}

	counts, total, err := g.messaging.UnreadCounts(ctx, client.UserID())
	if err != nil {
		logger.Error("unread recount failed", zap.Error(err))
		return
	}
	for conversationID, count := range counts {
		if count == 0 {
			continue
		}
		g.hub.SendToClient(client, models.Event{
			Type: models.EventUnreadCountUpdated,
			Data: models.UnreadCountPayload{ConversationID: conversationID, Count: count, TotalCount: total},
		})
	}
	g.hub.SendToClient(client, models.Event{
		Type: models.EventUnreadCountUpdated,
		Data: models.UnreadCountPayload{Count: total, TotalCount: total},
	})
}

func (g *Gateway) handleFrame(ctx context.Context, client *Client, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil || g.validate.Struct(frame) != nil {
		g.sendError(client, apperrors.Validation("malformed frame"))
		return
	}
	observability.IncWSEvent(frame.Type)
	userID := client.UserID()

	switch frame.Type {
	case FrameMessageSend:
		g.handleSend(ctx, client, frame.Data)

	case FrameMessageDelivered, FrameMessageRead:
		var in messageFrame
		if err := g.decode(frame.Data, &in); err != nil {
			g.sendError(client, err)
			return
		}
		var err error
		if frame.Type == FrameMessageDelivered {
			_, err = g.messaging.MarkDelivered(ctx, in.MessageID, userID)
		} else {
			_, err = g.messaging.MarkRead(ctx, in.MessageID, userID)
		}
		if err != nil {
			g.sendError(client, err)
		}

	case FrameConversationRead:
		var in conversationFrame
		if err := g.decode(frame.Data, &in); err != nil {
			g.sendError(client, err)
			return
		}
		var upTo time.Time
		if in.UpTo != nil {
			upTo = *in.UpTo
		}
		if _, err := g.messaging.MarkConversationRead(ctx, in.ConversationID, userID, upTo); err != nil {
			g.sendError(client, err)
		}

	case FrameRoomJoin:
		var in conversationFrame
		if err := g.decode(frame.Data, &in); err != nil {
			g.sendError(client, err)
			return
		}
		ok, err := g.messaging.IsParticipant(ctx, in.ConversationID, userID)
		if err != nil {
			g.sendError(client, err)
			return
		}
		if !ok {
			g.sendError(client, apperrors.Authorization("not a conversation participant"))
			return
		}
		g.hub.JoinRoom(client, in.ConversationID)

	case FrameRoomLeave:
		var in conversationFrame
		if err := g.decode(frame.Data, &in); err != nil {
			g.sendError(client, err)
			return
		}
		g.hub.LeaveRoom(client, in.ConversationID)

	case FrameTypingStart, FrameTypingStop:
		var in conversationFrame
		if err := g.decode(frame.Data, &in); err != nil {
			g.sendError(client, err)
			return
		}
		if err := g.messaging.Typing(ctx, in.ConversationID, userID, frame.Type == FrameTypingStart); err != nil {
			g.sendError(client, err)
		}

	default:
		g.sendError(client, apperrors.Validation("unknown frame type %q", frame.Type))
	}
}

// handleSend answers the sending connection with message:ack or message:failed.
func (g *Gateway) handleSend(ctx context.Context, client *Client, data json.RawMessage) {
	var in sendFrame
	if err := g.decode(data, &in); err != nil {
		g.sendFailed(client, in.ClientID, err)
		return
	}
	msg, err := g.messaging.CreateMessage(ctx, messaging.SendInput{
		ConversationID: in.ConversationID,
		SenderID:       client.UserID(),
		Content:        in.Content,
		Attachments:    in.Attachments,
		ClientID:       in.ClientID,
	})
	if err != nil {
		g.sendFailed(client, in.ClientID, err)
		return
	}
	view := msg.ViewFor(client.UserID())
	view.ClientID = in.ClientID
	g.hub.SendToClient(client, models.Event{
		Type: models.EventMessageAck,
		Data: models.MessageAckPayload{ClientID: in.ClientID, Message: view},
	})
}

func (g *Gateway) decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperrors.Validation("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.Validation("malformed data")
	}
	if err := g.validate.Struct(v); err != nil {
		return apperrors.Validation("%s", err.Error())
	}
	return nil
}

func (g *Gateway) sendFailed(client *Client, clientID string, err error) {
	g.logFailure(client, err)
	g.hub.SendToClient(client, models.Event{
		Type: models.EventMessageFailed,
		Data: models.MessageFailedPayload{
			ClientID: clientID,
			Status:   models.StatusFailed,
			Error:    apperrors.Message(err),
		},
	})
}

func (g *Gateway) sendError(client *Client, err error) {
	g.logFailure(client, err)
	g.hub.SendToClient(client, models.Event{
		Type: models.EventError,
		Data: models.ErrorPayload{
			Code:    string(apperrors.KindOf(err)),
			Message: apperrors.Message(err),
		},
	})
}

func (g *Gateway) logFailure(client *Client, err error) {
	if apperrors.KindOf(err) == apperrors.KindInternal {
		g.logger.Error("websocket request failed",
			zap.String("conn_id", client.ID()), zap.Int64("user_id", client.UserID()), zap.Error(err))
	}
}

func (g *Gateway) publishLifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	if g.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err := g.events.Publish(ctx, lifecycleRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   info.lifecyclePayload(event, reason),
	})
	if err != nil {
		observability.IncAMQPPublishError()
		g.logger.Warn("lifecycle publish failed", zap.String("event", event), zap.Error(err))
	}
}
