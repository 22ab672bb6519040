package models

import "time"

// Outbound event types pushed to connected clients.
const (
	EventMessageNew                = "message:new"
	EventMessageAck                = "message:ack"
	EventMessageFailed             = "message:failed"
	EventMessageEdited             = "message:edited"
	EventMessageStatusUpdated      = "message:status_updated"
	EventConversationStatusUpdated = "conversation:status_updated"
	EventUserOnline                = "user:online"
	EventUserOffline               = "user:offline"
	EventUnreadCountUpdated        = "unread_count:updated"
	EventTypingUpdate              = "typing:update"
	EventError                     = "error"
)

// Event is the envelope of every frame exchanged over the WebSocket.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type MessageStatusPayload struct {
	MessageID      int64   `json:"messageId,omitempty"`
	MessageIDs     []int64 `json:"messageIds,omitempty"`
	ConversationID int64   `json:"conversationId"`
	Status         string  `json:"status"`
	UpdatedBy      int64   `json:"updatedBy"`
}

type ConversationStatusPayload struct {
	ConversationID int64  `json:"conversationId"`
	Status         string `json:"status"`
	Count          int    `json:"count"`
	UpdatedBy      int64  `json:"updatedBy"`
}

type UserPresencePayload struct {
	UserID int64  `json:"userId"`
	Reason string `json:"reason,omitempty"`
}

type UnreadCountPayload struct {
	ConversationID int64 `json:"conversationId,omitempty"`
	Count          int   `json:"count"`
	TotalCount     int   `json:"totalCount"`
}

type MessageAckPayload struct {
	ClientID string      `json:"clientId,omitempty"`
	Message  MessageView `json:"message"`
}

type MessageFailedPayload struct {
	ClientID string `json:"clientId,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error"`
}

type TypingPayload struct {
	ConversationID int64 `json:"conversationId"`
	UserID         int64 `json:"userId"`
	IsTyping       bool  `json:"isTyping"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PresenceStatus answers a presence query.
type PresenceStatus struct {
	UserID     int64     `json:"user_id"`
	IsOnline   bool      `json:"is_online"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`

	LastDisconnectReason string `json:"last_disconnect_reason,omitempty"`
}
