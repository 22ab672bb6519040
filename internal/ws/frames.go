package ws

import (
	"encoding/json"
	"time"
)

// Inbound frame types.
const (
	FrameMessageSend      = "message:send"
	FrameMessageDelivered = "message:delivered"
	FrameMessageRead      = "message:read"
	FrameConversationRead = "conversation:read"
	FrameRoomJoin         = "room:join"
	FrameRoomLeave        = "room:leave"
	FrameTypingStart      = "typing:start"
	FrameTypingStop       = "typing:stop"
)

type inboundFrame struct {
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data"`
}

type sendFrame struct {
	ConversationID int64    `json:"conversationId" validate:"required,gt=0"`
	Content        *string  `json:"content"`
	Attachments    []string `json:"attachments" validate:"omitempty,dive,required"`
	ClientID       string   `json:"clientId" validate:"omitempty,max=128"`
}

type messageFrame struct {
	MessageID int64 `json:"messageId" validate:"required,gt=0"`
}

type conversationFrame struct {
	ConversationID int64      `json:"conversationId" validate:"required,gt=0"`
	UpTo           *time.Time `json:"upTo"`
}
