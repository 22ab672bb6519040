package models

import (
	"time"
	"unicode/utf8"
)

// Status values visible to a message's sender.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

const previewLength = 100

// Message is a chat message. Delivered and Read only ever move from false to true.
type Message struct {
	ID             int64      `db:"id" json:"id"`
	ConversationID int64      `db:"conversation_id" json:"conversation_id"`
	SenderID       int64      `db:"sender_id" json:"sender_id"`
	Content        *string    `db:"content" json:"content"`
	Attachments    []string   `db:"-" json:"attachments"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	Delivered      bool       `db:"delivered" json:"-"`
	Read           bool       `db:"read" json:"-"`
	Edited         bool       `db:"edited" json:"edited"`
	EditedAt       *time.Time `db:"edited_at" json:"edited_at,omitempty"`
}

// Status derives the sender-facing status from the flags.
func (m Message) Status() string {
	switch {
	case m.Read:
		return StatusRead
	case m.Delivered:
		return StatusDelivered
	default:
		return StatusSent
	}
}

// Preview is the short text stored on the conversation after a new message.
func (m Message) Preview() string {
	if m.Content == nil || *m.Content == "" {
		if len(m.Attachments) > 0 {
			return "[attachment]"
		}
		return ""
	}
	content := *m.Content
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	return string([]rune(content)[:previewLength])
}

// MessageView is a message as shown to one viewer. Status is only set for the sender.
// ClientID echoes the sender's provisional id on the message:new that carries it.
type MessageView struct {
	Message
	Status   string `json:"status,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// ViewFor projects m for viewerID.
func (m Message) ViewFor(viewerID int64) MessageView {
	view := MessageView{Message: m}
	if m.SenderID == viewerID {
		view.Status = m.Status()
	}
	return view
}

// StatusChange describes one message whose flags moved forward.
type StatusChange struct {
	MessageID      int64 `db:"id"`
	ConversationID int64 `db:"conversation_id"`
	SenderID       int64 `db:"sender_id"`
}
