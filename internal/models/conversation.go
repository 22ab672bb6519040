package models

import "time"

// ConversationKind distinguishes one-to-one from group conversations.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Conversation is a container of messages among a fixed participant set.
type Conversation struct {
	ID                 int64            `db:"id" json:"id"`
	Kind               ConversationKind `db:"kind" json:"kind"`
	Name               string           `db:"name" json:"name,omitempty"`
	AvatarURL          string           `db:"avatar_url" json:"avatar_url,omitempty"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	LastActivityAt     time.Time        `db:"last_activity_at" json:"last_activity_at"`
	LastMessagePreview string           `db:"last_message_preview" json:"last_message_preview,omitempty"`
}

// Participant links a user to a conversation.
type Participant struct {
	ConversationID int64      `db:"conversation_id" json:"conversation_id"`
	UserID         int64      `db:"user_id" json:"user_id"`
	LastReadAt     *time.Time `db:"last_read_at" json:"last_read_at,omitempty"`
	Hidden         bool       `db:"hidden" json:"hidden"`
}

// ConversationSummary is the per-user listing view of a conversation.
type ConversationSummary struct {
	Conversation
	ParticipantIDs []int64 `json:"participant_ids"`
	UnreadCount    int     `json:"unread_count"`
}

// DirectPair orders two user ids so that a pair has one canonical form.
func DirectPair(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}
