package repositories

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"convo-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSelfConversation     = errors.New("cannot create conversation with self")
)

// ConversationRepository abstracts conversation and participant persistence.
type ConversationRepository interface {
	CreateDirect(ctx context.Context, userID, peerID int64) (models.Conversation, error)
	CreateGroup(ctx context.Context, ownerID int64, name, avatarURL string, memberIDs []int64) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error)
	ListParticipants(ctx context.Context, conversationID int64) ([]models.Participant, error)
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	ListForUser(ctx context.Context, userID int64) ([]models.ConversationSummary, error)
	HideForUser(ctx context.Context, conversationID, userID int64) error
	UpdateLastRead(ctx context.Context, conversationID, userID int64, at time.Time) error
	Ping(ctx context.Context) error
}

const conversationColumns = `id, kind, COALESCE(name, '') AS name, COALESCE(avatar_url, '') AS avatar_url,
        created_at, last_activity_at, COALESCE(last_message_preview, '') AS last_message_preview`

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CreateDirect returns the direct conversation of the pair, creating it if needed.
// The unique (direct_low, direct_high) key makes concurrent callers converge on one row.
func (r *ConversationRepo) CreateDirect(ctx context.Context, userID, peerID int64) (conv models.Conversation, err error) {
	if userID == peerID {
		return models.Conversation{}, ErrSelfConversation
	}
	low, high := models.DirectPair(userID, peerID)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = tx.GetContext(ctx, &conv, `INSERT INTO conversations (kind, direct_low, direct_high) VALUES ('direct', $1, $2)
        ON CONFLICT (direct_low, direct_high) DO NOTHING
        RETURNING `+conversationColumns, low, high)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE direct_low=$1 AND direct_high=$2`, low, high)
	}
	if err != nil {
		return models.Conversation{}, err
	}

	for _, id := range []int64{low, high} {
		if _, err = tx.ExecContext(ctx, `INSERT INTO participants (conversation_id, user_id, hidden) VALUES ($1, $2, FALSE)
            ON CONFLICT (conversation_id, user_id) DO NOTHING`, conv.ID, id); err != nil {
			return models.Conversation{}, err
		}
	}
	// the caller asked for the conversation, so it becomes visible to them again
	if _, err = tx.ExecContext(ctx, `UPDATE participants SET hidden = FALSE WHERE conversation_id=$1 AND user_id=$2`, conv.ID, userID); err != nil {
		return models.Conversation{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// CreateGroup creates a group and its members atomically.
func (r *ConversationRepo) CreateGroup(ctx context.Context, ownerID int64, name, avatarURL string, memberIDs []int64) (conv models.Conversation, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = tx.GetContext(ctx, &conv, `INSERT INTO conversations (kind, name, avatar_url) VALUES ('group', $1, $2)
        RETURNING `+conversationColumns, name, avatarURL); err != nil {
		return models.Conversation{}, err
	}

	for _, id := range groupMembers(ownerID, memberIDs) {
		if _, err = tx.ExecContext(ctx, `INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2)`, conv.ID, id); err != nil {
			return models.Conversation{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListParticipants returns every participant of the conversation, hidden or not.
func (r *ConversationRepo) ListParticipants(ctx context.Context, conversationID int64) ([]models.Participant, error) {
	var participants []models.Participant
	err := r.db.SelectContext(ctx, &participants, `SELECT conversation_id, user_id, last_read_at, hidden
        FROM participants WHERE conversation_id=$1 ORDER BY user_id`, conversationID)
	return participants, err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	return exists, err
}

// ListForUser returns the conversations visible to the user, most recently active first.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT c.id, c.kind, COALESCE(c.name, '') AS name, COALESCE(c.avatar_url, '') AS avatar_url,
            c.created_at, c.last_activity_at, COALESCE(c.last_message_preview, '') AS last_message_preview,
            ARRAY(SELECT p2.user_id FROM participants p2 WHERE p2.conversation_id = c.id ORDER BY p2.user_id) AS participant_ids
        FROM conversations c
        INNER JOIN participants p ON p.conversation_id = c.id AND p.user_id=$1
        WHERE p.hidden = FALSE
        ORDER BY c.last_activity_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ConversationSummary
	for rows.Next() {
		var row struct {
			models.Conversation
			ParticipantIDs pq.Int64Array `db:"participant_ids"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		result = append(result, models.ConversationSummary{Conversation: row.Conversation, ParticipantIDs: row.ParticipantIDs})
	}
	return result, rows.Err()
}

// HideForUser marks a conversation hidden for the user. Messages are kept.
func (r *ConversationRepo) HideForUser(ctx context.Context, conversationID, userID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE participants SET hidden = TRUE WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// UpdateLastRead moves the participant's read marker forward, never backward.
func (r *ConversationRepo) UpdateLastRead(ctx context.Context, conversationID, userID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE participants SET last_read_at = GREATEST(COALESCE(last_read_at, $3), $3)
        WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID, at)
	return err
}

// Ping checks the database connection.
func (r *ConversationRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// groupMembers returns the sorted, deduplicated member set including the owner.
func groupMembers(ownerID int64, memberIDs []int64) []int64 {
	ids := lo.Uniq(append([]int64{ownerID}, memberIDs...))
	slices.Sort(ids)
	return ids
}
