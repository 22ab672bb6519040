package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"convo-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// FlagUpdate requests flags to be set. Flags are never cleared; Read implies Delivered.
type FlagUpdate struct {
	Delivered bool
	Read      bool
}

// MessageRepository defines interactions for messages.
type MessageRepository interface {
	// CreateMessage stores msg, bumps the conversation activity and un-hides it for every participant.
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	ListMessages(ctx context.Context, conversationID int64, beforeID int64, limit int) ([]models.Message, error)
	// UpdateMessageFlags reports whether the row changed; false means the flags were already set.
	UpdateMessageFlags(ctx context.Context, messageID int64, update FlagUpdate) (bool, error)
	MarkReadUpTo(ctx context.Context, conversationID, readerID int64, upTo time.Time) ([]models.StatusChange, error)
	FindUndeliveredFor(ctx context.Context, userID int64, afterID int64, limit int) ([]models.Message, error)
	MarkDeliveredBatch(ctx context.Context, messageIDs []int64) ([]models.StatusChange, error)
	CountUnread(ctx context.Context, conversationID, userID int64) (int, error)
	EditMessage(ctx context.Context, messageID int64, content string, at time.Time) (models.Message, error)
}

const messageColumns = `id, conversation_id, sender_id, content, attachments, created_at, delivered, read, edited, edited_at`

type messageRow struct {
	ID             int64          `db:"id"`
	ConversationID int64          `db:"conversation_id"`
	SenderID       int64          `db:"sender_id"`
	Content        sql.NullString `db:"content"`
	Attachments    pq.StringArray `db:"attachments"`
	CreatedAt      time.Time      `db:"created_at"`
	Delivered      bool           `db:"delivered"`
	Read           bool           `db:"read"`
	Edited         bool           `db:"edited"`
	EditedAt       sql.NullTime   `db:"edited_at"`
}

func (r messageRow) toModel() models.Message {
	msg := models.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Attachments:    []string(r.Attachments),
		CreatedAt:      r.CreatedAt,
		Delivered:      r.Delivered,
		Read:           r.Read,
		Edited:         r.Edited,
	}
	if msg.Attachments == nil {
		msg.Attachments = []string{}
	}
	if r.Content.Valid {
		content := r.Content.String
		msg.Content = &content
	}
	if r.EditedAt.Valid {
		editedAt := r.EditedAt.Time
		msg.EditedAt = &editedAt
	}
	return msg
}

func toModels(rows []messageRow) []models.Message {
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toModel())
	}
	return msgs
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message in a conversation.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (created models.Message, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	attachments := msg.Attachments
	if attachments == nil {
		attachments = []string{}
	}

	var row messageRow
	if err = tx.GetContext(ctx, &row, `INSERT INTO messages (conversation_id, sender_id, content, attachments)
        VALUES ($1, $2, $3, $4) RETURNING `+messageColumns,
		msg.ConversationID, msg.SenderID, msg.Content, pq.StringArray(attachments)); err != nil {
		return models.Message{}, err
	}
	created = row.toModel()

	if _, err = tx.ExecContext(ctx, `UPDATE conversations SET last_activity_at=$2, last_message_preview=$3 WHERE id=$1`,
		created.ConversationID, created.CreatedAt, created.Preview()); err != nil {
		return models.Message{}, err
	}
	// Ensure the conversation becomes visible again for everyone once a new message is sent.
	if _, err = tx.ExecContext(ctx, `UPDATE participants SET hidden = FALSE WHERE conversation_id=$1 AND hidden = TRUE`, created.ConversationID); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return created, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

// ListMessages returns up to limit messages older than beforeID (0 = newest), oldest first.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID int64, beforeID int64, limit int) ([]models.Message, error) {
	var rows []messageRow
	query := `SELECT * FROM (
            SELECT ` + messageColumns + ` FROM messages
            WHERE conversation_id=$1 AND ($2::bigint = 0 OR id < $2)
            ORDER BY id DESC LIMIT $3
        ) page ORDER BY id ASC`
	if err := r.db.SelectContext(ctx, &rows, query, conversationID, beforeID, limit); err != nil {
		return nil, err
	}
	return toModels(rows), nil
}

// UpdateMessageFlags sets flags with OR-only semantics.
func (r *MessageRepo) UpdateMessageFlags(ctx context.Context, messageID int64, update FlagUpdate) (bool, error) {
	var query string
	switch {
	case update.Read:
		query = `UPDATE messages SET read = TRUE, delivered = TRUE WHERE id=$1 AND read = FALSE`
	case update.Delivered:
		query = `UPDATE messages SET delivered = TRUE WHERE id=$1 AND delivered = FALSE`
	default:
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, query, messageID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkReadUpTo marks every unread message from other senders created at or before upTo.
func (r *MessageRepo) MarkReadUpTo(ctx context.Context, conversationID, readerID int64, upTo time.Time) ([]models.StatusChange, error) {
	var changes []models.StatusChange
	err := r.db.SelectContext(ctx, &changes, `UPDATE messages SET read = TRUE, delivered = TRUE
        WHERE conversation_id=$1 AND sender_id<>$2 AND read = FALSE AND created_at <= $3
        RETURNING id, conversation_id, sender_id`, conversationID, readerID, upTo)
	return changes, err
}

// FindUndeliveredFor pages through messages addressed to userID that are not delivered yet.
func (r *MessageRepo) FindUndeliveredFor(ctx context.Context, userID int64, afterID int64, limit int) ([]models.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, `SELECT m.id, m.conversation_id, m.sender_id, m.content, m.attachments, m.created_at,
            m.delivered, m.read, m.edited, m.edited_at
        FROM messages m
        INNER JOIN participants p ON p.conversation_id = m.conversation_id AND p.user_id=$1
        WHERE m.sender_id<>$1 AND m.delivered = FALSE AND m.id > $2
        ORDER BY m.id ASC LIMIT $3`, userID, afterID, limit)
	if err != nil {
		return nil, err
	}
	return toModels(rows), nil
}

// MarkDeliveredBatch sets delivered on every listed message and returns the ones that changed.
func (r *MessageRepo) MarkDeliveredBatch(ctx context.Context, messageIDs []int64) ([]models.StatusChange, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var changes []models.StatusChange
	err := r.db.SelectContext(ctx, &changes, `UPDATE messages SET delivered = TRUE
        WHERE id = ANY($1) AND delivered = FALSE
        RETURNING id, conversation_id, sender_id`, pq.Array(messageIDs))
	return changes, err
}

// CountUnread is the authoritative unread count of a user in a conversation.
func (r *MessageRepo) CountUnread(ctx context.Context, conversationID, userID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE conversation_id=$1 AND sender_id<>$2 AND read = FALSE`, conversationID, userID)
	return count, err
}

// EditMessage replaces the content and sets the edited flag.
func (r *MessageRepo) EditMessage(ctx context.Context, messageID int64, content string, at time.Time) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `UPDATE messages SET content=$2, edited = TRUE, edited_at=$3 WHERE id=$1
        RETURNING `+messageColumns, messageID, content, at)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}
