package repository

import (
	"context"

	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

type CreateMessageInput struct {
	ConversationID int64
	SenderID       int64
	Content        string
	AttachmentURL  *string
	Metadata       *models.MessageMetadata
}

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, conversation_id, sender_id, content, attachment_url, metadata, is_read, created_at`

func (r *MessageRepository) Create(ctx context.Context, input CreateMessageInput) (*models.Message, error) {
	metadata, err := models.EncodeMetadata(input.Metadata)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO messages (conversation_id, sender_id, content, attachment_url, metadata, is_read)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		RETURNING ` + messageColumns

	return scanMessage(r.db.QueryRow(
		ctx,
		query,
		input.ConversationID,
		input.SenderID,
		input.Content,
		input.AttachmentURL,
		metadata,
	))
}

// ListByConversation returns the full history oldest first. Rows sharing a
// timestamp keep insertion order through the id tie-break.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID int64) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

// MarkConversationRead flags every unread message not sent by readerID. It is
// idempotent and returns how many rows changed.
func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET is_read = TRUE
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND is_read = FALSE
	`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var message models.Message
	var metadata []byte
	if err := row.Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.Content,
		&message.AttachmentURL,
		&metadata,
		&message.IsRead,
		&message.CreatedAt,
	); err != nil {
		return nil, err
	}

	decoded, err := models.DecodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	message.Metadata = decoded
	return &message, nil
}
