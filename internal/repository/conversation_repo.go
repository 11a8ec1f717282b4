package repository

import (
	"context"
	"database/sql"

	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) CreateOrGet(
	ctx context.Context,
	ownerID int64,
	sitterID int64,
) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (owner_id, sitter_id)
		VALUES ($1, $2)
		ON CONFLICT (owner_id, sitter_id)
		DO UPDATE SET updated_at = conversations.updated_at
		RETURNING id, owner_id, sitter_id, created_at, updated_at
	`
	return r.scanOne(ctx, query, ownerID, sitterID)
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := `
		SELECT id, owner_id, sitter_id, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`
	return r.scanOne(ctx, query, conversationID)
}

func (r *ConversationRepository) GetByIDForParticipant(
	ctx context.Context,
	conversationID int64,
	participantID int64,
) (*models.Conversation, error) {
	query := `
		SELECT id, owner_id, sitter_id, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND (owner_id = $2 OR sitter_id = $2)
	`
	return r.scanOne(ctx, query, conversationID, participantID)
}

// ListForParticipant returns the viewer's conversations, newest activity first.
// An empty role matches both sides; otherwise only conversations where the
// viewer holds that role are returned.
func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	participantID int64,
	role models.Role,
) ([]models.ConversationSummary, error) {
	query := `
		SELECT
			c.id,
			c.owner_id,
			c.sitter_id,
			c.created_at,
			c.updated_at,
			COALESCE(p.full_name, u.email),
			p.avatar_url,
			lm.id,
			lm.sender_id,
			lm.content,
			lm.attachment_url,
			lm.metadata,
			lm.is_read,
			lm.created_at,
			COALESCE(uc.unread_count, 0)
		FROM conversations c
		JOIN users u
			ON u.id = CASE WHEN c.owner_id = $1 THEN c.sitter_id ELSE c.owner_id END
		LEFT JOIN profiles p ON p.user_id = u.id
		LEFT JOIN LATERAL (
			SELECT id, sender_id, content, attachment_url, metadata, is_read, created_at
			FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) lm ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread_count
			FROM messages
			WHERE conversation_id = c.id
			  AND sender_id <> $1
			  AND is_read = FALSE
		) uc ON TRUE
		WHERE (
			($2 = '' AND (c.owner_id = $1 OR c.sitter_id = $1))
			OR ($2 = 'owner' AND c.owner_id = $1)
			OR ($2 = 'sitter' AND c.sitter_id = $1)
		)
		ORDER BY COALESCE(lm.created_at, c.updated_at, c.created_at) DESC, c.id DESC
	`

	rows, err := r.db.Query(ctx, query, participantID, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var summary models.ConversationSummary
		var messageID sql.NullInt64
		var messageSenderID sql.NullInt64
		var messageContent sql.NullString
		var messageAttachment *string
		var messageMetadata []byte
		var messageIsRead sql.NullBool
		var messageCreatedAt sql.NullTime

		if err := rows.Scan(
			&summary.ID,
			&summary.OwnerID,
			&summary.SitterID,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&summary.OtherParticipant.Name,
			&summary.OtherParticipant.AvatarURL,
			&messageID,
			&messageSenderID,
			&messageContent,
			&messageAttachment,
			&messageMetadata,
			&messageIsRead,
			&messageCreatedAt,
			&summary.UnreadCount,
		); err != nil {
			return nil, err
		}
		summary.OtherParticipant.ID = summary.OtherParticipantID(participantID)

		if messageID.Valid {
			metadata, err := models.DecodeMetadata(messageMetadata)
			if err != nil {
				return nil, err
			}
			summary.LastMessage = &models.Message{
				ID:             messageID.Int64,
				ConversationID: summary.ID,
				SenderID:       messageSenderID.Int64,
				Content:        messageContent.String,
				AttachmentURL:  messageAttachment,
				Metadata:       metadata,
				IsRead:         messageIsRead.Bool,
				CreatedAt:      messageCreatedAt.Time,
			}
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

func (r *ConversationRepository) Touch(ctx context.Context, conversationID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET updated_at = NOW()
		WHERE id = $1
	`, conversationID)
	return err
}

func (r *ConversationRepository) scanOne(ctx context.Context, query string, args ...any) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&conversation.ID,
		&conversation.OwnerID,
		&conversation.SitterID,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}
