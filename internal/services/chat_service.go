package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/attachment"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/metrics"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/repository"
)

type conversationStore interface {
	CreateOrGet(ctx context.Context, ownerID int64, sitterID int64) (*models.Conversation, error)
	GetByIDForParticipant(ctx context.Context, conversationID int64, participantID int64) (*models.Conversation, error)
	ListForParticipant(ctx context.Context, participantID int64, role models.Role) ([]models.ConversationSummary, error)
}

type messageStore interface {
	ListByConversation(ctx context.Context, conversationID int64) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID int64, readerID int64) (int64, error)
}

type attachmentUploader interface {
	Upload(ctx context.Context, f *attachment.File, scopeID int64) (*attachment.Uploaded, error)
}

// Publisher pushes persisted messages to realtime subscribers.
type Publisher interface {
	Publish(ctx context.Context, delivery *ChatDelivery) error
}

type ChatDelivery struct {
	Conversation *models.Conversation
	Message      *models.Message
	RecipientID  int64
}

type SendMessageInput struct {
	ConversationID int64
	Content        string
	AttachmentURL  *string
	Metadata       *models.MessageMetadata
}

type ChatService struct {
	db               txStarter
	conversationRepo conversationStore
	messageRepo      messageStore
	userRepo         userReader
	uploader         attachmentUploader
	publisher        Publisher
	metrics          *metrics.Metrics
	log              zerolog.Logger
}

func NewChatService(
	db txStarter,
	conversationRepo conversationStore,
	messageRepo messageStore,
	userRepo userReader,
	uploader attachmentUploader,
	m *metrics.Metrics,
	log zerolog.Logger,
) *ChatService {
	if m == nil {
		m = metrics.Noop()
	}
	return &ChatService{
		db:               db,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		userRepo:         userRepo,
		uploader:         uploader,
		metrics:          m,
		log:              log.With().Str("component", "chat_service").Logger(),
	}
}

// SetPublisher wires the realtime fan-out. The hub needs the service to accept
// socket sends, so it is attached after both exist.
func (s *ChatService) SetPublisher(p Publisher) {
	s.publisher = p
}

func (s *ChatService) ListConversations(
	ctx context.Context,
	actorID int64,
	role models.Role,
) ([]models.ConversationSummary, error) {
	if actorID <= 0 {
		return nil, ErrForbidden
	}
	if role != "" && !role.Valid() {
		return nil, ErrInvalidInput
	}

	return s.conversationRepo.ListForParticipant(ctx, actorID, role)
}

// CreateConversation opens (or returns) the thread between the acting owner and
// a sitter.
func (s *ChatService) CreateConversation(
	ctx context.Context,
	actorID int64,
	sitterID int64,
) (*models.Conversation, error) {
	if sitterID <= 0 || sitterID == actorID {
		return nil, ErrInvalidInput
	}

	if _, err := s.userRepo.GetByID(ctx, sitterID); err != nil {
		if isNoRows(err) {
			return nil, ErrSitterNotFound
		}
		return nil, err
	}

	return s.conversationRepo.CreateOrGet(ctx, actorID, sitterID)
}

// ConversationForParticipant returns the conversation when actorID is on
// either side, ErrNotFound otherwise.
func (s *ChatService) ConversationForParticipant(
	ctx context.Context,
	actorID int64,
	conversationID int64,
) (*models.Conversation, error) {
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}
	conversation, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return conversation, nil
}

func (s *ChatService) ListMessages(
	ctx context.Context,
	actorID int64,
	conversationID int64,
) ([]models.Message, error) {
	if _, err := s.ConversationForParticipant(ctx, actorID, conversationID); err != nil {
		return nil, err
	}
	return s.messageRepo.ListByConversation(ctx, conversationID)
}

func validateSendInput(input *SendMessageInput) error {
	if input.ConversationID <= 0 {
		return ErrInvalidInput
	}
	input.Content = strings.TrimSpace(input.Content)
	if input.AttachmentURL != nil {
		trimmed := strings.TrimSpace(*input.AttachmentURL)
		if trimmed == "" {
			input.AttachmentURL = nil
		} else {
			input.AttachmentURL = &trimmed
		}
	}
	if input.Content == "" && input.AttachmentURL == nil {
		return ErrInvalidInput
	}
	if err := input.Metadata.Validate(); err != nil {
		return ErrInvalidInput
	}
	return nil
}

// SendMessage persists a message and bumps the conversation. Text and
// attachment travel together in one row. Realtime delivery happens after
// commit and never fails the send.
func (s *ChatService) SendMessage(
	ctx context.Context,
	actorID int64,
	input SendMessageInput,
) (*ChatDelivery, error) {
	if err := validateSendInput(&input); err != nil {
		return nil, err
	}

	conversation, err := s.conversationRepo.GetByIDForParticipant(ctx, input.ConversationID, actorID)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx)
	txConversationRepo := repository.NewConversationRepository(tx)

	message, err := txMessageRepo.Create(ctx, repository.CreateMessageInput{
		ConversationID: input.ConversationID,
		SenderID:       actorID,
		Content:        input.Content,
		AttachmentURL:  input.AttachmentURL,
		Metadata:       input.Metadata,
	})
	if err != nil {
		return nil, err
	}

	if err := txConversationRepo.Touch(ctx, input.ConversationID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	delivery := &ChatDelivery{
		Conversation: conversation,
		Message:      message,
		RecipientID:  conversation.OtherParticipantID(actorID),
	}
	s.metrics.MessagesSent.WithLabelValues(messageKind(message)).Inc()
	s.publish(ctx, delivery)

	return delivery, nil
}

func (s *ChatService) publish(ctx context.Context, delivery *ChatDelivery) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, delivery); err != nil {
		s.log.Warn().
			Err(err).
			Int64("conversation_id", delivery.Message.ConversationID).
			Int64("message_id", delivery.Message.ID).
			Msg("realtime publish failed")
	}
}

// MarkAsRead flags the other side's messages as read. Repeating it is harmless.
func (s *ChatService) MarkAsRead(
	ctx context.Context,
	actorID int64,
	conversationID int64,
) (int64, error) {
	if _, err := s.ConversationForParticipant(ctx, actorID, conversationID); err != nil {
		return 0, err
	}

	updated, err := s.messageRepo.MarkConversationRead(ctx, conversationID, actorID)
	if err != nil {
		return 0, err
	}
	s.metrics.ReadReceipts.Inc()
	return updated, nil
}

// UploadAttachment stores a file for later use in SendMessage. Invalid files
// come back as attachment.ErrInvalidFile and nothing is uploaded.
func (s *ChatService) UploadAttachment(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	file *attachment.File,
) (*attachment.Uploaded, error) {
	if s.uploader == nil {
		return nil, ErrStorageUnavailable
	}
	if _, err := s.ConversationForParticipant(ctx, actorID, conversationID); err != nil {
		return nil, err
	}

	uploaded, err := s.uploader.Upload(ctx, file, conversationID)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, attachment.ErrInvalidFile) {
			outcome = "rejected"
		}
		s.metrics.AttachmentsUploaded.WithLabelValues(outcome).Inc()
		return nil, err
	}
	s.metrics.AttachmentsUploaded.WithLabelValues("ok").Inc()
	return uploaded, nil
}

func messageKind(message *models.Message) string {
	switch {
	case message.Metadata != nil && message.Metadata.Kind == models.MetadataBookingRequest:
		return "booking_request"
	case message.AttachmentURL != nil:
		return "attachment"
	default:
		return "text"
	}
}

func FormatChatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
