// Package chat holds the client side of conversations: the data gateway
// contract, the per-view controller and the rendering model.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/yuhueng/petbnb-pwa-sub001/internal/attachment"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

// Gateway is the data access the controller needs. Authorization is enforced
// by the backend: a conversation the caller is not part of looks missing.
type Gateway interface {
	// GetConversations lists the user's conversations. An empty role means any.
	GetConversations(ctx context.Context, userID int64, role models.Role) ([]models.ConversationSummary, error)
	// GetMessages returns the full history, oldest first.
	GetMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
	SendMessage(ctx context.Context, input SendInput) (*models.Message, error)
	// MarkAsRead marks messages not sent by userID as read. It is idempotent.
	MarkAsRead(ctx context.Context, conversationID, userID int64) error
	// SubscribeToMessages delivers every row inserted into the conversation,
	// the caller's own sends included. ctx bounds setup only.
	SubscribeToMessages(ctx context.Context, conversationID int64, onMessage func(models.Message)) (Subscription, error)
}

// Subscription ends a live feed. Unsubscribe may be called any number of times.
type Subscription interface {
	Unsubscribe()
}

// Interruptible is implemented by subscriptions whose feed can end without
// Unsubscribe, such as a socket the server closed. Ended delivers at most one
// error and is closed once the feed stops.
type Interruptible interface {
	Ended() <-chan error
}

// AttachmentUploader stores a file for a conversation before it is referenced
// by a message.
type AttachmentUploader interface {
	Upload(ctx context.Context, f *attachment.File, conversationID int64) (*attachment.Uploaded, error)
}

type SendInput struct {
	ConversationID int64
	SenderID       int64
	Content        string
	AttachmentURL  *string
	Metadata       *models.MessageMetadata
}

func (in SendInput) Validate() error {
	if in.ConversationID <= 0 {
		return fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	hasAttachment := in.AttachmentURL != nil && strings.TrimSpace(*in.AttachmentURL) != ""
	if strings.TrimSpace(in.Content) == "" && !hasAttachment {
		return fmt.Errorf("%w: message needs content or an attachment", ErrValidation)
	}
	if err := in.Metadata.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// FuncSubscription runs stop at most once.
type FuncSubscription struct {
	once sync.Once
	stop func()
}

func NewSubscription(stop func()) *FuncSubscription {
	return &FuncSubscription{stop: stop}
}

func (s *FuncSubscription) Unsubscribe() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}
