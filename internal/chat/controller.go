package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/attachment"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

const readReceiptTimeout = 10 * time.Second

type State int

const (
	StateIdle State = iota
	StateListLoading
	StateListLoaded
	StateMessagesLoading
	StateMessagesLoaded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListLoading:
		return "list_loading"
	case StateListLoaded:
		return "list_loaded"
	case StateMessagesLoading:
		return "messages_loading"
	case StateMessagesLoaded:
		return "messages_loaded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	Session  SessionProvider
	Gateway  Gateway
	Uploader AttachmentUploader
	Notifier Notifier
	Logger   zerolog.Logger
	// RoleFilter limits the conversation list to one side. Empty lists both.
	RoleFilter models.Role
	// OnChange runs after the open conversation's messages change. It is
	// called without the controller lock held, possibly from a feed goroutine.
	OnChange func()
}

// Controller drives one conversation view. Realtime callbacks arrive on
// subscription goroutines, so all state sits behind mu and is never held
// across a gateway call.
type Controller struct {
	session    SessionProvider
	gateway    Gateway
	uploader   AttachmentUploader
	notifier   Notifier
	log        zerolog.Logger
	roleFilter models.Role
	onChange   func()

	mu            sync.Mutex
	state         State
	userID        int64
	conversations []models.ConversationSummary
	selectedID    int64
	generation    uint64
	messages      []models.Message
	seen          map[int64]struct{}
	sub           Subscription
	sending       bool

	background sync.WaitGroup
}

func NewController(opts Options) *Controller {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(opts.Logger)
	}
	return &Controller{
		session:    opts.Session,
		gateway:    opts.Gateway,
		uploader:   opts.Uploader,
		notifier:   notifier,
		log:        opts.Logger.With().Str("component", "chat_controller").Logger(),
		roleFilter: opts.RoleFilter,
		onChange:   opts.OnChange,
		seen:       make(map[int64]struct{}),
	}
}

// Mount resolves the user and loads the conversation list.
func (c *Controller) Mount(ctx context.Context) error {
	userID, err := c.session.UserID(ctx)
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			c.notifier.LoginRequired()
		}
		return fmt.Errorf("resolve session: %w", err)
	}

	c.mu.Lock()
	c.userID = userID
	c.state = StateListLoading
	c.mu.Unlock()

	return c.loadConversations(ctx, false)
}

// Refresh reloads the conversation list without touching the selection. A
// failed refresh keeps the list already shown.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.loadConversations(ctx, true)
}

func (c *Controller) loadConversations(ctx context.Context, keepOnError bool) error {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()
	if userID == 0 {
		c.notifier.LoginRequired()
		return ErrNotAuthenticated
	}

	conversations, err := c.gateway.GetConversations(ctx, userID, c.roleFilter)

	c.mu.Lock()
	if c.state == StateListLoading {
		c.state = StateListLoaded
	}
	if err != nil {
		if !keepOnError {
			c.conversations = nil
		}
		c.mu.Unlock()
		c.reportError("Failed to load conversations", err)
		return fmt.Errorf("load conversations: %w", err)
	}
	c.conversations = conversations
	if c.selectedID != 0 && c.state == StateMessagesLoaded {
		c.clearUnreadLocked(c.selectedID)
	}
	c.mu.Unlock()
	return nil
}

// Select opens a conversation: history first, then the live feed. A response
// that arrives after the user picked something else is dropped.
func (c *Controller) Select(ctx context.Context, conversationID int64) error {
	c.mu.Lock()
	if c.userID == 0 {
		c.mu.Unlock()
		c.notifier.LoginRequired()
		return ErrNotAuthenticated
	}
	old := c.sub
	c.sub = nil
	c.generation++
	generation := c.generation
	c.selectedID = conversationID
	c.state = StateMessagesLoading
	c.messages = nil
	c.seen = make(map[int64]struct{})
	userID := c.userID
	c.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}

	history, err := c.gateway.GetMessages(ctx, conversationID)

	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		c.log.Debug().Int64("conversation_id", conversationID).Msg("discarding stale history")
		return nil
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
			c.state = StateMessagesLoaded
			c.mu.Unlock()
			return fmt.Errorf("load messages: %w", err)
		default:
			c.selectedID = 0
			c.state = StateListLoaded
			c.mu.Unlock()
			c.reportError("Failed to load messages", err)
			return fmt.Errorf("load messages: %w", err)
		}
	}
	for _, msg := range history {
		c.appendLocked(msg)
	}
	c.clearUnreadLocked(conversationID)
	c.mu.Unlock()

	sub, err := c.gateway.SubscribeToMessages(ctx, conversationID, func(msg models.Message) {
		c.receive(generation, msg)
	})

	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		return nil
	}
	c.state = StateMessagesLoaded
	if err == nil {
		c.sub = sub
	}
	c.mu.Unlock()

	if err != nil {
		c.reportError("Live updates are unavailable", err)
	} else if feed, ok := sub.(Interruptible); ok {
		c.watchFeed(generation, sub, feed)
	}
	c.markAsRead(conversationID, userID)
	c.changed()
	return nil
}

// Deselect closes the live feed and returns to the list.
func (c *Controller) Deselect() {
	c.mu.Lock()
	old := c.sub
	c.sub = nil
	c.generation++
	c.selectedID = 0
	c.messages = nil
	c.seen = make(map[int64]struct{})
	if c.state == StateMessagesLoading || c.state == StateMessagesLoaded {
		c.state = StateListLoaded
	}
	c.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}
}

// Close unsubscribes and waits for outstanding read receipts.
func (c *Controller) Close() {
	c.Deselect()
	c.background.Wait()
}

// Send uploads the attachment, if any, and posts text and attachment as one
// message. The compose form is cleared only on success.
func (c *Controller) Send(ctx context.Context, compose *Compose) (*models.Message, error) {
	if compose == nil || compose.Empty() {
		return nil, fmt.Errorf("%w: message is empty", ErrValidation)
	}

	c.mu.Lock()
	if c.selectedID == 0 || c.state != StateMessagesLoaded {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: no conversation selected", ErrValidation)
	}
	if c.sending {
		c.mu.Unlock()
		return nil, ErrSendInFlight
	}
	c.sending = true
	conversationID := c.selectedID
	generation := c.generation
	input := SendInput{
		ConversationID: conversationID,
		SenderID:       c.userID,
		Content:        strings.TrimSpace(compose.Text()),
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
	}()

	if file := compose.Attachment(); file != nil {
		if err := attachment.ValidateFile(file); err != nil {
			c.notifier.Toast("Attachment rejected", err)
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if c.uploader == nil {
			err := errors.New("attachments are not supported")
			c.notifier.Toast("Failed to upload attachment", err)
			return nil, err
		}
		uploaded, err := c.uploader.Upload(ctx, file, conversationID)
		if err != nil {
			c.notifier.Toast("Failed to upload attachment", err)
			return nil, fmt.Errorf("upload attachment: %w", err)
		}
		url := uploaded.URL
		input.AttachmentURL = &url
		input.Metadata = models.FileAttachmentMeta(uploaded.Metadata)
	}

	if err := input.Validate(); err != nil {
		c.notifier.Toast("Message rejected", err)
		return nil, err
	}

	sent, err := c.gateway.SendMessage(ctx, input)
	if err != nil {
		c.reportError("Failed to send message", err)
		return nil, fmt.Errorf("send message: %w", err)
	}

	// A selection made since the send started reloads history, which carries
	// the row in order.
	c.mu.Lock()
	appended := false
	if c.generation == generation {
		appended = c.appendLocked(*sent)
	}
	c.touchSummaryLocked(*sent)
	c.mu.Unlock()

	compose.Reset()
	if appended {
		c.changed()
	}
	return sent, nil
}

func (c *Controller) receive(generation uint64, msg models.Message) {
	c.mu.Lock()
	if generation != c.generation || msg.ConversationID != c.selectedID {
		c.mu.Unlock()
		return
	}
	appended := c.appendLocked(msg)
	if appended {
		c.touchSummaryLocked(msg)
	}
	userID := c.userID
	c.mu.Unlock()

	if !appended {
		return
	}
	if msg.SenderID != userID {
		c.markAsRead(msg.ConversationID, userID)
	}
	c.changed()
}

// watchFeed reports a live feed that ends while its conversation is still
// open. Messages already shown stay.
func (c *Controller) watchFeed(generation uint64, sub Subscription, feed Interruptible) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		err, ok := <-feed.Ended()
		if !ok || err == nil {
			return
		}

		c.mu.Lock()
		current := generation == c.generation && c.sub == sub
		if current {
			c.sub = nil
		}
		c.mu.Unlock()
		if !current {
			return
		}

		c.log.Warn().Err(err).Msg("message feed ended")
		sub.Unsubscribe()
		c.reportError("Live updates are unavailable", err)
	}()
}

func (c *Controller) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

// appendLocked adds msg unless its id is already shown.
func (c *Controller) appendLocked(msg models.Message) bool {
	if _, ok := c.seen[msg.ID]; ok {
		return false
	}
	c.seen[msg.ID] = struct{}{}
	c.messages = append(c.messages, msg)
	return true
}

func (c *Controller) touchSummaryLocked(msg models.Message) {
	for i := range c.conversations {
		if c.conversations[i].ID == msg.ConversationID {
			last := msg
			c.conversations[i].LastMessage = &last
			c.conversations[i].UnreadCount = 0
			return
		}
	}
}

func (c *Controller) clearUnreadLocked(conversationID int64) {
	for i := range c.conversations {
		if c.conversations[i].ID == conversationID {
			c.conversations[i].UnreadCount = 0
			return
		}
	}
}

// markAsRead never blocks the caller. Failures are only logged.
func (c *Controller) markAsRead(conversationID, userID int64) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), readReceiptTimeout)
		defer cancel()
		if err := c.gateway.MarkAsRead(ctx, conversationID, userID); err != nil {
			c.log.Warn().Err(err).Int64("conversation_id", conversationID).Msg("mark as read failed")
		}
	}()
}

func (c *Controller) reportError(message string, err error) {
	if errors.Is(err, ErrNotAuthenticated) {
		c.notifier.LoginRequired()
		return
	}
	c.notifier.Toast(message, err)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Controller) Conversations() []models.ConversationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ConversationSummary, len(c.conversations))
	copy(out, c.conversations)
	return out
}

func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Selected returns the open conversation, if any.
func (c *Controller) Selected() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedID, c.selectedID != 0
}

// Items renders the open conversation.
func (c *Controller) Items(loc *time.Location) []DisplayItem {
	c.mu.Lock()
	messages := make([]models.Message, len(c.messages))
	copy(messages, c.messages)
	userID := c.userID
	var other models.Participant
	for _, conv := range c.conversations {
		if conv.ID == c.selectedID {
			other = conv.OtherParticipant
			break
		}
	}
	c.mu.Unlock()

	return RenderItemsIn(messages, userID, other, loc)
}
