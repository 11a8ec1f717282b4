// Package chattest provides an in-memory chat backend for tests. Realtime
// fan-out is synchronous: subscribers are called before SendMessage returns.
package chattest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/yuhueng/petbnb-pwa-sub001/internal/attachment"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/chat"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

type Op string

const (
	OpGetConversations Op = "get_conversations"
	OpGetMessages      Op = "get_messages"
	OpSendMessage      Op = "send_message"
	OpMarkAsRead       Op = "mark_as_read"
	OpSubscribe        Op = "subscribe"
	OpUpload           Op = "upload"
)

var baseTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type Backend struct {
	mu            sync.Mutex
	users         map[int64]models.Participant
	conversations map[int64]models.Conversation
	messages      map[int64][]models.Message
	subscribers   map[int64]map[int]func(models.Message)
	objects       map[string][]byte
	failures      map[Op]error
	calls         map[Op]int
	gates         map[int64]chan struct{}
	nextMessageID int64
	nextSubID     int
}

func NewBackend() *Backend {
	return &Backend{
		users:         make(map[int64]models.Participant),
		conversations: make(map[int64]models.Conversation),
		messages:      make(map[int64][]models.Message),
		subscribers:   make(map[int64]map[int]func(models.Message)),
		objects:       make(map[string][]byte),
		failures:      make(map[Op]error),
		calls:         make(map[Op]int),
		gates:         make(map[int64]chan struct{}),
	}
}

func (b *Backend) AddUser(id int64, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[id] = models.Participant{ID: id, Name: name}
}

func (b *Backend) AddConversation(id, ownerID, sitterID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[id] = models.Conversation{
		ID:        id,
		OwnerID:   ownerID,
		SitterID:  sitterID,
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
}

// Fail makes every later call of op return err. A nil err clears it.
func (b *Backend) Fail(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, op)
		return
	}
	b.failures[op] = err
}

func (b *Backend) Calls(op Op) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// Gate holds GetMessages for the conversation until the returned func runs.
func (b *Backend) Gate(conversationID int64) (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.gates[conversationID] = gate
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.gates, conversationID)
			b.mu.Unlock()
			close(gate)
		})
	}
}

// Messages returns the stored history of a conversation.
func (b *Backend) Messages(conversationID int64) []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Message, len(b.messages[conversationID]))
	copy(out, b.messages[conversationID])
	return out
}

// Insert stores a message as if another client had sent it and fans it out.
func (b *Backend) Insert(msg models.Message) models.Message {
	b.mu.Lock()
	stored := b.insertLocked(msg)
	listeners := b.listenersLocked(msg.ConversationID)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(stored)
	}
	return stored
}

// Redeliver replays an already stored message to subscribers, the way an
// at-least-once feed may.
func (b *Backend) Redeliver(msg models.Message) {
	b.mu.Lock()
	listeners := b.listenersLocked(msg.ConversationID)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(msg)
	}
}

func (b *Backend) Subscribers(conversationID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[conversationID])
}

// Objects returns the number of stored uploads.
func (b *Backend) Objects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// UnreadCount is what userID would see on the conversation list.
func (b *Backend) UnreadCount(conversationID, userID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unreadLocked(conversationID, userID)
}

// Gateway returns a gateway acting as userID. Zero acts signed out.
func (b *Backend) Gateway(userID int64) *Gateway {
	return &Gateway{backend: b, userID: userID}
}

// Uploader stores attachments in memory under chat/<conversation id>/.
func (b *Backend) Uploader() *attachment.StorageUploader {
	return attachment.NewStorageUploader(objectStore{backend: b}, "chat")
}

func (b *Backend) begin(op Op) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[op]++
	return b.failures[op]
}

func (b *Backend) insertLocked(msg models.Message) models.Message {
	b.nextMessageID++
	msg.ID = b.nextMessageID
	msg.IsRead = false
	msg.CreatedAt = baseTime.Add(time.Duration(b.nextMessageID) * time.Minute)
	b.messages[msg.ConversationID] = append(b.messages[msg.ConversationID], msg)

	if conv, ok := b.conversations[msg.ConversationID]; ok {
		conv.UpdatedAt = msg.CreatedAt
		b.conversations[msg.ConversationID] = conv
	}
	return msg
}

func (b *Backend) listenersLocked(conversationID int64) []func(models.Message) {
	subs := b.subscribers[conversationID]
	ids := make([]int, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]func(models.Message), 0, len(ids))
	for _, id := range ids {
		out = append(out, subs[id])
	}
	return out
}

func (b *Backend) unreadLocked(conversationID, userID int64) int {
	count := 0
	for _, msg := range b.messages[conversationID] {
		if msg.SenderID != userID && !msg.IsRead {
			count++
		}
	}
	return count
}

// Gateway implements chat.Gateway for one user.
type Gateway struct {
	backend *Backend
	userID  int64
}

var _ chat.Gateway = (*Gateway)(nil)

func (g *Gateway) GetConversations(_ context.Context, userID int64, role models.Role) ([]models.ConversationSummary, error) {
	if err := g.backend.begin(OpGetConversations); err != nil {
		return nil, err
	}
	if g.userID == 0 {
		return nil, chat.ErrNotAuthenticated
	}
	if userID != g.userID {
		return nil, chat.ErrForbidden
	}

	b := g.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	summaries := make([]models.ConversationSummary, 0)
	for _, conv := range b.conversations {
		if !conv.HasParticipant(userID) {
			continue
		}
		if role != "" && conv.RoleOf(userID) != role {
			continue
		}
		summary := models.ConversationSummary{
			Conversation:     conv,
			OtherParticipant: b.users[conv.OtherParticipantID(userID)],
			UnreadCount:      b.unreadLocked(conv.ID, userID),
		}
		if history := b.messages[conv.ID]; len(history) > 0 {
			last := history[len(history)-1]
			summary.LastMessage = &last
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func (g *Gateway) GetMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	if err := g.backend.begin(OpGetMessages); err != nil {
		return nil, err
	}
	if g.userID == 0 {
		return nil, chat.ErrNotAuthenticated
	}

	b := g.backend
	b.mu.Lock()
	gate := b.gates[conversationID]
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", chat.ErrNetwork, ctx.Err())
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	conv, ok := b.conversations[conversationID]
	if !ok || !conv.HasParticipant(g.userID) {
		return nil, chat.ErrNotFound
	}
	out := make([]models.Message, len(b.messages[conversationID]))
	copy(out, b.messages[conversationID])
	return out, nil
}

func (g *Gateway) SendMessage(_ context.Context, input chat.SendInput) (*models.Message, error) {
	if err := g.backend.begin(OpSendMessage); err != nil {
		return nil, err
	}
	if g.userID == 0 {
		return nil, chat.ErrNotAuthenticated
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	b := g.backend
	b.mu.Lock()
	conv, ok := b.conversations[input.ConversationID]
	if !ok || !conv.HasParticipant(g.userID) || input.SenderID != g.userID {
		b.mu.Unlock()
		return nil, chat.ErrForbidden
	}
	stored := b.insertLocked(models.Message{
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		Content:        input.Content,
		AttachmentURL:  input.AttachmentURL,
		Metadata:       input.Metadata,
	})
	listeners := b.listenersLocked(input.ConversationID)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(stored)
	}
	return &stored, nil
}

func (g *Gateway) MarkAsRead(_ context.Context, conversationID, userID int64) error {
	if err := g.backend.begin(OpMarkAsRead); err != nil {
		return err
	}
	if g.userID == 0 {
		return chat.ErrNotAuthenticated
	}

	b := g.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	conv, ok := b.conversations[conversationID]
	if !ok || !conv.HasParticipant(userID) || userID != g.userID {
		return chat.ErrNotFound
	}
	history := b.messages[conversationID]
	for i := range history {
		if history[i].SenderID != userID {
			history[i].IsRead = true
		}
	}
	return nil
}

func (g *Gateway) SubscribeToMessages(_ context.Context, conversationID int64, onMessage func(models.Message)) (chat.Subscription, error) {
	if err := g.backend.begin(OpSubscribe); err != nil {
		return nil, err
	}
	if g.userID == 0 {
		return nil, chat.ErrNotAuthenticated
	}

	b := g.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	conv, ok := b.conversations[conversationID]
	if !ok || !conv.HasParticipant(g.userID) {
		return nil, chat.ErrNotFound
	}

	b.nextSubID++
	id := b.nextSubID
	if b.subscribers[conversationID] == nil {
		b.subscribers[conversationID] = make(map[int]func(models.Message))
	}
	b.subscribers[conversationID][id] = onMessage

	return chat.NewSubscription(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers[conversationID], id)
	}), nil
}

type objectStore struct {
	backend *Backend
}

func (s objectStore) UploadFile(_ context.Context, body io.Reader, _ int64, _ string, filename string, folder string) (string, error) {
	if err := s.backend.begin(OpUpload); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", err
	}
	key := folder + "/" + filename

	s.backend.mu.Lock()
	s.backend.objects[key] = buf.Bytes()
	s.backend.mu.Unlock()
	return "memory://" + key, nil
}
