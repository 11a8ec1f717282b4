package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/services"
)

type fakeConn struct {
	incoming chan []byte
	written  chan []byte
	once     sync.Once
	closed   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 8),
		written:  make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case payload, ok := <-c.incoming:
		if !ok {
			return 0, nil, errors.New("connection closed")
		}
		return 1, payload, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.written <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type hubChatService struct {
	hub          *Hub
	conversation models.Conversation
	nextID       int64
}

func (s *hubChatService) ConversationForParticipant(_ context.Context, actorID int64, conversationID int64) (*models.Conversation, error) {
	if conversationID != s.conversation.ID || !s.conversation.HasParticipant(actorID) {
		return nil, services.ErrNotFound
	}
	conversation := s.conversation
	return &conversation, nil
}

func (s *hubChatService) SendMessage(ctx context.Context, actorID int64, input services.SendMessageInput) (*services.ChatDelivery, error) {
	if input.Content == "" && input.AttachmentURL == nil {
		return nil, services.ErrInvalidInput
	}
	if _, err := s.ConversationForParticipant(ctx, actorID, input.ConversationID); err != nil {
		return nil, services.ErrForbidden
	}
	s.nextID++
	conversation := s.conversation
	delivery := &services.ChatDelivery{
		Conversation: &conversation,
		Message: &models.Message{
			ID:             s.nextID,
			ConversationID: input.ConversationID,
			SenderID:       actorID,
			Content:        input.Content,
			CreatedAt:      time.Now().UTC(),
		},
		RecipientID: conversation.OtherParticipantID(actorID),
	}
	return delivery, s.hub.Publish(ctx, delivery)
}

func nextFrame(t *testing.T, conn *fakeConn) Event {
	t.Helper()
	select {
	case payload := <-conn.written:
		var event Event
		require.NoError(t, json.Unmarshal(payload, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Event{}
	}
}

func startClient(t *testing.T, hub *Hub, service chatService, userID int64) (*fakeConn, chan struct{}) {
	t.Helper()
	conn := newFakeConn()
	client := NewClient(hub, conn, userID, service, zerolog.Nop())
	done := make(chan struct{})
	go client.WritePump()
	go func() {
		client.ReadPump(context.Background())
		close(done)
	}()
	return conn, done
}

func TestClientSubscribeAndSendEchoesToBothSides(t *testing.T) {
	hub, m := startHub(t)
	service := &hubChatService{hub: hub, conversation: models.Conversation{ID: 9, OwnerID: 1, SitterID: 2}}

	owner, ownerDone := startClient(t, hub, service, 1)
	sitter, _ := startClient(t, hub, service, 2)

	owner.incoming <- []byte(`{"type":"subscribe","conversation_id":9}`)
	ack := nextFrame(t, owner)
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, "conversation:9", ack.Topic)

	sitter.incoming <- []byte(`{"type":"subscribe_pair","peer_id":1}`)
	ack = nextFrame(t, sitter)
	assert.Equal(t, "pair:1:2", ack.Topic)

	owner.incoming <- []byte(`{"type":"message","conversation_id":9,"content":"Rex says hi"}`)

	for _, conn := range []*fakeConn{owner, sitter} {
		event := nextFrame(t, conn)
		assert.Equal(t, "message", event.Type)
		require.NotNil(t, event.Message)
		assert.Equal(t, "Rex says hi", event.Message.Content)
		assert.Equal(t, int64(1), event.Message.SenderID)
	}

	close(owner.incoming)
	<-ownerDone
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ActiveSubscriptions) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestClientRejectsForeignConversationAndBadFrames(t *testing.T) {
	hub, m := startHub(t)
	service := &hubChatService{hub: hub, conversation: models.Conversation{ID: 9, OwnerID: 1, SitterID: 2}}
	conn, _ := startClient(t, hub, service, 3)

	conn.incoming <- []byte(`{"type":"subscribe","conversation_id":9}`)
	assert.Equal(t, "conversation not found", nextFrame(t, conn).Error)

	conn.incoming <- []byte(`not json`)
	assert.Equal(t, "invalid message payload", nextFrame(t, conn).Error)

	conn.incoming <- []byte(`{"type":"typing"}`)
	assert.Equal(t, "unsupported message type", nextFrame(t, conn).Error)

	conn.incoming <- []byte(`{"type":"message","conversation_id":9,"content":"let me in"}`)
	assert.Equal(t, "forbidden", nextFrame(t, conn).Error)

	conn.incoming <- []byte(`{"type":"subscribe_pair","peer_id":3}`)
	assert.Equal(t, "invalid peer id", nextFrame(t, conn).Error)

	assert.Zero(t, testutil.ToFloat64(m.ActiveSubscriptions))
}

func TestClientResubscribeKeepsSingleSubscription(t *testing.T) {
	hub, m := startHub(t)
	service := &hubChatService{hub: hub, conversation: models.Conversation{ID: 9, OwnerID: 1, SitterID: 2}}
	conn, _ := startClient(t, hub, service, 1)

	conn.incoming <- []byte(`{"type":"subscribe","conversation_id":9}`)
	nextFrame(t, conn)
	conn.incoming <- []byte(`{"type":"subscribe_pair","peer_id":2}`)
	nextFrame(t, conn)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ActiveSubscriptions) == 1
	}, time.Second, 10*time.Millisecond)

	conn.incoming <- []byte(`{"type":"unsubscribe"}`)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ActiveSubscriptions) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestClientClosesSlowSocketInsteadOfDroppingFrames(t *testing.T) {
	hub, m := startHub(t)
	service := &hubChatService{hub: hub, conversation: models.Conversation{ID: 9, OwnerID: 1, SitterID: 2}}
	conn := newFakeConn()
	client := NewClient(hub, conn, 2, service, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		client.ReadPump(context.Background())
		close(done)
	}()

	conn.incoming <- []byte(`{"type":"subscribe","conversation_id":9}`)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ActiveSubscriptions) == 1
	}, time.Second, 10*time.Millisecond)

	const published = 40
	for i := 0; i < published; i++ {
		require.NoError(t, hub.Publish(context.Background(), delivery(9, 1, 2, "spam")))
	}
	select {
	case <-client.aborted:
	case <-time.After(time.Second):
		t.Fatal("socket kept running with a full queue")
	}

	go client.WritePump()

	messages := 0
	var reason string
	for reason == "" {
		event := nextFrame(t, conn)
		switch event.Type {
		case "message":
			messages++
		case "error":
			reason = event.Error
		}
	}
	assert.Equal(t, feedLost, reason)
	assert.Less(t, messages, published)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read pump still running after abort")
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ActiveSubscriptions) == 0
	}, time.Second, 10*time.Millisecond)
}
