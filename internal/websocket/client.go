package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/services"
)

const feedLost = "message feed interrupted"

// Conn is the part of a websocket connection the client pumps use.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type chatService interface {
	ConversationForParticipant(ctx context.Context, actorID int64, conversationID int64) (*models.Conversation, error)
	SendMessage(ctx context.Context, actorID int64, input services.SendMessageInput) (*services.ChatDelivery, error)
}

// Client is one socket. It holds at most one hub subscription at a time.
type Client struct {
	hub     *Hub
	conn    Conn
	userID  int64
	service chatService
	send    chan []byte
	log     zerolog.Logger

	sub     *Subscriber
	stopSub chan struct{}
	forward sync.WaitGroup

	abortOnce sync.Once
	aborted   chan struct{}
	reason    string
}

// frame is what clients send. Unused fields stay zero.
type frame struct {
	Type           string                  `json:"type"`
	ConversationID int64                   `json:"conversation_id"`
	PeerID         int64                   `json:"peer_id"`
	Content        string                  `json:"content"`
	AttachmentURL  *string                 `json:"attachment_url"`
	Metadata       *models.MessageMetadata `json:"metadata"`
}

func NewClient(hub *Hub, conn Conn, userID int64, service chatService, log zerolog.Logger) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		userID:  userID,
		service: service,
		send:    make(chan []byte, subscriberBuffer),
		aborted: make(chan struct{}),
		log:     log.With().Str("component", "chat_socket").Int64("user_id", userID).Logger(),
	}
}

// ReadPump handles client frames until the connection fails. It owns the
// subscription and closes the send queue on exit, which stops WritePump.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.dropSubscription()
		close(c.send)
		_ = c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var incoming frame
		if err := json.Unmarshal(payload, &incoming); err != nil {
			c.writeError("invalid message payload")
			continue
		}

		switch incoming.Type {
		case "subscribe":
			c.handleSubscribe(ctx, incoming.ConversationID)
		case "subscribe_pair":
			if incoming.PeerID <= 0 || incoming.PeerID == c.userID {
				c.writeError("invalid peer id")
				continue
			}
			c.subscribe(PairTopic(c.userID, incoming.PeerID))
		case "unsubscribe":
			c.dropSubscription()
		case "message":
			c.handleMessage(ctx, incoming)
		default:
			c.writeError("unsupported message type")
		}
	}
}

// WritePump is the only writer on the connection. After abort it sends the
// reason as an error frame and closes the socket.
func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-c.aborted:
			if payload, err := json.Marshal(Event{Type: "error", Error: c.reason}); err == nil {
				_ = c.conn.WriteMessage(websocket.TextMessage, payload)
			}
			return
		}
	}
}

// abort ends a socket that can no longer be given every message. Closing the
// connection stops ReadPump, which then releases the subscription.
func (c *Client) abort(reason string) {
	c.abortOnce.Do(func() {
		c.log.Warn().Str("reason", reason).Msg("closing socket")
		c.reason = reason
		close(c.aborted)
	})
}

func (c *Client) handleSubscribe(ctx context.Context, conversationID int64) {
	if conversationID <= 0 {
		c.writeError("invalid conversation id")
		return
	}
	if _, err := c.service.ConversationForParticipant(ctx, c.userID, conversationID); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.writeError("conversation not found")
			return
		}
		c.log.Error().Err(err).Int64("conversation_id", conversationID).Msg("subscribe lookup failed")
		c.writeError("failed to subscribe")
		return
	}
	c.subscribe(ConversationTopic(conversationID))
}

func (c *Client) handleMessage(ctx context.Context, incoming frame) {
	if incoming.ConversationID <= 0 {
		c.writeError("invalid conversation id")
		return
	}
	_, err := c.service.SendMessage(ctx, c.userID, services.SendMessageInput{
		ConversationID: incoming.ConversationID,
		Content:        incoming.Content,
		AttachmentURL:  incoming.AttachmentURL,
		Metadata:       incoming.Metadata,
	})
	switch {
	case err == nil:
	case errors.Is(err, services.ErrInvalidInput):
		c.writeError("message must have content or an attachment")
	case errors.Is(err, services.ErrForbidden):
		c.writeError("forbidden")
	default:
		c.log.Error().Err(err).Int64("conversation_id", incoming.ConversationID).Msg("socket send failed")
		c.writeError("failed to send message")
	}
}

func (c *Client) subscribe(topic string) {
	c.dropSubscription()

	sub := c.hub.Subscribe(topic)
	stop := make(chan struct{})
	c.sub = sub
	c.stopSub = stop

	// The ack goes out ahead of any buffered event.
	c.writeEvent(Event{Type: "subscribed", Topic: topic})
	c.forward.Add(1)
	go c.pipe(sub, stop)
}

func (c *Client) pipe(sub *Subscriber, stop <-chan struct{}) {
	defer c.forward.Done()
	for {
		select {
		case <-stop:
			return
		case payload, ok := <-sub.Events():
			if !ok {
				select {
				case <-stop:
				default:
					// The hub dropped this subscriber.
					c.abort(feedLost)
				}
				return
			}
			c.enqueue(payload)
		}
	}
}

func (c *Client) dropSubscription() {
	if c.sub == nil {
		return
	}
	close(c.stopSub)
	c.sub.Unsubscribe()
	c.forward.Wait()
	c.sub = nil
	c.stopSub = nil
}

func (c *Client) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	default:
		c.abort(feedLost)
	}
}

func (c *Client) writeEvent(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	c.enqueue(payload)
}

func (c *Client) writeError(message string) {
	c.writeEvent(Event{Type: "error", Error: message})
}
