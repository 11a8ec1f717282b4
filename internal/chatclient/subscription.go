package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/chat"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

const closeGrace = time.Second

// event mirrors the frames pushed by the server socket.
type event struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Message *models.Message `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type subscribeFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
}

// socketSubscription owns one websocket. Its reader goroutine is the only
// caller of onMessage.
type socketSubscription struct {
	conn    *websocket.Conn
	once    sync.Once
	closing atomic.Bool
	done    chan struct{}
	ended   chan error
}

var _ chat.Interruptible = (*socketSubscription)(nil)

// SubscribeToMessages dials a dedicated socket, subscribes it to the
// conversation and waits for the server to acknowledge. ctx bounds the
// handshake only.
func (c *Client) SubscribeToMessages(ctx context.Context, conversationID int64, onMessage func(models.Message)) (chat.Subscription, error) {
	if c.Token() == "" {
		return nil, chat.ErrNotAuthenticated
	}
	target, err := c.socketURL()
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("open message feed: %w", statusError(resp.StatusCode))
		}
		return nil, fmt.Errorf("open message feed: %w: %w", chat.ErrNetwork, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteJSON(subscribeFrame{Type: "subscribe", ConversationID: conversationID}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe: %w: %w", chat.ErrNetwork, err)
	}

	var ack event
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe: %w: %w", chat.ErrNetwork, err)
	}
	if ack.Type != "subscribed" {
		_ = conn.Close()
		return nil, subscribeError(ack.Error)
	}
	_ = conn.SetReadDeadline(time.Time{})

	sub := &socketSubscription{conn: conn, done: make(chan struct{}), ended: make(chan error, 1)}
	go sub.read(conversationID, onMessage, c)
	c.log.Debug().Int64("conversation_id", conversationID).Msg("message feed open")
	return sub, nil
}

func (s *socketSubscription) read(conversationID int64, onMessage func(models.Message), c *Client) {
	defer close(s.done)
	defer close(s.ended)

	var reason string
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if s.closing.Load() {
				return
			}
			if reason != "" {
				err = errors.New(reason)
			}
			c.log.Warn().Err(err).Int64("conversation_id", conversationID).Msg("message feed ended")
			s.ended <- fmt.Errorf("%w: message feed ended: %w", chat.ErrNetwork, err)
			return
		}

		var frame event
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		switch {
		case frame.Type == "message" && frame.Message != nil:
			if frame.Message.ConversationID == conversationID {
				onMessage(*frame.Message)
			}
		case frame.Error != "":
			reason = frame.Error
			c.log.Warn().Str("error", frame.Error).Msg("message feed error")
		}
	}
}

// Ended reports a feed the server closed. It stays silent after Unsubscribe.
func (s *socketSubscription) Ended() <-chan error {
	return s.ended
}

// Unsubscribe closes the socket and waits for the reader to stop. It must not
// be called from inside onMessage.
func (s *socketSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.closing.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		_ = s.conn.Close()
		<-s.done
	})
}

func subscribeError(message string) error {
	switch message {
	case "conversation not found":
		return fmt.Errorf("subscribe: %w", chat.ErrNotFound)
	case "forbidden":
		return fmt.Errorf("subscribe: %w", chat.ErrForbidden)
	case "":
		return fmt.Errorf("subscribe: %w: unexpected frame", chat.ErrNetwork)
	default:
		return fmt.Errorf("subscribe: %w: %s", chat.ErrNetwork, message)
	}
}
