package chatws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/metrics"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/services"
)

const subscriberBuffer = 32

// Event is the JSON frame pushed to socket clients.
type Event struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Message *models.Message `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func ConversationTopic(conversationID int64) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

// PairTopic names the feed shared by two users regardless of argument order.
func PairTopic(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("pair:%d:%d", a, b)
}

// Relay forwards published frames to other service instances.
type Relay interface {
	Publish(ctx context.Context, topics []string, payload []byte) error
}

type broadcast struct {
	topics  []string
	payload []byte
}

// Hub fans message events out to topic subscribers. All subscriber state is
// owned by the Run goroutine.
type Hub struct {
	topics     map[string]map[*Subscriber]struct{}
	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan broadcast
	done       chan struct{}
	relay      Relay
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

func NewHub(m *metrics.Metrics, log zerolog.Logger) *Hub {
	if m == nil {
		m = metrics.Noop()
	}
	return &Hub{
		topics:     make(map[string]map[*Subscriber]struct{}),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		broadcast:  make(chan broadcast, 64),
		done:       make(chan struct{}),
		metrics:    m,
		log:        log.With().Str("component", "chat_hub").Logger(),
	}
}

func (h *Hub) SetRelay(relay Relay) {
	h.relay = relay
}

// Subscriber receives encoded events for one topic until it unsubscribes or
// falls too far behind.
type Subscriber struct {
	hub    *Hub
	topic  string
	events chan []byte
	once   sync.Once
}

func (s *Subscriber) Topic() string {
	return s.topic
}

// Events is closed when the subscription ends.
func (s *Subscriber) Events() <-chan []byte {
	return s.events
}

// Unsubscribe is safe to call more than once.
func (s *Subscriber) Unsubscribe() {
	s.once.Do(func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case sub := <-h.register:
			set, ok := h.topics[sub.topic]
			if !ok {
				set = make(map[*Subscriber]struct{})
				h.topics[sub.topic] = set
			}
			set[sub] = struct{}{}
			h.metrics.ActiveSubscriptions.Inc()
		case sub := <-h.unregister:
			h.remove(sub)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Subscribe registers a subscriber for topic. Once it returns, every later
// broadcast on that topic reaches the subscriber.
func (h *Hub) Subscribe(topic string) *Subscriber {
	sub := &Subscriber{hub: h, topic: topic, events: make(chan []byte, subscriberBuffer)}
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.events)
	}
	return sub
}

// Publish implements services.Publisher: the event goes to the conversation
// topic and to the participants' pair topic, locally and through the relay.
func (h *Hub) Publish(ctx context.Context, delivery *services.ChatDelivery) error {
	if delivery == nil || delivery.Message == nil {
		return nil
	}
	topics := []string{ConversationTopic(delivery.Message.ConversationID)}
	if delivery.Conversation != nil {
		topics = append(topics, PairTopic(delivery.Conversation.OwnerID, delivery.Conversation.SitterID))
	}

	payload, err := json.Marshal(Event{Type: "message", Message: delivery.Message})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if err := h.Deliver(ctx, topics, payload); err != nil {
		return err
	}
	if h.relay != nil {
		if err := h.relay.Publish(ctx, topics, payload); err != nil {
			return fmt.Errorf("relay event: %w", err)
		}
	}
	return nil
}

// Deliver queues an already encoded frame for local subscribers only.
func (h *Hub) Deliver(ctx context.Context, topics []string, payload []byte) error {
	select {
	case <-h.done:
		return fmt.Errorf("chat hub stopped")
	default:
	}
	select {
	case h.broadcast <- broadcast{topics: topics, payload: payload}:
		return nil
	case <-h.done:
		return fmt.Errorf("chat hub stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) deliver(msg broadcast) {
	for _, topic := range msg.topics {
		for sub := range h.topics[topic] {
			select {
			case sub.events <- msg.payload:
			default:
				h.log.Warn().Str("topic", topic).Msg("dropping slow subscriber")
				h.metrics.BroadcastsDropped.Inc()
				h.remove(sub)
			}
		}
	}
}

func (h *Hub) remove(sub *Subscriber) {
	set, ok := h.topics[sub.topic]
	if !ok {
		return
	}
	if _, exists := set[sub]; !exists {
		return
	}
	delete(set, sub)
	close(sub.events)
	h.metrics.ActiveSubscriptions.Dec()
	if len(set) == 0 {
		delete(h.topics, sub.topic)
	}
}

func (h *Hub) closeAll() {
	for _, set := range h.topics {
		for sub := range set {
			h.remove(sub)
		}
	}
}
