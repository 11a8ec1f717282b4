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
	"github.com/yuhueng/petbnb-pwa-sub001/internal/metrics"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/services"
)

func startHub(t *testing.T) (*Hub, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(nil)
	hub := NewHub(m, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, m
}

func delivery(conversationID, ownerID, sitterID int64, content string) *services.ChatDelivery {
	return &services.ChatDelivery{
		Conversation: &models.Conversation{ID: conversationID, OwnerID: ownerID, SitterID: sitterID},
		Message:      &models.Message{ID: 1, ConversationID: conversationID, SenderID: ownerID, Content: content},
		RecipientID:  sitterID,
	}
}

func receive(t *testing.T, events <-chan []byte) Event {
	t.Helper()
	select {
	case payload, ok := <-events:
		require.True(t, ok, "events closed")
		var event Event
		require.NoError(t, json.Unmarshal(payload, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestTopicsAreStable(t *testing.T) {
	assert.Equal(t, "conversation:9", ConversationTopic(9))
	assert.Equal(t, "pair:1:2", PairTopic(2, 1))
	assert.Equal(t, PairTopic(1, 2), PairTopic(2, 1))
}

func TestHubPublishReachesConversationAndPairTopics(t *testing.T) {
	hub, m := startHub(t)

	conversationSub := hub.Subscribe(ConversationTopic(9))
	pairSub := hub.Subscribe(PairTopic(2, 1))
	otherSub := hub.Subscribe(ConversationTopic(10))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ActiveSubscriptions) == 3
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), delivery(9, 1, 2, "hello")))

	for _, sub := range []*Subscriber{conversationSub, pairSub} {
		event := receive(t, sub.Events())
		assert.Equal(t, "message", event.Type)
		require.NotNil(t, event.Message)
		assert.Equal(t, "hello", event.Message.Content)
	}

	select {
	case <-otherSub.Events():
		t.Fatal("unrelated topic received an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriberUnsubscribeIsIdempotent(t *testing.T) {
	hub, m := startHub(t)

	sub := hub.Subscribe(ConversationTopic(9))
	sub.Unsubscribe()
	sub.Unsubscribe()

	_, open := <-sub.Events()
	assert.False(t, open)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ActiveSubscriptions) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub, m := startHub(t)
	sub := hub.Subscribe(ConversationTopic(9))

	for i := 0; i <= subscriberBuffer; i++ {
		require.NoError(t, hub.Publish(context.Background(), delivery(9, 1, 2, "spam")))
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.BroadcastsDropped) == 1
	}, time.Second, 10*time.Millisecond)

	received := 0
	for range sub.Events() {
		received++
	}
	assert.Equal(t, subscriberBuffer, received)
	sub.Unsubscribe()
}

func TestHubStopsWithContext(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	sub := hub.Subscribe(ConversationTopic(1))
	cancel()
	<-stopped

	_, open := <-sub.Events()
	assert.False(t, open)
	sub.Unsubscribe()

	err := hub.Deliver(context.Background(), []string{ConversationTopic(1)}, []byte(`{}`))
	require.Error(t, err)

	late := hub.Subscribe(ConversationTopic(1))
	_, open = <-late.Events()
	assert.False(t, open)
}

type recordingRelay struct {
	mu     sync.Mutex
	topics [][]string
	err    error
}

func (r *recordingRelay) Publish(_ context.Context, topics []string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topics)
	return r.err
}

func TestHubPublishForwardsToRelay(t *testing.T) {
	hub, _ := startHub(t)
	relay := &recordingRelay{}
	hub.SetRelay(relay)

	require.NoError(t, hub.Publish(context.Background(), delivery(9, 1, 2, "hi")))
	require.Len(t, relay.topics, 1)
	assert.Equal(t, []string{"conversation:9", "pair:1:2"}, relay.topics[0])

	relay.err = errors.New("redis down")
	require.Error(t, hub.Publish(context.Background(), delivery(9, 1, 2, "hi")))
}

func TestRedisBridgeSkipsOwnFrames(t *testing.T) {
	hub, _ := startHub(t)
	local := NewRedisBridge(nil, hub, zerolog.Nop())
	remote := NewRedisBridge(nil, hub, zerolog.Nop())
	sub := hub.Subscribe(ConversationTopic(9))

	payload, err := json.Marshal(Event{Type: "message", Message: &models.Message{ID: 5, ConversationID: 9, Content: "from afar"}})
	require.NoError(t, err)

	own, err := local.encode([]string{ConversationTopic(9)}, payload)
	require.NoError(t, err)
	require.NoError(t, local.handle(context.Background(), string(own)))

	foreign, err := remote.encode([]string{ConversationTopic(9)}, payload)
	require.NoError(t, err)
	require.NoError(t, local.handle(context.Background(), string(foreign)))

	event := receive(t, sub.Events())
	assert.Equal(t, "from afar", event.Message.Content)
	select {
	case <-sub.Events():
		t.Fatal("own frame was delivered twice")
	case <-time.After(50 * time.Millisecond):
	}

	require.Error(t, local.handle(context.Background(), "not json"))
}
