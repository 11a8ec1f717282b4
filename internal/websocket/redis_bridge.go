package chatws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const bridgeChannel = "petbnb:chat:events"

// RedisBridge relays hub frames between service instances over Redis pub/sub.
// Frames published by this instance are ignored on the way back in.
type RedisBridge struct {
	client  redis.UniversalClient
	hub     *Hub
	channel string
	origin  string
	log     zerolog.Logger
}

type bridgeEnvelope struct {
	Origin  string          `json:"origin"`
	Topics  []string        `json:"topics"`
	Payload json.RawMessage `json:"payload"`
}

// NewRedisClient connects and pings so a bad REDIS_URL fails at startup.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url must be provided")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisBridge(client redis.UniversalClient, hub *Hub, log zerolog.Logger) *RedisBridge {
	return &RedisBridge{
		client:  client,
		hub:     hub,
		channel: bridgeChannel,
		origin:  uuid.NewString(),
		log:     log.With().Str("component", "redis_bridge").Logger(),
	}
}

func (b *RedisBridge) Publish(ctx context.Context, topics []string, payload []byte) error {
	data, err := b.encode(topics, payload)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Run forwards remote frames into the local hub until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.Info().Str("channel", b.channel).Msg("relaying chat events")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := b.handle(ctx, msg.Payload); err != nil {
				b.log.Warn().Err(err).Msg("dropping relayed event")
			}
		}
	}
}

func (b *RedisBridge) encode(topics []string, payload []byte) ([]byte, error) {
	data, err := json.Marshal(bridgeEnvelope{Origin: b.origin, Topics: topics, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode relay envelope: %w", err)
	}
	return data, nil
}

func (b *RedisBridge) handle(ctx context.Context, raw string) error {
	var envelope bridgeEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return fmt.Errorf("decode relay envelope: %w", err)
	}
	if envelope.Origin == b.origin || len(envelope.Topics) == 0 {
		return nil
	}
	return b.hub.Deliver(ctx, envelope.Topics, envelope.Payload)
}
