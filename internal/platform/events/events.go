// Package events publishes link lifecycle events for downstream consumers
// such as the notification and audit services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "familylink.events"

// Message is the wire shape of every published event.
type Message struct {
	Type       string      `json:"type"`
	Payload    interface{} `json:"payload"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func encode(eventType string, payload interface{}) ([]byte, error) {
	b, err := json.Marshal(Message{Type: eventType, Payload: payload, OccurredAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return b, nil
}

// RedisPublisher sends events to a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisPublisher connects to url and verifies the server responds.
func NewRedisPublisher(ctx context.Context, url, channel string, logger zerolog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisPublisher(client, channel, logger), nil
}

func newRedisPublisher(client *redis.Client, channel string, logger zerolog.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "events").Str("channel", channel).Logger(),
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	b, err := encode(eventType, payload)
	if err != nil {
		return err
	}
	receivers, err := p.client.Publish(ctx, p.channel, b).Result()
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	p.logger.Debug().Str("event", eventType).Int64("receivers", receivers).Msg("event published")
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// LogPublisher writes events to the log. It is used when no broker is
// configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, eventType string, payload interface{}) error {
	b, err := encode(eventType, payload)
	if err != nil {
		return err
	}
	p.logger.Info().Str("event", eventType).RawJSON("message", b).Msg("event")
	return nil
}
