// Package events publishes pipeline notifications on Redis pub/sub so the
// Gateway can forward them to connected agents over SSE.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Channel names.
const (
	ListingsSynced         = "EVENT_LISTINGS_SYNCED"
	RecommendationsCreated = "EVENT_RECOMMENDATIONS_CREATED"
)

// Publisher sends typed events. Callers treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload map[string]any) error
}

// RedisPublisher publishes JSON payloads on a Redis channel.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher wraps rdb.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish adds a "type" field equal to channel and publishes the payload.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload map[string]any) error {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["type"] = channel

	event, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", channel, err)
	}
	if err := p.rdb.Publish(ctx, channel, event).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, string, map[string]any) error { return nil }
