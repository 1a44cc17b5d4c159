// Package events publishes delivery events to a Redis Stream so external
// consumers (ops tooling, analytics) can follow what went out without
// touching the database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamDeliveries is the stream successful deliveries are appended to.
const StreamDeliveries = "pagecourier:deliveries"

// SchemaVersionV1 tags event payloads for consumers.
const SchemaVersionV1 = "v1"

// DeliveryEvent is the wire form of one completed delivery.
type DeliveryEvent struct {
	DeliveryID string `json:"delivery_id"`
	UserID     int64  `json:"user_id"`
	Trigger    string `json:"trigger"`
	Pages      []int  `json:"pages"`
	NewCursor  int    `json:"new_cursor"`
}

// Publisher appends delivery events to the Redis Stream.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a Publisher from a redis URL.
func NewPublisher(redisURL string) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &Publisher{rdb: redis.NewClient(opts)}, nil
}

// PublishDelivery appends one event and returns the stream message id.
// The stream is capped so an idle consumer cannot grow it without bound.
func (p *Publisher) PublishDelivery(ctx context.Context, evt DeliveryEvent) (string, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	result := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamDeliveries,
		MaxLen: 10000,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload":        string(payload),
			"published_at":   time.Now().Unix(),
			"schema_version": SchemaVersionV1,
		},
	})
	if result.Err() != nil {
		return "", fmt.Errorf("failed to publish to stream: %w", result.Err())
	}
	return result.Val(), nil
}

// Close closes the underlying redis connection.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
