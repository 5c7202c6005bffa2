// Package redis publishes sale records over Redis Pub/Sub and Streams.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"salesbot/internal/model"
)

// streamMaxLen bounds the stream via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// Config holds connection parameters and destinations. Either Channel or
// Stream may be empty to skip that delivery.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Stream   string
}

// Publisher sends each sale as JSON to a Pub/Sub channel and appends it to a
// stream for consumers that need replay.
type Publisher struct {
	rdb     *redis.Client
	channel string
	stream  string
}

// New connects and pings Redis.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.Channel == "" && cfg.Stream == "" {
		return nil, fmt.Errorf("redis: channel or stream is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewWithClient(rdb, cfg.Channel, cfg.Stream), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, channel, stream string) *Publisher {
	return &Publisher{rdb: rdb, channel: channel, stream: stream}
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}

func (p *Publisher) OnSaleRecord(ctx context.Context, record model.SaleRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redis: marshal sale: %w", err)
	}

	if p.channel != "" {
		if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
			return fmt.Errorf("redis: publish %s: %w", p.channel, err)
		}
	}
	if p.stream != "" {
		if err := p.rdb.XAdd(ctx, streamArgs(p.stream, record, payload)).Err(); err != nil {
			return fmt.Errorf("redis: stream append %s: %w", p.stream, err)
		}
	}
	return nil
}

func streamArgs(stream string, record model.SaleRecord, payload []byte) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"marketplace": record.MarketplaceName,
			"tx_hash":     record.TransactionHash,
			"payload":     payload,
		},
	}
}
