// Package kafka produces sale records to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"salesbot/internal/model"
)

// Publisher produces one record per sale, keyed by transaction hash and log
// index so a partition sees a transaction's sales in order.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger
}

// New connects to the brokers and pings the cluster.
func New(ctx context.Context, brokers []string, topic string, logger *zap.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.ClientID("salesbot"),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.DialTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka: ping: %w", err)
	}

	return &Publisher{client: client, topic: topic, logger: logger}, nil
}

// Close flushes buffered records and closes the client.
func (p *Publisher) Close() {
	if p.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("kafka flush failed", zap.Error(err))
	}
	p.client.Close()
}

func (p *Publisher) OnSaleRecord(ctx context.Context, record model.SaleRecord) error {
	rec, err := newRecord(p.topic, record)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka: produce %s: %w", record.TransactionHash, err)
	}
	return nil
}

func newRecord(topic string, record model.SaleRecord) (*kgo.Record, error) {
	value, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("kafka: marshal sale: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(fmt.Sprintf("%s-%d", record.TransactionHash, record.LogIndex)),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "marketplace", Value: []byte(record.MarketplaceName)},
			{Key: "event", Value: []byte(record.EventName)},
		},
	}, nil
}
