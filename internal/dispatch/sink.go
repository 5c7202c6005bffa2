// Package dispatch delivers correlated sale records to downstream consumers.
package dispatch

import (
	"context"

	"go.uber.org/zap"

	"salesbot/internal/model"
)

// Sink receives each correlated sale exactly once.
type Sink interface {
	OnSaleRecord(ctx context.Context, record model.SaleRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, record model.SaleRecord) error

func (f SinkFunc) OnSaleRecord(ctx context.Context, record model.SaleRecord) error {
	return f(ctx, record)
}

// LogSink writes every sale to the logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) OnSaleRecord(ctx context.Context, record model.SaleRecord) error {
	s.logger.Info("sale",
		zap.String("marketplace", record.MarketplaceName),
		zap.String("event", record.EventName),
		zap.String("collection", record.CollectionAddress),
		zap.String("token_id", record.TokenID),
		zap.String("value", record.ValueWei),
		zap.String("seller", record.Seller),
		zap.String("buyer", record.Buyer),
		zap.String("tx_hash", record.TransactionHash),
		zap.Uint64("block_number", record.BlockNumber),
	)
	return nil
}
