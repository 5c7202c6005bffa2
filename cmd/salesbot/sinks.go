package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"salesbot/internal/config"
	"salesbot/internal/dispatch"
	"salesbot/internal/dispatch/kafka"
	"salesbot/internal/dispatch/postgres"
	"salesbot/internal/dispatch/redis"
)

// buildSink assembles the configured destinations behind the collection
// filter. The log sink is always present.
func buildSink(ctx context.Context, cfg config.Config, logger *zap.Logger) (dispatch.Sink, []func(), error) {
	var closers []func()
	sinks := dispatch.Fanout{dispatch.NewLogSink(logger)}

	if cfg.Out != "" {
		sinks = append(sinks, dispatch.NewJsonlSink(cfg.Out))
	}

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, closers, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, closers, err
		}
		sinks = append(sinks, store)
	}

	if cfg.Redis.Addr != "" {
		publisher, err := redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
			Stream:   cfg.Redis.Stream,
		})
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, func() { _ = publisher.Close() })
		sinks = append(sinks, publisher)
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := kafka.New(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, publisher.Close)
		sinks = append(sinks, publisher)
	}

	logger.Info("sinks ready",
		zap.Int("sinks", len(sinks)),
		zap.String("out", cfg.Out),
		zap.Bool("postgres", cfg.PGDSN != ""),
		zap.Bool("redis", cfg.Redis.Addr != ""),
		zap.Int("kafka_brokers", len(cfg.KafkaBrokers)),
		zap.Int("collections", len(cfg.Collections)),
	)
	return dispatch.NewCollectionFilter(sinks, cfg.Collections, logger), closers, nil
}
