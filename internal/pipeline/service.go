package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"salesbot/internal/backfill"
	"salesbot/internal/correlate"
	"salesbot/internal/dispatch"
	"salesbot/internal/market"
	"salesbot/internal/metrics"
	"salesbot/internal/model"
	"salesbot/internal/storage"
	"salesbot/internal/watch"
)

// Watcher opens live streams.
type Watcher interface {
	Watch(ctx context.Context, m *market.Market, ev *market.Event) (*watch.Stream, error)
}

// Replayer recovers historical logs.
type Replayer interface {
	Backfill(ctx context.Context, m *market.Market, ev *market.Event, r backfill.Range) ([]types.Log, error)
}

// ErrorRecorder persists logs that failed correlation.
type ErrorRecorder interface {
	Append(values ...interface{}) error
}

// Deps wires a Service. Watcher is required for Watch and Replayer for Replay.
// Errors and RawLogs are optional.
type Deps struct {
	Registry   *market.Registry
	Correlator *correlate.Correlator
	Sink       dispatch.Sink
	Watcher    Watcher
	Replayer   Replayer
	Errors     ErrorRecorder
	RawLogs    storage.Storage
	Logger     *zap.Logger
}

// Stats counts the outcomes of handled logs.
type Stats struct {
	Logs       int64
	Sales      int64
	Dropped    int64
	Errors     int64
	SinkErrors int64
}

func (s Stats) String() string {
	return fmt.Sprintf("logs=%d sales=%d dropped=%d errors=%d sink_errors=%d", s.Logs, s.Sales, s.Dropped, s.Errors, s.SinkErrors)
}

type counters struct {
	logs, sales, dropped, errors, sinkErrors atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Logs:       c.logs.Load(),
		Sales:      c.sales.Load(),
		Dropped:    c.dropped.Load(),
		Errors:     c.errors.Load(),
		SinkErrors: c.sinkErrors.Load(),
	}
}

// Service feeds live and historical logs through the correlator into the sink.
type Service struct {
	deps   Deps
	logger *zap.Logger
	live   counters
}

func NewService(deps Deps) (*Service, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	if deps.Correlator == nil {
		return nil, fmt.Errorf("correlator is nil")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("sink is nil")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, logger: logger}, nil
}

// LiveStats returns the outcome counts of the live watch so far.
func (s *Service) LiveStats() Stats {
	return s.live.snapshot()
}

// Watch subscribes every (market, event) pair and processes logs until ctx is
// done or a subscription fails. A failed subscription ends the whole watch
// with an error naming its pair.
func (s *Service) Watch(ctx context.Context) error {
	if s.deps.Watcher == nil {
		return fmt.Errorf("watcher is nil")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, pair := range s.deps.Registry.Pairs() {
		g.Go(func() error {
			return s.watchPair(gctx, pair)
		})
	}

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Service) watchPair(ctx context.Context, pair market.Pair) error {
	stream, err := s.deps.Watcher.Watch(ctx, pair.Market, pair.Event)
	if err != nil {
		return err
	}
	defer stream.Cancel()

	metrics.ActiveSubscriptions.Inc()
	defer metrics.ActiveSubscriptions.Dec()

	for batch := range stream.Batches() {
		s.handle(ctx, pair, batch, "live", &s.live)
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		metrics.SubscriptionFailures.WithLabelValues(pair.Market.Name, pair.Event.Name).Inc()
		s.logger.Error("subscription failed",
			zap.String("market", pair.Market.Name),
			zap.String("event", pair.Event.Name),
			zap.Error(err),
		)
		return fmt.Errorf("watch %s: %w", pair, err)
	}
	return nil
}

// Replay backfills r for every pair in registry order and processes each
// recovered log singly. A backfill failure aborts the replay.
func (s *Service) Replay(ctx context.Context, r backfill.Range) (Stats, error) {
	if s.deps.Replayer == nil {
		return Stats{}, fmt.Errorf("replayer is nil")
	}

	var stats counters
	for _, pair := range s.deps.Registry.Pairs() {
		logs, err := s.deps.Replayer.Backfill(ctx, pair.Market, pair.Event, r)
		if err != nil {
			return stats.snapshot(), fmt.Errorf("replay %s: %w", pair, err)
		}
		s.logger.Info("replaying logs",
			zap.String("market", pair.Market.Name),
			zap.String("event", pair.Event.Name),
			zap.String("range", r.String()),
			zap.Int("logs", len(logs)),
		)

		if err := s.dumpRawLogs(pair, logs); err != nil {
			return stats.snapshot(), err
		}
		for _, log := range logs {
			if ctx.Err() != nil {
				return stats.snapshot(), ctx.Err()
			}
			s.handle(ctx, pair, []types.Log{log}, "replay", &stats)
		}
	}
	return stats.snapshot(), nil
}

// Run watches live and, when replay is set, replays it once after delay.
// A replay failure is logged and does not stop the live watch.
func (s *Service) Run(ctx context.Context, replay *backfill.Range, delay time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Watch(gctx)
	})

	if replay != nil {
		r := *replay
		g.Go(func() error {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-gctx.Done():
				return nil
			case <-timer.C:
			}

			stats, err := s.Replay(gctx, r)
			if err != nil {
				if gctx.Err() == nil {
					s.logger.Error("replay failed", zap.String("range", r.String()), zap.Error(err))
				}
				return nil
			}
			s.logger.Info("replay complete", zap.String("range", r.String()), zap.Stringer("stats", stats))
			return nil
		})
	}

	return g.Wait()
}

func (s *Service) handle(ctx context.Context, pair market.Pair, batch []types.Log, source string, stats *counters) {
	if len(batch) == 0 {
		return
	}
	anchor := batch[0]
	marketName, eventName := pair.Market.Name, pair.Event.Name
	stats.logs.Add(1)
	metrics.LogsReceived.WithLabelValues(marketName, eventName, source).Inc()

	record, err := s.deps.Correlator.Correlate(ctx, pair.Market, pair.Event, batch)
	if err != nil {
		stats.errors.Add(1)
		metrics.CorrelationErrors.WithLabelValues(marketName, eventName).Inc()
		s.logger.Warn("correlation failed",
			zap.String("market", marketName),
			zap.String("event", eventName),
			zap.String("tx_hash", anchor.TxHash.Hex()),
			zap.Uint64("block_number", anchor.BlockNumber),
			zap.Error(err),
		)
		s.recordError(pair, anchor, err)
		return
	}
	if record == nil {
		stats.dropped.Add(1)
		metrics.LogsDropped.WithLabelValues(marketName, eventName).Inc()
		s.logger.Debug("no counterpart log, dropped",
			zap.String("market", marketName),
			zap.String("event", eventName),
			zap.String("tx_hash", anchor.TxHash.Hex()),
		)
		return
	}

	if err := s.deps.Sink.OnSaleRecord(ctx, *record); err != nil {
		stats.sinkErrors.Add(1)
		metrics.SinkErrors.WithLabelValues(marketName, eventName).Inc()
		s.logger.Error("dispatch failed",
			zap.String("market", marketName),
			zap.String("event", eventName),
			zap.String("tx_hash", record.TransactionHash),
			zap.Error(err),
		)
		return
	}
	stats.sales.Add(1)
	metrics.SalesDispatched.WithLabelValues(marketName, eventName).Inc()
}

func (s *Service) recordError(pair market.Pair, log types.Log, cause error) {
	if s.deps.Errors == nil {
		return
	}
	if err := s.deps.Errors.Append(buildCorrelationError(pair, log, cause)); err != nil {
		s.logger.Warn("write error record failed", zap.Error(err))
	}
}

func (s *Service) dumpRawLogs(pair market.Pair, logs []types.Log) error {
	if s.deps.RawLogs == nil || len(logs) == 0 {
		return nil
	}
	ingestedAt := time.Now().UTC()
	records := make([]model.LogRecord, 0, len(logs))
	for _, log := range logs {
		records = append(records, buildLogRecord(pair, log, ingestedAt))
	}
	if err := s.deps.RawLogs.PutLogBatch(records); err != nil {
		return fmt.Errorf("store raw logs: %w", err)
	}
	return nil
}
