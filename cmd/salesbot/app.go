package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"salesbot/internal/backfill"
	"salesbot/internal/chain"
	"salesbot/internal/config"
	"salesbot/internal/correlate"
	"salesbot/internal/market"
	"salesbot/internal/metrics"
	"salesbot/internal/pipeline"
	"salesbot/internal/storage"
	"salesbot/internal/watch"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	chain   *chain.Client
	service *pipeline.Service
	closers []func()
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	registry, err := market.NewRegistry(cfg.Markets)
	if err != nil {
		return fmt.Errorf("markets: %w", err)
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, chain.Options{
		PollInterval:    cfg.PollInterval,
		PollMaxFailures: cfg.PollMaxFailures,
		Logger:          a.logger,
	})
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	a.chain = chainClient
	a.closers = append(a.closers, chainClient.Close)

	// HTTP dials are lazy; the chain id round trip is the first real request.
	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	a.logger.Info("connected", zap.String("chain_id", chainID.String()))

	sink, closers, err := buildSink(ctx, cfg, a.logger)
	a.closers = append(a.closers, closers...)
	if err != nil {
		return err
	}

	receipts := pipeline.NewRetryingReceipts(chainClient, cfg.ReceiptRetries, cfg.ReceiptBackoff, a.logger)
	deps := pipeline.Deps{
		Registry:   registry,
		Correlator: correlate.New(receipts),
		Sink:       sink,
		Watcher:    watch.New(chainClient, a.logger),
		Replayer:   backfill.New(chainClient, cfg.ChunkSize, a.logger),
		Logger:     a.logger,
	}
	if cfg.Errors != "" {
		deps.Errors = storage.NewJsonlStorage(cfg.Errors)
	}
	if cfg.RawOut != "" {
		deps.RawLogs = storage.NewJsonlStorage(cfg.RawOut)
	}

	service, err := pipeline.NewService(deps)
	if err != nil {
		return err
	}
	a.service = service

	if cfg.MetricsAddr != "" {
		metrics.Serve(ctx, cfg.MetricsAddr, a.logger)
	}

	for _, pair := range registry.Pairs() {
		a.logger.Info("market event",
			zap.String("market", pair.Market.Name),
			zap.String("event", pair.Event.Name),
			zap.String("address", pair.Market.Address.Hex()),
			zap.String("signature", pair.Event.Signature.Canonical()),
			zap.Bool("trigger", pair.Event.Trigger != nil),
		)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}
