package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"salesbot/internal/backfill"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.cfg.ReplayRange()
	if err != nil {
		return err
	}
	if r == nil {
		trailing := backfill.Trailing(backfill.DefaultTrailingBlocks)
		r = &trailing
	}

	a.logger.Info("replay start",
		zap.String("rpc", a.cfg.RPCURL),
		zap.String("range", r.String()),
		zap.Uint64("chunk_size", a.cfg.ChunkSize),
		zap.String("raw_out", a.cfg.RawOut),
	)

	stats, err := a.service.Replay(ctx, *r)
	if err != nil {
		return err
	}

	a.logger.Info("replay complete",
		zap.Int64("logs", stats.Logs),
		zap.Int64("sales", stats.Sales),
		zap.Int64("dropped", stats.Dropped),
		zap.Int64("errors", stats.Errors),
		zap.Int64("sink_errors", stats.SinkErrors),
	)
	return nil
}
