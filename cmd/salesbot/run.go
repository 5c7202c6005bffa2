package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runRun(cmd *cobra.Command, _ []string) error {
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

	fields := []zap.Field{zap.String("rpc", a.cfg.RPCURL)}
	if r != nil {
		fields = append(fields, zap.String("replay", r.String()), zap.Duration("replay_delay", a.cfg.ReplayDelay))
	}
	a.logger.Info("run start", fields...)

	err = a.service.Run(ctx, r, a.cfg.ReplayDelay)
	a.logger.Info("run stopped", zap.Stringer("stats", a.service.LiveStats()))
	return err
}
