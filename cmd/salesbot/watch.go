package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("watch start", zap.String("rpc", a.cfg.RPCURL))
	err = a.service.Watch(ctx)
	a.logger.Info("watch stopped", zap.Stringer("stats", a.service.LiveStats()))
	return err
}
