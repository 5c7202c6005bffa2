package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"salesbot/internal/backfill"
)

func main() {
	root := &cobra.Command{
		Use:          "salesbot",
		Short:        "Marketplace sale watcher",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch configured markets for sales",
		RunE:  runWatch,
	}
	addCommonFlags(watchCmd.Flags())
	root.AddCommand(watchCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay historical sales once",
		RunE:  runReplay,
	}
	addCommonFlags(replayCmd.Flags())
	addReplayFlags(replayCmd.Flags())
	replayCmd.Flags().String("raw-out", "", "optional raw logs JSONL path")
	root.AddCommand(replayCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Watch live and optionally replay a window after a delay",
		RunE:  runRun,
	}
	addCommonFlags(runCmd.Flags())
	addReplayFlags(runCmd.Flags())
	runCmd.Flags().Duration("replay-delay", 2*time.Second, "delay before the replay starts")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "RPC URL (ws/wss for native subscriptions, http/https polls)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Uint64("chunk-size", backfill.DefaultChunkSize, "blocks per backfill range query")
	flags.Duration("poll-interval", 4*time.Second, "log polling interval for HTTP endpoints")
	flags.Int("poll-max-failures", 5, "consecutive failed polls before a polled subscription fails")
	flags.Int("receipt-retries", 3, "maximum receipt fetch retries")
	flags.Duration("receipt-backoff", 500*time.Millisecond, "initial receipt retry backoff")
	flags.StringSlice("collections", nil, "collection allow-list (comma-separated, empty means all)")
	flags.String("out", "", "optional sales JSONL path")
	flags.String("errors", "", "optional correlation errors JSONL path")
	flags.String("pg-dsn", "", "optional Postgres DSN for the sales table")
	flags.String("redis-addr", "", "optional Redis address")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", 0, "Redis database")
	flags.String("redis-channel", "salesbot:sales", "Redis Pub/Sub channel (empty disables)")
	flags.String("redis-stream", "", "Redis stream (empty disables)")
	flags.StringSlice("kafka-brokers", nil, "optional Kafka seed brokers (comma-separated)")
	flags.String("kafka-topic", "salesbot.sales", "Kafka topic")
	flags.String("metrics-addr", "", "optional Prometheus listen address, e.g. :2112")
}

func addReplayFlags(flags *pflag.FlagSet) {
	flags.Uint64("history", 0, "replay the last N blocks")
	flags.String("range", "", "replay an explicit start,end block range (end exclusive)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
