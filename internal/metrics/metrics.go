package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pipeline metrics, labelled by market and event.
var (
	LogsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesbot_logs_received_total",
		Help: "The total number of raw logs handed to the correlator",
	}, []string{"market", "event", "source"})

	SalesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesbot_sales_dispatched_total",
		Help: "The total number of sale records delivered to the sink",
	}, []string{"market", "event"})

	LogsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesbot_logs_dropped_total",
		Help: "The total number of trigger logs without a counterpart in their receipt",
	}, []string{"market", "event"})

	CorrelationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesbot_correlation_errors_total",
		Help: "The total number of logs that failed to decode or project",
	}, []string{"market", "event"})

	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesbot_sink_errors_total",
		Help: "The total number of sale records the sink failed to accept",
	}, []string{"market", "event"})
)

// Subscription metrics
var (
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "salesbot_active_subscriptions",
		Help: "The number of live log subscriptions",
	})

	SubscriptionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesbot_subscription_failures_total",
		Help: "The total number of subscriptions that terminated with an error",
	}, []string{"market", "event"})
)

// Backfill metrics
var (
	BackfillChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesbot_backfill_chunks_total",
		Help: "The total number of range queries issued by backfill",
	}, []string{"market", "event"})

	BackfillLastBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "salesbot_backfill_last_block",
		Help: "The exclusive end block of the last completed backfill chunk",
	})
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("starting metrics server", zap.String("addr", addr))
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
}
