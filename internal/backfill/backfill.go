package backfill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"salesbot/internal/market"
	"salesbot/internal/metrics"
)

// ErrInvalidRange reports a block range whose end precedes its start.
var ErrInvalidRange = errors.New("invalid block range")

const (
	DefaultChunkSize      uint64 = 10_000
	DefaultTrailingBlocks uint64 = 100_000
)

// Range selects the blocks to replay: either the trailing N blocks ending at
// the head, or an explicit [Start, End).
type Range struct {
	trailing uint64
	start    uint64
	end      uint64
	explicit bool
}

// Trailing selects the last n blocks, the head included. The head is resolved
// on every call.
func Trailing(n uint64) Range {
	return Range{trailing: n}
}

// Between selects [start, end).
func Between(start, end uint64) Range {
	return Range{start: start, end: end, explicit: true}
}

// ParseRange parses "start,end" into an explicit range.
func ParseRange(input string) (Range, error) {
	parts := strings.Split(input, ",")
	if len(parts) != 2 {
		return Range{}, fmt.Errorf("%w: expected start,end, got %q", ErrInvalidRange, input)
	}
	start, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("%w: start: %v", ErrInvalidRange, err)
	}
	end, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("%w: end: %v", ErrInvalidRange, err)
	}
	if end < start {
		return Range{}, fmt.Errorf("%w: end %d is before start %d", ErrInvalidRange, end, start)
	}
	return Between(start, end), nil
}

func (r Range) String() string {
	if r.explicit {
		return fmt.Sprintf("[%d,%d)", r.start, r.end)
	}
	return fmt.Sprintf("last %d blocks", r.trailing)
}

// LogFetcher is the subset of the chain client used by backfill.
type LogFetcher interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// Backfiller replays historical logs in sequential fixed-size chunks.
type Backfiller struct {
	fetcher   LogFetcher
	chunkSize uint64
	logger    *zap.Logger
}

// New builds a Backfiller. A zero chunkSize selects DefaultChunkSize.
func New(fetcher LogFetcher, chunkSize uint64, logger *zap.Logger) *Backfiller {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backfiller{fetcher: fetcher, chunkSize: chunkSize, logger: logger}
}

// Resolve turns r into concrete [start, end) bounds.
func (b *Backfiller) Resolve(ctx context.Context, r Range) (uint64, uint64, error) {
	if r.explicit {
		if r.end < r.start {
			return 0, 0, fmt.Errorf("%w: end %d is before start %d", ErrInvalidRange, r.end, r.start)
		}
		return r.start, r.end, nil
	}

	head, err := b.fetcher.LatestBlockNumber(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("get latest block: %w", err)
	}
	end := head + 1
	start := uint64(0)
	if r.trailing < end {
		start = end - r.trailing
	}
	return start, end, nil
}

// Backfill returns every log matching the event's subscription topic at the
// market address in r, in ascending block order. Any chunk failure aborts the
// whole call.
func (b *Backfiller) Backfill(ctx context.Context, m *market.Market, ev *market.Event, r Range) ([]types.Log, error) {
	start, end, err := b.Resolve(ctx, r)
	if err != nil {
		return nil, err
	}
	ranges, err := SplitRange(start, end, b.chunkSize)
	if err != nil {
		return nil, err
	}

	addresses := []common.Address{m.Address}
	topics := []common.Hash{ev.SubscriptionTopic()}
	chunks := metrics.BackfillChunks.WithLabelValues(m.Name, ev.Name)

	var out []types.Log
	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		b.logger.Debug("fetch logs",
			zap.String("market", m.Name),
			zap.String("event", ev.Name),
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
		)
		logs, err := b.fetcher.FilterLogs(ctx, blockRange.From, blockRange.To-1, addresses, topics)
		if err != nil {
			return nil, fmt.Errorf("filter logs [%d,%d): %w", blockRange.From, blockRange.To, err)
		}
		chunks.Inc()
		metrics.BackfillLastBlock.Set(float64(blockRange.To))
		out = append(out, logs...)
	}

	b.logger.Info("backfill complete",
		zap.String("market", m.Name),
		zap.String("event", ev.Name),
		zap.Uint64("from", start),
		zap.Uint64("to", end),
		zap.Int("chunks", len(ranges)),
		zap.Int("logs", len(out)),
	)
	return out, nil
}
