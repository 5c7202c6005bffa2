package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"
)

type logSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// logPoller emulates a log subscription by polling the head block.
type logPoller struct {
	source   logSource
	address  common.Address
	topic0   common.Hash
	next     uint64
	interval time.Duration
	// maxFailures consecutive failed polls end the subscription.
	maxFailures int
	logger      *zap.Logger
}

func (p *logPoller) subscribe(ch chan<- types.Log) ethereum.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-quit:
				cancel()
			case <-ctx.Done():
			}
		}()

		maxFailures := p.maxFailures
		if maxFailures <= 0 {
			maxFailures = defaultPollMaxFailures
		}

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		failures := 0
		for {
			select {
			case <-quit:
				return nil
			case <-ticker.C:
			}

			err := p.poll(ctx, ch, quit)
			if err == nil {
				failures = 0
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			failures++
			p.logger.Warn("poll logs failed",
				zap.String("address", p.address.Hex()),
				zap.Uint64("from", p.next),
				zap.Int("failures", failures),
				zap.Int("max_failures", maxFailures),
				zap.Error(err),
			)
			if failures >= maxFailures {
				return err
			}
		}
	})
}

func (p *logPoller) poll(ctx context.Context, ch chan<- types.Log, quit <-chan struct{}) error {
	head, err := p.source.LatestBlockNumber(ctx)
	if err != nil {
		return err
	}
	if head < p.next {
		return nil
	}

	logs, err := p.source.FilterLogs(ctx, p.next, head, []common.Address{p.address}, []common.Hash{p.topic0})
	if err != nil {
		return err
	}
	p.logger.Debug("polled logs",
		zap.String("address", p.address.Hex()),
		zap.Uint64("from", p.next),
		zap.Uint64("to", head),
		zap.Int("logs", len(logs)),
	)

	for _, log := range logs {
		select {
		case ch <- log:
		case <-quit:
			return nil
		}
	}
	p.next = head + 1
	return nil
}
