package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"salesbot/internal/market"
)

// ErrSubscriptionClosed reports a subscription that ended without being cancelled.
var ErrSubscriptionClosed = errors.New("subscription closed by source")

const defaultBuffer = 64

// LogSubscriber opens a live log subscription for one address and topic0.
type LogSubscriber interface {
	SubscribeLogs(ctx context.Context, address common.Address, topic0 common.Hash, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Multiplexer opens one independent subscription per (market, event) pair.
type Multiplexer struct {
	source LogSubscriber
	logger *zap.Logger
}

// New builds a Multiplexer over source.
func New(source LogSubscriber, logger *zap.Logger) *Multiplexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multiplexer{source: source, logger: logger}
}

// Watch subscribes to the event's subscription topic at the market address.
// Events with a trigger subscribe to the trigger signature.
func (m *Multiplexer) Watch(ctx context.Context, mk *market.Market, ev *market.Event) (*Stream, error) {
	topic := ev.SubscriptionTopic()
	logs := make(chan types.Log, defaultBuffer)
	sub, err := m.source.SubscribeLogs(ctx, mk.Address, topic, logs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s/%s: %w", mk.Name, ev.Name, err)
	}

	s := &Stream{
		Market:  mk,
		Event:   ev,
		sub:     sub,
		batches: make(chan []types.Log),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	m.logger.Info("subscribed",
		zap.String("market", mk.Name),
		zap.String("event", ev.Name),
		zap.String("address", mk.Address.Hex()),
		zap.String("topic0", topic.Hex()),
	)
	go s.pump(ctx, logs)
	return s, nil
}

// Stream is a cancellable sequence of log batches for one (market, event) pair.
type Stream struct {
	Market *market.Market
	Event  *market.Event

	sub     ethereum.Subscription
	batches chan []types.Log
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	err     error
}

// Batches delivers logs in source order. The channel is closed when the
// stream terminates; Err then reports why.
func (s *Stream) Batches() <-chan []types.Log {
	return s.batches
}

// Err returns the terminal error once Batches is closed. It is nil after Cancel.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Cancel unsubscribes and waits for delivery to stop. Calling it more than
// once is a no-op.
func (s *Stream) Cancel() {
	s.once.Do(func() {
		close(s.quit)
		s.sub.Unsubscribe()
	})
	<-s.done
}

func (s *Stream) pump(ctx context.Context, logs <-chan types.Log) {
	defer close(s.batches)
	defer close(s.done)

	for {
		select {
		case log := <-logs:
			if !s.forward(ctx, log) {
				return
			}
		case err, ok := <-s.sub.Err():
			select {
			case <-s.quit:
				return
			default:
			}
			// Logs buffered before the failure are still delivered.
			if !s.drain(ctx, logs) {
				return
			}
			if ok && err != nil {
				s.err = err
			} else {
				s.err = ErrSubscriptionClosed
			}
			return
		case <-s.quit:
			return
		case <-ctx.Done():
			s.sub.Unsubscribe()
			s.err = ctx.Err()
			return
		}
	}
}

// forward delivers one log as a batch. It reports false when the stream was
// cancelled or ctx ended first.
func (s *Stream) forward(ctx context.Context, log types.Log) bool {
	select {
	case s.batches <- []types.Log{log}:
		return true
	case <-s.quit:
		return false
	case <-ctx.Done():
		s.sub.Unsubscribe()
		s.err = ctx.Err()
		return false
	}
}

func (s *Stream) drain(ctx context.Context, logs <-chan types.Log) bool {
	for {
		select {
		case log := <-logs:
			if !s.forward(ctx, log) {
				return false
			}
		default:
			return true
		}
	}
}
