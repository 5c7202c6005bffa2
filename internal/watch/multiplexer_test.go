package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesbot/internal/market"
)

type fakeSub struct {
	address      common.Address
	topic0       common.Hash
	feed         chan types.Log
	fail         chan error
	unsubscribed chan struct{}
}

type fakeSubscriber struct {
	mu   sync.Mutex
	subs []*fakeSub
	err  error
}

func (f *fakeSubscriber) SubscribeLogs(ctx context.Context, address common.Address, topic0 common.Hash, ch chan<- types.Log) (ethereum.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	fs := &fakeSub{
		address:      address,
		topic0:       topic0,
		feed:         make(chan types.Log),
		fail:         make(chan error, 1),
		unsubscribed: make(chan struct{}),
	}
	f.mu.Lock()
	f.subs = append(f.subs, fs)
	f.mu.Unlock()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer close(fs.unsubscribed)
		for {
			select {
			case log := <-fs.feed:
				select {
				case ch <- log:
				case <-quit:
					return nil
				}
			case err := <-fs.fail:
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (f *fakeSubscriber) sub(i int) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[i]
}

func registry(t *testing.T) *market.Registry {
	t.Helper()
	configs := market.DefaultConfigs()
	configs = append(configs, market.Config{
		Name:    "Two Log Market",
		Address: "0x1111111111111111111111111111111111111111",
		Events: []market.EventConfig{{
			Signature: "Settled(address collection, uint256 tokenId, address seller, address buyer)",
			Trigger: &market.TriggerConfig{
				Signature: "Accepted(uint256 price)",
				Address:   "0x2222222222222222222222222222222222222222",
			},
			Fields: market.FieldMap{TokenID: "tokenId", Value: "price", Seller: "seller", Buyer: "buyer", Collection: "collection"},
		}},
	})
	reg, err := market.NewRegistry(configs)
	require.NoError(t, err)
	return reg
}

func receive(t *testing.T, s *Stream) []types.Log {
	t.Helper()
	select {
	case batch, ok := <-s.Batches():
		require.True(t, ok, "stream closed unexpectedly: %v", s.Err())
		return batch
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch")
		return nil
	}
}

func TestWatchSubscribesPerPair(t *testing.T) {
	source := &fakeSubscriber{}
	mux := New(source, nil)
	pairs := registry(t).Pairs()

	var streams []*Stream
	for _, pair := range pairs {
		s, err := mux.Watch(context.Background(), pair.Market, pair.Event)
		require.NoError(t, err)
		streams = append(streams, s)
	}
	defer func() {
		for _, s := range streams {
			s.Cancel()
		}
	}()

	require.Len(t, source.subs, 2)
	direct, triggered := source.sub(0), source.sub(1)
	assert.Equal(t, pairs[0].Market.Address, direct.address)
	assert.Equal(t, pairs[0].Event.Signature.ID(), direct.topic0)
	assert.Equal(t, pairs[1].Market.Address, triggered.address)
	assert.Equal(t, pairs[1].Event.Trigger.Signature.ID(), triggered.topic0)

	direct.feed <- types.Log{BlockNumber: 1}
	direct.feed <- types.Log{BlockNumber: 2}
	assert.Equal(t, uint64(1), receive(t, streams[0])[0].BlockNumber)
	assert.Equal(t, uint64(2), receive(t, streams[0])[0].BlockNumber)
}

func TestStreamCancelIsIdempotentAndIsolated(t *testing.T) {
	source := &fakeSubscriber{}
	mux := New(source, nil)
	pairs := registry(t).Pairs()

	first, err := mux.Watch(context.Background(), pairs[0].Market, pairs[0].Event)
	require.NoError(t, err)
	second, err := mux.Watch(context.Background(), pairs[1].Market, pairs[1].Event)
	require.NoError(t, err)
	defer second.Cancel()

	first.Cancel()
	first.Cancel()

	select {
	case <-source.sub(0).unsubscribed:
	case <-time.After(time.Second):
		t.Fatal("source subscription was not released")
	}
	_, ok := <-first.Batches()
	assert.False(t, ok)
	assert.NoError(t, first.Err())

	source.sub(1).feed <- types.Log{BlockNumber: 9}
	assert.Equal(t, uint64(9), receive(t, second)[0].BlockNumber)
}

func TestStreamSurfacesSourceFailure(t *testing.T) {
	source := &fakeSubscriber{}
	pair := registry(t).Pairs()[0]
	s, err := New(source, nil).Watch(context.Background(), pair.Market, pair.Event)
	require.NoError(t, err)
	defer s.Cancel()

	boom := errors.New("connection reset")
	source.sub(0).fail <- boom

	select {
	case _, ok := <-s.Batches():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream did not terminate")
	}
	assert.ErrorIs(t, s.Err(), boom)
}

func TestStreamEndsWithContext(t *testing.T) {
	source := &fakeSubscriber{}
	pair := registry(t).Pairs()[0]
	ctx, cancel := context.WithCancel(context.Background())
	s, err := New(source, nil).Watch(ctx, pair.Market, pair.Event)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-s.Batches():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream did not terminate")
	}
	assert.ErrorIs(t, s.Err(), context.Canceled)
	s.Cancel()
}

func TestWatchSubscribeError(t *testing.T) {
	pair := registry(t).Pairs()[0]
	_, err := New(&fakeSubscriber{err: errors.New("no ws")}, nil).Watch(context.Background(), pair.Market, pair.Event)
	require.Error(t, err)
}

// burstSubscriber writes its logs into the subscription channel and then fails.
type burstSubscriber struct {
	logs []types.Log
	err  error
}

func (b *burstSubscriber) SubscribeLogs(ctx context.Context, address common.Address, topic0 common.Hash, ch chan<- types.Log) (ethereum.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, log := range b.logs {
			select {
			case ch <- log:
			case <-quit:
				return nil
			}
		}
		return b.err
	}), nil
}

func TestStreamDeliversBufferedLogsBeforeFailure(t *testing.T) {
	const n = 10
	boom := errors.New("connection reset")
	source := &burstSubscriber{err: boom}
	for i := 0; i < n; i++ {
		source.logs = append(source.logs, types.Log{BlockNumber: uint64(i + 1)})
	}

	pair := registry(t).Pairs()[0]
	s, err := New(source, nil).Watch(context.Background(), pair.Market, pair.Event)
	require.NoError(t, err)
	defer s.Cancel()

	// Let the source fail before anything is consumed.
	time.Sleep(20 * time.Millisecond)

	var got []uint64
	timeout := time.After(time.Second)
	for done := false; !done; {
		select {
		case batch, ok := <-s.Batches():
			if !ok {
				done = true
				break
			}
			got = append(got, batch[0].BlockNumber)
		case <-timeout:
			t.Fatalf("stream did not terminate, got %v", got)
		}
	}

	require.Len(t, got, n)
	for i, block := range got {
		assert.Equal(t, uint64(i+1), block)
	}
	assert.ErrorIs(t, s.Err(), boom)
}
