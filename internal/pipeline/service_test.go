package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"salesbot/internal/backfill"
	"salesbot/internal/correlate"
	"salesbot/internal/market"
	"salesbot/internal/model"
	"salesbot/internal/storage"
	"salesbot/internal/watch"
)

var (
	collection = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	seller     = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	buyer      = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
)

type recordingSink struct {
	mu      sync.Mutex
	records []model.SaleRecord
	got     chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 16)}
}

func (r *recordingSink) OnSaleRecord(ctx context.Context, record model.SaleRecord) error {
	r.mu.Lock()
	r.records = append(r.records, record)
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func (r *recordingSink) snapshot() []model.SaleRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SaleRecord(nil), r.records...)
}

type fakeReplayer struct {
	logs []types.Log
	err  error
}

func (f *fakeReplayer) Backfill(ctx context.Context, m *market.Market, ev *market.Event, r backfill.Range) ([]types.Log, error) {
	return f.logs, f.err
}

func facetRegistry(t *testing.T) *market.Registry {
	t.Helper()
	reg, err := market.NewRegistry(market.DefaultConfigs())
	require.NoError(t, err)
	return reg
}

func saleLog(t *testing.T, ev *market.Event, block uint64, tokenID int64) types.Log {
	t.Helper()
	data, err := ev.Signature.Event().Inputs.NonIndexed().Pack(
		collection, big.NewInt(tokenID), seller, buyer, big.NewInt(2500000000000000000))
	require.NoError(t, err)
	return types.Log{
		Address:     common.HexToAddress("0xC59DEC74518c6C86B90107C3644ac9dAcA149e70"),
		Topics:      []common.Hash{ev.Signature.ID()},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
	}
}

func readJSONL[T any](t *testing.T, path string) []T {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var out []T
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var v T
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &v))
		out = append(out, v)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestReplayDispatchesAndRecordsErrors(t *testing.T) {
	reg := facetRegistry(t)
	ev := reg.Markets()[0].Events[0]

	good := saleLog(t, ev, 10, 42)
	malformed := saleLog(t, ev, 11, 43)
	malformed.Data = malformed.Data[:31]
	later := saleLog(t, ev, 12, 44)

	dir := t.TempDir()
	errorsPath := filepath.Join(dir, "errors.jsonl")
	rawPath := filepath.Join(dir, "raw.jsonl")
	sink := newRecordingSink()

	svc, err := NewService(Deps{
		Registry:   reg,
		Correlator: correlate.New(nil),
		Sink:       sink,
		Replayer:   &fakeReplayer{logs: []types.Log{good, malformed, later}},
		Errors:     storage.NewJsonlStorage(errorsPath),
		RawLogs:    storage.NewJsonlStorage(rawPath),
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	stats, err := svc.Replay(context.Background(), backfill.Between(0, 100))
	require.NoError(t, err)
	assert.Equal(t, Stats{Logs: 3, Sales: 2, Errors: 1}, stats)

	records := sink.snapshot()
	require.Len(t, records, 2)
	assert.Equal(t, "42", records[0].TokenID)
	assert.Equal(t, "44", records[1].TokenID)
	assert.Equal(t, "2.5", records[0].ValueWei)

	failures := readJSONL[model.CorrelationError](t, errorsPath)
	require.Len(t, failures, 1)
	assert.Equal(t, uint64(11), failures[0].BlockNumber)
	assert.Equal(t, "Facet NFT", failures[0].Market)
	assert.NotEmpty(t, failures[0].Error)

	raw := readJSONL[model.LogRecord](t, rawPath)
	require.Len(t, raw, 3)
	assert.Equal(t, ev.Signature.ID().Hex(), raw[0].Topics[0])
	assert.Equal(t, "OfferAccepted", raw[0].Event)
}

func TestReplayAbortsOnBackfillError(t *testing.T) {
	boom := errors.New("range too large")
	svc, err := NewService(Deps{
		Registry:   facetRegistry(t),
		Correlator: correlate.New(nil),
		Sink:       newRecordingSink(),
		Replayer:   &fakeReplayer{err: boom},
	})
	require.NoError(t, err)

	_, err = svc.Replay(context.Background(), backfill.Trailing(10))
	require.ErrorIs(t, err, boom)
}

type feedSubscriber struct {
	feed chan types.Log
	fail chan error
}

func (f *feedSubscriber) SubscribeLogs(ctx context.Context, address common.Address, topic0 common.Hash, ch chan<- types.Log) (ethereum.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for {
			select {
			case log := <-f.feed:
				select {
				case ch <- log:
				case <-quit:
					return nil
				}
			case err := <-f.fail:
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func TestWatchDispatchesLiveLogsAndSurfacesFailure(t *testing.T) {
	reg := facetRegistry(t)
	ev := reg.Markets()[0].Events[0]
	source := &feedSubscriber{feed: make(chan types.Log), fail: make(chan error, 1)}
	sink := newRecordingSink()

	svc, err := NewService(Deps{
		Registry:   reg,
		Correlator: correlate.New(nil),
		Sink:       sink,
		Watcher:    watch.New(source, nil),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Watch(context.Background()) }()

	source.feed <- saleLog(t, ev, 20, 7)
	select {
	case <-sink.got:
	case <-time.After(time.Second):
		t.Fatal("sale was not dispatched")
	}
	assert.Equal(t, "7", sink.snapshot()[0].TokenID)
	assert.Equal(t, int64(1), svc.LiveStats().Sales)

	source.fail <- errors.New("socket closed")
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Facet NFT/OfferAccepted")
	case <-time.After(time.Second):
		t.Fatal("watch did not end after subscription failure")
	}
}

func TestWatchStopsCleanlyOnCancel(t *testing.T) {
	source := &feedSubscriber{feed: make(chan types.Log), fail: make(chan error, 1)}
	svc, err := NewService(Deps{
		Registry:   facetRegistry(t),
		Correlator: correlate.New(nil),
		Sink:       newRecordingSink(),
		Watcher:    watch.New(source, nil),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Watch(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestRetryingReceipts(t *testing.T) {
	calls := 0
	source := receiptFunc(func(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
		calls++
		if calls < 3 {
			return nil, ethereum.NotFound
		}
		return &types.Receipt{TxHash: hash}, nil
	})

	receipt, err := NewRetryingReceipts(source, 3, time.Millisecond, nil).TransactionReceipt(context.Background(), common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x01"), receipt.TxHash)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = NewRetryingReceipts(source, 1, time.Millisecond, nil).TransactionReceipt(context.Background(), common.HexToHash("0x01"))
	require.ErrorIs(t, err, ethereum.NotFound)
	assert.Equal(t, 2, calls)
}

type receiptFunc func(ctx context.Context, hash common.Hash) (*types.Receipt, error)

func (f receiptFunc) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return f(ctx, hash)
}

func TestNewServiceValidatesDeps(t *testing.T) {
	_, err := NewService(Deps{})
	require.Error(t, err)
}
