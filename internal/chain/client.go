package chain

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

const (
	defaultPollInterval    = 4 * time.Second
	defaultPollMaxFailures = 5
)

// Options tunes the client.
type Options struct {
	// PollInterval is used by SubscribeLogs on endpoints without native
	// subscriptions (HTTP).
	PollInterval time.Duration
	// PollMaxFailures is the number of consecutive failed polls that end a
	// polled subscription.
	PollMaxFailures int
	Logger          *zap.Logger
}

// Client wraps go-ethereum RPC and provides the log primitives the watcher
// and backfill need. It is safe for concurrent use.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	streaming       bool
	pollInterval    time.Duration
	pollMaxFailures int
	logger          *zap.Logger
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string, opts Options) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.PollMaxFailures <= 0 {
		opts.PollMaxFailures = defaultPollMaxFailures
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Client{
		rpcClient:       rpcClient,
		ethClient:       ethclient.NewClient(rpcClient),
		streaming:       supportsSubscriptions(rpcURL),
		pollInterval:    opts.PollInterval,
		pollMaxFailures: opts.PollMaxFailures,
		logger:          opts.Logger,
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// FilterLogs returns logs in the inclusive range for addresses and topic0 filters.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	return c.ethClient.FilterLogs(ctx, filterQuery(fromBlock, toBlock, addresses, topic0))
}

// TransactionReceipt returns the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.ethClient.TransactionReceipt(ctx, txHash)
}

// SubscribeLogs streams new logs emitted by address with the given topic0.
// WebSocket and IPC endpoints use eth_subscribe; HTTP endpoints fall back to
// polling every PollInterval. A polled subscription survives transient RPC
// errors and ends after PollMaxFailures consecutive failures; the last error
// is reported on its Err channel.
func (c *Client) SubscribeLogs(ctx context.Context, address common.Address, topic0 common.Hash, ch chan<- types.Log) (ethereum.Subscription, error) {
	if c.streaming {
		query := ethereum.FilterQuery{
			Addresses: []common.Address{address},
			Topics:    [][]common.Hash{{topic0}},
		}
		return c.ethClient.SubscribeFilterLogs(ctx, query, ch)
	}

	head, err := c.LatestBlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	p := &logPoller{
		source:      c,
		address:     address,
		topic0:      topic0,
		next:        head + 1,
		interval:    c.pollInterval,
		maxFailures: c.pollMaxFailures,
		logger:      c.logger,
	}
	return p.subscribe(ch), nil
}

func filterQuery(fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ethereum.FilterQuery {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}
	return query
}

func supportsSubscriptions(rpcURL string) bool {
	lower := strings.ToLower(rpcURL)
	switch {
	case strings.HasPrefix(lower, "ws://"), strings.HasPrefix(lower, "wss://"):
		return true
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return false
	default:
		// rpc.DialContext treats anything else as an IPC path.
		return true
	}
}
