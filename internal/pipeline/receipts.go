package pipeline

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"salesbot/internal/correlate"
)

// RetryingReceipts retries receipt lookups, which can lag the log
// notification on load-balanced RPC endpoints.
type RetryingReceipts struct {
	source  correlate.ReceiptSource
	retries int
	backoff time.Duration
	logger  *zap.Logger
}

func NewRetryingReceipts(source correlate.ReceiptSource, retries int, backoff time.Duration, logger *zap.Logger) *RetryingReceipts {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingReceipts{source: source, retries: retries, backoff: backoff, logger: logger}
}

func (r *RetryingReceipts) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := withRetry(ctx, r.retries, r.backoff, func(ctx context.Context) error {
		var err error
		receipt, err = r.source.TransactionReceipt(ctx, txHash)
		if err != nil {
			r.logger.Warn("receipt fetch failed", zap.Error(err), zap.String("tx_hash", txHash.Hex()))
		}
		return err
	})
	return receipt, err
}
