package dispatch

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"salesbot/internal/model"
)

// CollectionFilter forwards only sales of allowed collections. Addresses are
// compared case-insensitively. An empty allow-list forwards everything.
type CollectionFilter struct {
	next    Sink
	allowed map[string]struct{}
	logger  *zap.Logger
}

func NewCollectionFilter(next Sink, collections []string, logger *zap.Logger) *CollectionFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(collections))
	for _, c := range collections {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			allowed[c] = struct{}{}
		}
	}
	return &CollectionFilter{next: next, allowed: allowed, logger: logger}
}

func (f *CollectionFilter) OnSaleRecord(ctx context.Context, record model.SaleRecord) error {
	if len(f.allowed) > 0 {
		if _, ok := f.allowed[strings.ToLower(record.CollectionAddress)]; !ok {
			f.logger.Debug("collection not watched",
				zap.String("collection", record.CollectionAddress),
				zap.String("tx_hash", record.TransactionHash),
			)
			return nil
		}
	}
	return f.next.OnSaleRecord(ctx, record)
}
