package dispatch

import (
	"context"
	"errors"
	"fmt"

	"salesbot/internal/model"
)

// Fanout delivers each record to every sink in order. A failing sink does
// not stop delivery to the rest; all failures are joined.
type Fanout []Sink

func (f Fanout) OnSaleRecord(ctx context.Context, record model.SaleRecord) error {
	var errs []error
	for _, sink := range f {
		if err := sink.OnSaleRecord(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", sink, err))
		}
	}
	return errors.Join(errs...)
}
