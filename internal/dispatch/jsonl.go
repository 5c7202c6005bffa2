package dispatch

import (
	"context"

	"salesbot/internal/model"
	"salesbot/internal/storage"
)

// JsonlSink appends each sale to a JSONL file.
type JsonlSink struct {
	store *storage.JsonlStorage
}

func NewJsonlSink(path string) *JsonlSink {
	return &JsonlSink{store: storage.NewJsonlStorage(path)}
}

func (s *JsonlSink) OnSaleRecord(ctx context.Context, record model.SaleRecord) error {
	return s.store.Append(record)
}
