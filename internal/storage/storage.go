package storage

import "salesbot/internal/model"

// Storage defines a sink for raw log records.
type Storage interface {
	PutLogBatch(logs []model.LogRecord) error
}
