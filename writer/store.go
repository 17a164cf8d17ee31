package writer

import (
	"context"
	"errors"

	"skinflow/models"
)

var (
	// ErrWriteConflict marks a store write rejected because another write
	// claimed the same logical row.
	ErrWriteConflict = errors.New("write conflict")
	// ErrWriteTimeout marks a store write that gave up waiting on a lock.
	ErrWriteTimeout = errors.New("write timeout")
)

// Store is the downstream price store. UpsertBatch writes entries keyed by
// (source, item name), splitting its own transaction into chunks of
// chunkSize, and returns how many entries it processed.
type Store interface {
	UpsertBatch(ctx context.Context, source string, entries []models.Entry, chunkSize int) (int, error)
	Ping(ctx context.Context) error
}
