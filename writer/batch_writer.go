package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	appconfig "skinflow/config"
	"skinflow/logger"
	"skinflow/models"
	"skinflow/processor"
)

// WriteResult is what the BatchWriter reports for one source. Interrupted
// is set when the run context ended before every batch was attempted.
type WriteResult struct {
	Outcomes    []models.BatchOutcome
	Planned     int
	Interrupted bool
}

// BatchWriter partitions a deduplicated listing and submits each valid
// batch to the store. Failures are recorded per batch and never stop the
// remaining batches.
type BatchWriter struct {
	store Store
	pace  func(time.Duration)
	log   *logger.Log
}

func NewBatchWriter(store Store) *BatchWriter {
	return &BatchWriter{
		store: store,
		pace:  time.Sleep,
		log:   logger.GetLogger(),
	}
}

// WithPacer replaces the sleep used between batches.
func (w *BatchWriter) WithPacer(pace func(time.Duration)) *BatchWriter {
	w.pace = pace
	return w
}

// Write submits the listing in order. A done ctx stops new batches from
// starting; a batch already submitted is bounded only by the source's
// write timeout.
func (w *BatchWriter) Write(ctx context.Context, src appconfig.SourceConfig, listing models.Listing) WriteResult {
	batches := processor.Partition(src.Name, listing, src.BatchSize)
	result := WriteResult{
		Outcomes: make([]models.BatchOutcome, 0, len(batches)),
		Planned:  len(batches),
	}

	log := w.log.WithComponent("batch_writer").WithFields(logger.Fields{
		"source":  src.Name,
		"batches": len(batches),
		"items":   len(listing),
	})
	log.Info("writing source batches")

	attempted := false
	for _, batch := range batches {
		if ctx.Err() != nil {
			result.Interrupted = true
			log.WithFields(logger.Fields{
				"written": len(result.Outcomes),
			}).Warn("run deadline reached, remaining batches not started")
			break
		}

		outcome, didAttempt := w.writeBatch(ctx, src, batch, func() {
			if attempted && src.Pace > 0 {
				w.pace(src.Pace)
			}
		})
		attempted = attempted || didAttempt
		logger.IncrementBatch(string(outcome.Status), outcome.Processed)
		result.Outcomes = append(result.Outcomes, outcome)
	}

	return result
}

// writeBatch validates and submits one batch. beforeWrite runs only when
// the batch is about to reach the store.
func (w *BatchWriter) writeBatch(ctx context.Context, src appconfig.SourceConfig, batch models.Batch, beforeWrite func()) (models.BatchOutcome, bool) {
	outcome := models.BatchOutcome{
		BatchID: batch.BatchID,
		Index:   batch.Index,
		Size:    len(batch.Entries),
	}
	log := w.log.WithComponent("batch_writer").WithFields(logger.Fields{
		"source":      src.Name,
		"batch_id":    batch.BatchID,
		"batch_index": batch.Index,
		"batch_size":  len(batch.Entries),
	})

	if len(batch.Entries) == 0 {
		outcome.Status = models.BatchSkippedEmpty
		log.Info("batch empty, skipping")
		return outcome, false
	}

	validation := processor.ValidateBatch(batch)
	outcome.Missing = validation.Missing
	outcome.MissingCount = len(validation.Missing)
	if !validation.Valid {
		outcome.Status = models.BatchSkippedInvalid
		log.WithFields(logger.Fields{"missing": len(validation.Missing)}).Warn("batch has no priced entries, skipping")
		return outcome, false
	}
	if len(validation.Missing) > 0 {
		log.WithFields(logger.Fields{
			"missing":       len(validation.Missing),
			"missing_items": sample(validation.Missing, 10),
		}).Debug("batch entries without price")
	}

	beforeWrite()
	start := time.Now()
	processed, err := w.upsert(ctx, src, batch)
	outcome.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		outcome.Status = models.BatchFailed
		outcome.Cause = classifyWriteError(err)
		outcome.Error = err.Error()
		log.WithError(err).WithFields(logger.Fields{"cause": outcome.Cause}).Error("batch write failed")
		return outcome, true
	}

	if processed <= 0 {
		processed = len(batch.Entries)
	}
	outcome.Status = models.BatchSucceeded
	outcome.Processed = processed
	logger.LogDataFlowEntry(log, src.Name, "price_store", processed, "price_records")
	return outcome, true
}

type upsertResult struct {
	processed int
	err       error
}

// upsert runs the store call under the source's write timeout. The timeout
// context is detached from the run context so a run deadline does not
// abort a batch already in flight.
func (w *BatchWriter) upsert(ctx context.Context, src appconfig.SourceConfig, batch models.Batch) (int, error) {
	timeout := src.WriteTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	done := make(chan upsertResult, 1)
	go func() {
		n, err := w.store.UpsertBatch(wctx, src.Name, batch.Entries, src.DBChunkSize)
		done <- upsertResult{processed: n, err: err}
	}()

	select {
	case res := <-done:
		return res.processed, res.err
	case <-wctx.Done():
		return 0, fmt.Errorf("batch %d exceeded write timeout %s: %w", batch.Index, timeout, wctx.Err())
	}
}

func classifyWriteError(err error) models.FailureCause {
	switch {
	case errors.Is(err, ErrWriteConflict):
		return models.CauseWriteConflict
	case errors.Is(err, ErrWriteTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.CauseTimeout
	default:
		return models.CauseOther
	}
}

func sample(names []string, n int) []string {
	if len(names) <= n {
		return names
	}
	return names[:n]
}
