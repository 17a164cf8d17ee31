package logger

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

// Process-wide ingestion counters. They are cumulative over the life of the
// process and are read by StartReport.
var (
	errorsCount     int64
	warnsCount      int64
	fetchesOK       int64
	fetchesFailed   int64
	bytesFetched    int64
	batchesWritten  int64
	batchesSkipped  int64
	batchesFailed   int64
	itemsProcessed  int64
	duplicatesDrops int64
)

func recordWarn(component string) {
	if component != "" {
		atomic.AddInt64(&warnsCount, 1)
	}
}

func recordError(component string) {
	if component != "" {
		atomic.AddInt64(&errorsCount, 1)
	}
}

// IncrementFetch records one source fetch and its payload size.
func IncrementFetch(ok bool, size int) {
	if ok {
		atomic.AddInt64(&fetchesOK, 1)
	} else {
		atomic.AddInt64(&fetchesFailed, 1)
	}
	atomic.AddInt64(&bytesFetched, int64(size))
}

// IncrementBatch records one batch outcome; status is the batch status
// string and processed the items the store accepted.
func IncrementBatch(status string, processed int) {
	switch status {
	case "succeeded":
		atomic.AddInt64(&batchesWritten, 1)
		atomic.AddInt64(&itemsProcessed, int64(processed))
	case "failed":
		atomic.AddInt64(&batchesFailed, 1)
	default:
		atomic.AddInt64(&batchesSkipped, 1)
	}
}

// IncrementDuplicates records entries dropped by deduplication.
func IncrementDuplicates(n int) {
	atomic.AddInt64(&duplicatesDrops, int64(n))
}

// Counters returns a snapshot of the ingestion counters.
func Counters() Fields {
	return Fields{
		"errors":          atomic.LoadInt64(&errorsCount),
		"warns":           atomic.LoadInt64(&warnsCount),
		"fetches_ok":      atomic.LoadInt64(&fetchesOK),
		"fetches_failed":  atomic.LoadInt64(&fetchesFailed),
		"bytes_fetched":   atomic.LoadInt64(&bytesFetched),
		"batches_written": atomic.LoadInt64(&batchesWritten),
		"batches_skipped": atomic.LoadInt64(&batchesSkipped),
		"batches_failed":  atomic.LoadInt64(&batchesFailed),
		"items_processed": atomic.LoadInt64(&itemsProcessed),
		"duplicates":      atomic.LoadInt64(&duplicatesDrops),
	}
}

// StartReport begins periodic logging of the ingestion counters until ctx
// is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

func logReport(log *Log) {
	fields := Counters()
	fields["goroutines"] = runtime.NumGoroutine()
	log.WithComponent("report").WithFields(fields).Info("runtime report")
}
