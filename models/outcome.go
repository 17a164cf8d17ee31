package models

import "time"

// BatchStatus is the terminal state of one batch write.
type BatchStatus string

const (
	BatchSucceeded      BatchStatus = "succeeded"
	BatchSkippedEmpty   BatchStatus = "skipped_empty"
	BatchSkippedInvalid BatchStatus = "skipped_invalid"
	BatchFailed         BatchStatus = "failed"
)

// FailureCause classifies a failed batch.
type FailureCause string

const (
	CauseTimeout       FailureCause = "timeout"
	CauseWriteConflict FailureCause = "write_conflict"
	CauseOther         FailureCause = "other"
)

// BatchOutcome reports what happened to one batch.
type BatchOutcome struct {
	BatchID      string       `json:"batch_id"`
	Index        int          `json:"index"`
	Status       BatchStatus  `json:"status"`
	Size         int          `json:"size"`
	Processed    int          `json:"processed"`
	Cause        FailureCause `json:"cause,omitempty"`
	Error        string       `json:"error,omitempty"`
	MissingCount int          `json:"missing_count,omitempty"`
	Missing      []string     `json:"-"`
	DurationMS   int64        `json:"duration_ms"`
}

// SourceOutcome reports the ingestion of one marketplace. A source succeeds
// when at least one of its batches was written.
type SourceOutcome struct {
	Marketplace       string         `json:"marketplace"`
	Success           bool           `json:"success"`
	DurationMS        int64          `json:"duration_ms"`
	ItemsFetched      int            `json:"items_fetched"`
	ItemsDeduplicated int            `json:"items_deduplicated"`
	DuplicatesDropped int            `json:"duplicates_dropped"`
	ItemsProcessed    int            `json:"items_processed"`
	SuccessfulBatches int            `json:"successful_batches"`
	FailedBatches     int            `json:"failed_batches"`
	SkippedBatches    int            `json:"skipped_batches"`
	Error             string         `json:"error,omitempty"`
	Batches           []BatchOutcome `json:"batches,omitempty"`
}

// AddBatch folds a batch outcome into the source counters.
func (s *SourceOutcome) AddBatch(b BatchOutcome) {
	s.Batches = append(s.Batches, b)
	switch b.Status {
	case BatchSucceeded:
		s.SuccessfulBatches++
		s.ItemsProcessed += b.Processed
	case BatchFailed:
		s.FailedBatches++
	default:
		s.SkippedBatches++
	}
	s.Success = s.SuccessfulBatches > 0
}

// RunSummary aggregates a run across sources.
type RunSummary struct {
	SuccessfulMarketplaces int   `json:"successful_marketplaces"`
	TotalMarketplaces      int   `json:"total_marketplaces"`
	TotalItemsProcessed    int   `json:"total_items_processed"`
	TotalDurationMS        int64 `json:"total_duration_ms"`
}

// RunResult is the report of one pipeline run.
type RunResult struct {
	RunID     string          `json:"run_id"`
	Success   bool            `json:"success"`
	Timestamp time.Time       `json:"timestamp"`
	Summary   RunSummary      `json:"summary"`
	Results   []SourceOutcome `json:"results"`
	Error     string          `json:"error,omitempty"`
}

// NewRunResult aggregates per-source outcomes. The run succeeds when any
// source succeeded.
func NewRunResult(runID string, startedAt time.Time, results []SourceOutcome, elapsed time.Duration) RunResult {
	if results == nil {
		results = []SourceOutcome{}
	}
	summary := RunSummary{
		TotalMarketplaces: len(results),
		TotalDurationMS:   elapsed.Milliseconds(),
	}
	for _, r := range results {
		if r.Success {
			summary.SuccessfulMarketplaces++
		}
		summary.TotalItemsProcessed += r.ItemsProcessed
	}
	return RunResult{
		RunID:     runID,
		Success:   summary.SuccessfulMarketplaces > 0,
		Timestamp: startedAt.UTC(),
		Summary:   summary,
		Results:   results,
	}
}
