package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"skinflow/config"
	"skinflow/logger"
	"skinflow/models"
	"skinflow/processor"
	"skinflow/writer"
)

const errRunDeadline = "run deadline exceeded"

// Fetcher retrieves one source listing.
type Fetcher interface {
	Fetch(ctx context.Context, src config.SourceConfig) (models.Listing, error)
}

// Archiver keeps snapshots of listings and run results.
type Archiver interface {
	ArchiveListing(ctx context.Context, runID, source string, listing models.Listing, at time.Time) error
	ArchiveRun(ctx context.Context, result models.RunResult) error
}

// Publisher exports run metrics.
type Publisher interface {
	PublishRun(ctx context.Context, result models.RunResult) error
}

// Option customizes a Runner.
type Option func(*Runner)

func WithArchiver(a Archiver) Option { return func(r *Runner) { r.archiver = a } }

func WithPublisher(p Publisher) Option { return func(r *Runner) { r.publisher = p } }

// Runner executes one ingestion run across the enabled sources: fetch,
// deduplicate, write. Failures of one source or batch are recorded in the
// result and never stop the others.
type Runner struct {
	cfg       *config.Config
	fetcher   Fetcher
	store     writer.Store
	dedup     *processor.Deduplicator
	writer    *writer.BatchWriter
	archiver  Archiver
	publisher Publisher
	log       *logger.Log
}

func NewRunner(cfg *config.Config, fetcher Fetcher, store writer.Store, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		fetcher: fetcher,
		store:   store,
		dedup:   processor.NewDeduplicator(),
		writer:  writer.NewBatchWriter(store),
		log:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one run bounded by run.deadline and ctx. When the deadline
// passes no new source or batch starts; the outcomes gathered so far are
// returned and sources never started are reported as such.
func (r *Runner) Run(ctx context.Context) models.RunResult {
	runID := uuid.NewString()
	started := time.Now()
	sources := r.cfg.EnabledSources()

	log := r.log.WithComponent("runner").WithFields(logger.Fields{
		"run_id":      runID,
		"sources":     len(sources),
		"concurrency": r.cfg.Run.Concurrency,
		"deadline":    r.cfg.Run.Deadline.String(),
	})
	log.Info("starting ingestion run")

	if r.cfg.Run.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Run.Deadline)
		defer cancel()
	}

	if err := r.store.Ping(ctx); err != nil {
		log.WithError(err).Error("store preflight failed, aborting run")
		result := models.NewRunResult(runID, started, nil, time.Since(started))
		result.Success = false
		result.Error = fmt.Sprintf("store unavailable: %v", err)
		r.finish(ctx, result)
		return result
	}

	outcomes := make([]models.SourceOutcome, len(sources))
	ran := make([]bool, len(sources))
	if r.cfg.Run.Concurrency > 1 && len(sources) > 1 {
		r.runPool(ctx, runID, sources, outcomes, ran)
	} else {
		for i, src := range sources {
			if ctx.Err() != nil {
				break
			}
			ran[i] = true
			outcomes[i] = r.runSource(ctx, runID, src)
		}
	}

	for i, src := range sources {
		if !ran[i] {
			outcomes[i] = models.SourceOutcome{Marketplace: src.Name, Error: errRunDeadline}
			log.WithFields(logger.Fields{"source": src.Name}).Warn("source not started before run deadline")
		}
	}

	result := models.NewRunResult(runID, started, outcomes, time.Since(started))
	if ctx.Err() != nil {
		log.WithFields(logger.Fields{"elapsed_ms": result.Summary.TotalDurationMS}).Warn("run deadline reached")
	}
	log.WithFields(logger.Fields{
		"success":                 result.Success,
		"successful_marketplaces": result.Summary.SuccessfulMarketplaces,
		"total_items_processed":   result.Summary.TotalItemsProcessed,
		"duration_ms":             result.Summary.TotalDurationMS,
	}).Info("ingestion run finished")

	r.finish(ctx, result)
	return result
}

// runPool processes sources on a bounded worker pool. Each source writes
// only its own slot of outcomes and ran.
func (r *Runner) runPool(ctx context.Context, runID string, sources []config.SourceConfig, outcomes []models.SourceOutcome, ran []bool) {
	workers := r.cfg.Run.Concurrency
	if workers > len(sources) {
		workers = len(sources)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				ran[i] = true
				outcomes[i] = r.runSource(ctx, runID, sources[i])
			}
		}()
	}

	for i := range sources {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

func (r *Runner) runSource(ctx context.Context, runID string, src config.SourceConfig) models.SourceOutcome {
	start := time.Now()
	out := models.SourceOutcome{Marketplace: src.Name}
	log := r.log.WithComponent("runner").WithFields(logger.Fields{
		"run_id": runID,
		"source": src.Name,
	})

	listing, err := r.fetcher.Fetch(ctx, src)
	if err != nil {
		out.Error = err.Error()
		out.DurationMS = time.Since(start).Milliseconds()
		log.WithError(err).Warn("source fetch failed, skipping source")
		return out
	}
	out.ItemsFetched = len(listing)
	if len(listing) == 0 {
		out.DurationMS = time.Since(start).Milliseconds()
		log.Info("source listing empty, nothing to write")
		return out
	}

	deduped, report := r.dedup.Dedupe(src.Name, listing)
	out.ItemsDeduplicated = len(deduped)
	out.DuplicatesDropped = len(report.Dropped)

	written := r.writer.Write(ctx, src, deduped)
	for _, b := range written.Outcomes {
		out.AddBatch(b)
	}
	if written.Interrupted {
		out.Error = fmt.Sprintf("%s after %d of %d batches", errRunDeadline, len(written.Outcomes), written.Planned)
	}

	if r.archiver != nil {
		if err := r.archiver.ArchiveListing(ctx, runID, src.Name, deduped, start); err != nil {
			log.WithError(err).Warn("failed to archive listing snapshot")
		}
	}

	out.DurationMS = time.Since(start).Milliseconds()
	log.WithFields(logger.Fields{
		"items_fetched":      out.ItemsFetched,
		"items_processed":    out.ItemsProcessed,
		"duplicates_dropped": out.DuplicatesDropped,
		"successful_batches": out.SuccessfulBatches,
		"failed_batches":     out.FailedBatches,
		"skipped_batches":    out.SkippedBatches,
		"duration_ms":        out.DurationMS,
	}).Info("source finished")
	return out
}

// finish hands the result to the archiver and publisher. Their failures
// are logged only.
func (r *Runner) finish(ctx context.Context, result models.RunResult) {
	ctx = context.WithoutCancel(ctx)
	log := r.log.WithComponent("runner").WithFields(logger.Fields{"run_id": result.RunID})
	if r.archiver != nil {
		if err := r.archiver.ArchiveRun(ctx, result); err != nil {
			log.WithError(err).Warn("failed to archive run result")
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishRun(ctx, result); err != nil {
			log.WithError(err).Warn("failed to publish run metrics")
		}
	}
}
