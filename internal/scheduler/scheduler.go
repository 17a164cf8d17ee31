package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"skinflow/internal/pipeline"
	"skinflow/logger"
	"skinflow/models"
)

// Firer starts a run unless one is already in flight.
type Firer interface {
	Fire(ctx context.Context) (models.RunResult, error)
}

// Scheduler fires ingestion runs on a five-field cron expression.
type Scheduler struct {
	spec     string
	schedule cron.Schedule
	cron     *cron.Cron
	firer    Firer
	log      *logger.Entry

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func New(spec string, firer Firer, log *logger.Log) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cron expression %q: %w", spec, err)
	}

	s := &Scheduler{
		spec:     spec,
		schedule: schedule,
		cron:     cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		firer:    firer,
		log:      log.WithComponent("scheduler").WithFields(logger.Fields{"schedule": spec}),
	}
	if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
		return nil, fmt.Errorf("failed to add cron job: %w", err)
	}
	return s, nil
}

// Start begins firing runs. Runs receive a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.log.WithFields(logger.Fields{"next_run": s.Next(time.Now()).Format(time.RFC3339)}).Info("scheduler started")
}

// Stop prevents new runs and waits for an in-flight one to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// Next reports when the schedule fires after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Scheduler) fire() {
	ctx := s.runContext()
	if ctx.Err() != nil {
		return
	}

	result, err := s.firer.Fire(ctx)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		s.log.Warn("scheduled run skipped, previous run still in progress")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("scheduled run failed")
		return
	}

	s.log.WithFields(logger.Fields{
		"run_id":                  result.RunID,
		"success":                 result.Success,
		"successful_marketplaces": result.Summary.SuccessfulMarketplaces,
		"next_run":                s.Next(time.Now()).Format(time.RFC3339),
	}).Info("scheduled run completed")
}
