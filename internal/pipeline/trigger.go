package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"skinflow/models"
)

// ErrRunInProgress is returned by Trigger.Fire while another run is in flight.
var ErrRunInProgress = errors.New("run in progress")

const defaultHistory = 20

// RunFunc performs one ingestion run.
type RunFunc interface {
	Run(ctx context.Context) models.RunResult
}

// Trigger serialises runs started from the HTTP endpoint and the scheduler.
// Overlapping calls are rejected, not queued. The most recent results are
// kept for inspection.
type Trigger struct {
	runner  RunFunc
	running atomic.Bool

	mu      sync.RWMutex
	history []models.RunResult
	limit   int
}

func NewTrigger(runner RunFunc, history int) *Trigger {
	if history <= 0 {
		history = defaultHistory
	}
	return &Trigger{runner: runner, limit: history}
}

// Fire runs the pipeline unless a run is already in flight.
func (t *Trigger) Fire(ctx context.Context) (models.RunResult, error) {
	if !t.running.CompareAndSwap(false, true) {
		return models.RunResult{}, ErrRunInProgress
	}
	defer t.running.Store(false)

	result := t.runner.Run(ctx)

	t.mu.Lock()
	t.history = append(t.history, result)
	if len(t.history) > t.limit {
		// keep the most recent runs only
		t.history = append([]models.RunResult(nil), t.history[len(t.history)-t.limit:]...)
	}
	t.mu.Unlock()
	return result, nil
}

// Running reports whether a run is in flight.
func (t *Trigger) Running() bool {
	return t.running.Load()
}

// Last returns the most recent completed run.
func (t *Trigger) Last() (models.RunResult, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.history) == 0 {
		return models.RunResult{}, false
	}
	return t.history[len(t.history)-1], true
}

// History returns the retained runs, oldest first.
func (t *Trigger) History() []models.RunResult {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.RunResult, len(t.history))
	copy(out, t.history)
	return out
}
