package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"skinflow/models"
)

type blockingRunner struct {
	release chan struct{}
	started chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context) models.RunResult {
	close(b.started)
	<-b.release
	return models.NewRunResult("run-1", time.Now(), []models.SourceOutcome{{Marketplace: "steam", Success: true}}, time.Millisecond)
}

type countingRunner struct{ n int }

func (c *countingRunner) Run(ctx context.Context) models.RunResult {
	c.n++
	return models.NewRunResult(fmt.Sprintf("run-%d", c.n), time.Now(), nil, 0)
}

func TestTriggerRejectsOverlap(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{}), started: make(chan struct{})}
	trigger := NewTrigger(runner, 0)

	if _, ok := trigger.Last(); ok {
		t.Fatalf("no result expected before the first run")
	}

	done := make(chan models.RunResult)
	go func() {
		res, err := trigger.Fire(context.Background())
		if err != nil {
			t.Errorf("first fire failed: %v", err)
		}
		done <- res
	}()
	<-runner.started

	if !trigger.Running() {
		t.Fatalf("trigger should report a run in flight")
	}
	if _, err := trigger.Fire(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	close(runner.release)
	res := <-done
	if !res.Success {
		t.Fatalf("unexpected result %+v", res)
	}
	last, ok := trigger.Last()
	if !ok || last.RunID != "run-1" {
		t.Fatalf("last result not stored: %+v", last)
	}
	if trigger.Running() {
		t.Fatalf("trigger should be idle after the run")
	}
}

func TestTriggerHistoryLimit(t *testing.T) {
	trigger := NewTrigger(&countingRunner{}, 2)
	for i := 0; i < 5; i++ {
		if _, err := trigger.Fire(context.Background()); err != nil {
			t.Fatalf("fire %d: %v", i, err)
		}
	}

	history := trigger.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 retained runs, got %d", len(history))
	}
	if history[0].RunID != "run-4" || history[1].RunID != "run-5" {
		t.Fatalf("unexpected runs retained: %s, %s", history[0].RunID, history[1].RunID)
	}
}
