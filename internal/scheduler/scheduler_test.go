package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"skinflow/internal/pipeline"
	"skinflow/logger"
	"skinflow/models"
)

type countingFirer struct {
	calls atomic.Int32
	err   error
}

func (f *countingFirer) Fire(ctx context.Context) (models.RunResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return models.RunResult{}, f.err
	}
	return models.NewRunResult("run-1", time.Now(), nil, 0), nil
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	for _, spec := range []string{"", "every half hour", "*/30 * * *", "0 0 0 * * *", "@every 1h"} {
		if _, err := New(spec, &countingFirer{}, logger.Logger()); err == nil {
			t.Fatalf("expected %q to be rejected", spec)
		}
	}
}

func TestNext(t *testing.T) {
	s, err := New("*/30 * * * *", &countingFirer{}, logger.Logger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	from := time.Date(2024, 5, 1, 12, 10, 0, 0, time.UTC)
	want := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	if got := s.Next(from); !got.Equal(want) {
		t.Fatalf("Next = %s, want %s", got, want)
	}
}

func TestFireSkipsWhenRunInProgress(t *testing.T) {
	firer := &countingFirer{err: pipeline.ErrRunInProgress}
	s, err := New("0 * * * *", firer, logger.Logger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.fire()
	if firer.calls.Load() != 1 {
		t.Fatalf("expected one fire attempt, got %d", firer.calls.Load())
	}
}

func TestFireAfterStopIsNoop(t *testing.T) {
	firer := &countingFirer{}
	s, err := New("0 * * * *", firer, logger.Logger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())
	s.Stop()

	s.fire()
	if firer.calls.Load() != 0 {
		t.Fatalf("no run should start after Stop")
	}
}
