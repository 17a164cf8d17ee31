package metrics

import (
	"context"
	"errors"

	"skinflow/models"
)

// RunPublisher receives every finished run.
type RunPublisher interface {
	PublishRun(ctx context.Context, result models.RunResult) error
}

// Fanout publishes to every non-nil publisher and joins their errors.
type Fanout []RunPublisher

func (f Fanout) PublishRun(ctx context.Context, result models.RunResult) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.PublishRun(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
