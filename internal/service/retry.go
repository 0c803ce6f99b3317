package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/ilp-connector/internal/domain"
)

// Backoff retries transient failures with exponential delay until op
// succeeds, fails permanently, or ctx ends.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) Do(ctx context.Context, op func(context.Context) error) error {
	delay := b.Base
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil || !domain.IsTransient(err) {
			return err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("gave up after %d attempts: %w: %w", attempt, ctx.Err(), err)
		case <-timer.C:
		}
		delay *= 2
		if b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}
}
