package collector

import (
	"context"
	"log/slog"
	"time"
)

// RequestBudget counts request-equivalents consumed against a fixed budget
// per window. When the budget is reached the batch suspends for the window
// duration and the count resets. The guard is approximate and non-adaptive:
// it never inspects remote rate limit headers, it only bounds how fast the
// batch issues pages.
//
// The budget is owned by the batch driver and passed explicitly; there is no
// ambient shared state.
type RequestBudget struct {
	limit  int
	window time.Duration
	used   int
	logger *slog.Logger
}

// NewRequestBudget creates a budget of limit request-equivalents per window.
func NewRequestBudget(limit int, window time.Duration, logger *slog.Logger) *RequestBudget {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestBudget{limit: limit, window: window, logger: logger}
}

// Used returns the request-equivalents consumed in the current window.
func (b *RequestBudget) Used() int {
	return b.used
}

// Consume records n request-equivalents. If the budget is now exhausted it
// blocks for the window duration before resetting the count, honoring
// context cancellation.
func (b *RequestBudget) Consume(ctx context.Context, n int) error {
	b.used += n
	if b.used < b.limit {
		return nil
	}

	b.logger.Info("request budget reached, suspending batch",
		"used", b.used,
		"limit", b.limit,
		"window", b.window)

	timer := time.NewTimer(b.window)
	defer timer.Stop()

	select {
	case <-timer.C:
		b.used = 0
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
