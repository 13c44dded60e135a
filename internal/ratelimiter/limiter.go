package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/parishops/mailqueue/internal/domain"
)

// CategoryLimiters holds one token bucket limiter per message category.
// Each limiter enforces a steady-state submission rate in front of the
// transport, independent of the per-account window counters (which guard
// provider reputation over hours, not seconds).
// Burst is set equal to the rate so no extra burst capacity is allowed
// beyond the configured per-second maximum.
type CategoryLimiters struct {
	limiters map[domain.Category]*rate.Limiter
}

// New creates a CategoryLimiters with ratePerSec tokens per second per category.
func New(ratePerSec int) *CategoryLimiters {
	r := rate.Limit(ratePerSec)
	burst := ratePerSec // burst == rate: prevents any "saved up" burst above the limit

	return &CategoryLimiters{
		limiters: map[domain.Category]*rate.Limiter{
			domain.CategoryAdmin:  rate.NewLimiter(r, burst),
			domain.CategoryInfo:   rate.NewLimiter(r, burst),
			domain.CategoryEvents: rate.NewLimiter(r, burst),
			domain.CategorySystem: rate.NewLimiter(r, burst),
			domain.CategoryBulk:   rate.NewLimiter(r, burst),
		},
	}
}

// Wait blocks until the category's limiter grants a token.
// Called by the batch worker immediately before handing the message to the
// transport. Returns a non-nil error only if ctx is cancelled while waiting.
func (cl *CategoryLimiters) Wait(ctx context.Context, c domain.Category) error {
	l, ok := cl.limiters[c]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}
