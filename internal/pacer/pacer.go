// Package pacer spaces outbound catalog API calls and backs off after
// throttling responses.
package pacer

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Governor enforces a fixed minimum delay between consecutive outbound calls
// and a longer fixed cooldown after a rate-limit signal. No token bucket
// beyond a burst of one, no per-endpoint differentiation.
type Governor struct {
	limiter  *rate.Limiter
	cooldown time.Duration
}

// New creates a Governor with the given inter-call interval and 429 cooldown.
func New(interval, cooldown time.Duration) *Governor {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Governor{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		cooldown: cooldown,
	}
}

// Wait blocks until the next call is allowed or the context is done.
func (g *Governor) Wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "pacer: wait")
	}
	return nil
}

// Cooldown sleeps for the throttle cooldown after a 429 response. The caller
// proceeds afterwards; the throttled call itself is not retried.
func (g *Governor) Cooldown(ctx context.Context) error {
	zap.L().Warn("rate limited by catalog api, cooling down",
		zap.Duration("cooldown", g.cooldown),
	)
	t := time.NewTimer(g.cooldown)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "pacer: cooldown interrupted")
	case <-t.C:
		return nil
	}
}
