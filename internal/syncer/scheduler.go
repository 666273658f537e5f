package syncer

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// schedulerJitter is the maximum random offset applied to each interval so
// restarts don't line every instance up on the same tick.
const schedulerJitter = 5 * time.Minute

// Scheduler triggers a scheduled sync at a fixed interval (weekly default).
type Scheduler struct {
	orc      *Orchestrator
	interval time.Duration
}

// NewScheduler creates a Scheduler driving the given orchestrator.
func NewScheduler(orc *Orchestrator, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 7 * 24 * time.Hour
	}
	return &Scheduler{orc: orc, interval: interval}
}

// Run blocks until the context is cancelled, invoking RunScheduled each tick.
func (s *Scheduler) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "syncer.scheduler"))
	log.Info("scheduler started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.nextInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.orc.RunScheduled()
			ticker.Reset(s.nextInterval())
		case <-ctx.Done():
			log.Info("scheduler stopping")
			return
		}
	}
}

func (s *Scheduler) nextInterval() time.Duration {
	jitter := schedulerJitter
	if s.interval < 2*schedulerJitter {
		jitter = s.interval / 4
	}
	if jitter <= 0 {
		return s.interval
	}
	//nolint:gosec // non-cryptographic jitter
	return s.interval + time.Duration(rand.Int64N(int64(2*jitter))) - jitter
}
