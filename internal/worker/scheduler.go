package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler drives the batch worker on a fixed cadence for deployments
// without an external cron. When an external scheduler owns the cadence,
// leave PROCESS_INTERVAL at 0 and trigger runs via the HTTP endpoint.
type Scheduler struct {
	worker   *BatchWorker
	interval time.Duration
	logger   *zap.Logger
}

func NewScheduler(worker *BatchWorker, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{worker: worker, interval: interval, logger: logger}
}

// Run ticks every interval and processes one batch per tick.
// Stops cleanly when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("queue scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("queue scheduler stopping")
			return
		case <-ticker.C:
			s.worker.RunOnce(ctx)
		}
	}
}
