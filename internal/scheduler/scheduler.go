package scheduler

import (
	"context"
	"time"

	"github.com/goevery/heartbeat/internal/heartbeat"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Scheduler runs a heartbeat tick on a fixed interval. A tick that outlasts
// the interval delays the next one instead of overlapping it.
type Scheduler struct {
	logger   *zap.Logger
	clock    clockwork.Clock
	runner   heartbeat.Runner
	interval time.Duration
}

func NewScheduler(
	logger *zap.Logger,
	clock clockwork.Clock,
	runner heartbeat.Runner,
	interval time.Duration,
) *Scheduler {
	return &Scheduler{
		logger,
		clock,
		runner,
		interval,
	}
}

// Run blocks until ctx is cancelled. A non-positive interval disables the
// schedule and Run returns immediately.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("heartbeat schedule disabled")
		return
	}

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("heartbeat schedule started",
		zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("heartbeat schedule stopped")
			return
		case <-ticker.Chan():
			s.runner.Run(ctx, heartbeat.Trigger{Source: heartbeat.SourceSchedule})
		}
	}
}
