// ABOUTME: Background loop driving scheduled backups and nightly retention
// ABOUTME: Ticks faster than a minute but fires each wall-clock minute once

package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/Baron-Systems/fb/internal/orchestrator"
	"github.com/Baron-Systems/fb/internal/retention"
)

// tickInterval is deliberately shorter than a minute so a tick lands inside
// every wall-clock minute even when timers drift under load.
const tickInterval = 15 * time.Second

// retentionHour is when the nightly fleet-wide retention pass runs (UTC).
const retentionHour = 3

// Sweeper owns the scheduler loop. Each wall-clock minute is processed at
// most once; schedule eligibility itself lives in the orchestrator.
type Sweeper struct {
	runner *orchestrator.Runner
	retain *retention.Manager
	logger *slog.Logger

	lastMinute time.Time
	now        func() time.Time
}

// New creates a sweeper.
func New(runner *orchestrator.Runner, retain *retention.Manager) *Sweeper {
	return &Sweeper{
		runner: runner,
		retain: retain,
		logger: slog.Default().With("component", "sweep"),
		now:    time.Now,
	}
}

// SetClock overrides the sweep clock. Test use only.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Run blocks until ctx is canceled, processing each minute once.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("scheduler loop started", "tick", tickInterval.String())

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler loop stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick processes the current minute if it hasn't been processed yet.
func (s *Sweeper) tick(ctx context.Context) {
	now := s.now().UTC()
	minute := now.Truncate(time.Minute)
	if minute.Equal(s.lastMinute) {
		return
	}
	s.lastMinute = minute

	if n := s.runner.FleetSweep(ctx, now); n > 0 {
		s.logger.Info("scheduled backups attempted", "count", n)
	}

	// Nightly retention pass at the top of the retention hour.
	if now.Hour() == retentionHour && now.Minute() == 0 {
		removed, err := s.retain.CleanupAll(ctx)
		if err != nil {
			s.logger.Error("nightly retention pass", "error", err)
			return
		}
		s.logger.Info("nightly retention pass complete", "removed", removed)
	}
}
