// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// sweepTimeout bounds one pass over the inbox
const sweepTimeout = 30 * time.Minute

// Sweeper processes whatever is waiting in a drop folder
type Sweeper interface {
	Sweep(ctx context.Context) SweepResult
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	sweeper  Sweeper
	logger   *slog.Logger
}

// NewScheduler creates a scheduler that runs sweeper on schedule
// (standard 5-field spec or a descriptor such as "@every 5m").
func NewScheduler(schedule string, sweeper Sweeper, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))

	// A slow sweep (many scanned pages) must not overlap the next tick
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:     c,
		schedule: schedule,
		sweeper:  sweeper,
		logger:   logger,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("invalid inbox schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.String("schedule", s.schedule),
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs. The returned context is done
// once running jobs have finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers a sweep outside the schedule.
func (s *Scheduler) RunNow() {
	go s.sweep()
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	start := time.Now()
	result := s.sweeper.Sweep(ctx)

	if result.Imported+result.Failed+result.Deferred == 0 {
		s.logger.Debug("inbox sweep found nothing to import")
		return
	}
	s.logger.Info("inbox sweep completed",
		slog.Int("imported", result.Imported),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped),
		slog.Int("deferred", result.Deferred),
		slog.Duration("duration", time.Since(start)),
	)
}
