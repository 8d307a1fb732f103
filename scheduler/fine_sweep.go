package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"library-circulation/config"
)

// Sweeper is the part of the library service the scheduler drives.
type Sweeper interface {
	SweepFines(ctx context.Context) (int, error)
}

// FineSweepScheduler recomputes every member's fines on a cron schedule.
type FineSweepScheduler struct {
	sweeper  Sweeper
	schedule string
	logger   *slog.Logger
	timeout  time.Duration

	cron      *cron.Cron
	entryID   cron.EntryID
	mu        sync.Mutex
	isRunning bool
	sweeping  sync.Mutex
}

// NewFineSweepScheduler creates a new scheduler instance. A zero timeout
// lets a sweep run until it finishes.
func NewFineSweepScheduler(sweeper Sweeper, schedule string, timeout time.Duration, logger *slog.Logger) *FineSweepScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FineSweepScheduler{
		sweeper:  sweeper,
		schedule: schedule,
		logger:   logger,
		timeout:  timeout,
		cron:     cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
	}
}

// Start schedules the sweep and returns immediately. The scheduler stops
// when ctx is cancelled.
func (s *FineSweepScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}
	if err := config.ValidateCronSchedule(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", s.schedule, err)
	}

	entryID, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("fine sweep failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule fine sweep: %w", err)
	}
	s.entryID = entryID

	s.cron.Start()
	s.isRunning = true
	s.logger.Info("fine sweep scheduler started", "schedule", s.schedule, "next_run", s.cron.Entry(entryID).Schedule.Next(time.Now()))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for a running sweep to complete.
func (s *FineSweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	<-s.cron.Stop().Done()
	s.cron.Remove(s.entryID)
	s.isRunning = false
	s.logger.Info("fine sweep scheduler stopped")
}

// IsRunning reports whether the schedule is active.
func (s *FineSweepScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// RunOnce sweeps immediately. Overlapping sweeps are serialized.
func (s *FineSweepScheduler) RunOnce(ctx context.Context) (int, error) {
	s.sweeping.Lock()
	defer s.sweeping.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	owing, err := s.sweeper.SweepFines(ctx)
	if err != nil {
		return owing, err
	}
	s.logger.Info("fine sweep completed", "owing", owing, "took", time.Since(start))
	return owing, nil
}
