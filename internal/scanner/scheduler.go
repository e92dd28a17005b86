package scanner

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler triggers one scan per day at the configured local time. A run
// that collides with a manual scan is skipped, not queued.
type Scheduler struct {
	Pipeline *Pipeline
	Hour     int
	Minute   int

	now func() time.Time
}

func NewScheduler(p *Pipeline, hour, minute int) *Scheduler {
	return &Scheduler{Pipeline: p, Hour: hour, Minute: minute, now: time.Now}
}

// nextRunAfter returns the next occurrence of the configured wall time
// strictly after t.
func (s *Scheduler) nextRunAfter(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), s.Hour, s.Minute, 0, 0, t.Location())
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run blocks until ctx is cancelled, firing scheduled scans.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.nextRunAfter(s.now())
		slog.Info("next scheduled scan", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.Pipeline.CleanupStaleScans(); err != nil {
			slog.Error("stale scan cleanup before scheduled run", "error", err)
		}
		if err := s.Pipeline.Start("scheduled"); err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				slog.Warn("scheduled scan skipped, another run in progress")
			} else {
				slog.Error("starting scheduled scan", "error", err)
			}
		}
	}
}
