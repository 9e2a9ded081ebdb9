// Package scheduler promotes scheduled (non-ASAP) jobs to available once
// their pickup time arrives. ASAP jobs never pass through here; they go
// available at creation.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Jeremytpk/quicktrash-sub002/internal/dispatch"
	"github.com/Jeremytpk/quicktrash-sub002/internal/store"
)

// Sweeper runs a per-second cron that finds due scheduled jobs and promotes
// them through the arbiter, which puts them on the change feed for the
// broadcaster.
type Sweeper struct {
	store   store.JobStore
	arbiter *dispatch.Arbiter
	cron    *cron.Cron
	logger  *slog.Logger
}

func NewSweeper(s store.JobStore, arb *dispatch.Arbiter, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:   s,
		arbiter: arb,
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger.With("component", "schedule_sweeper"),
	}
}

func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc("* * * * * *", func() {
		ctx := context.Background()
		s.sweep(ctx, time.Now())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("schedule sweeper started")
	return nil
}

func (s *Sweeper) Stop() {
	s.cron.Stop()
	s.logger.Info("schedule sweeper stopped")
}

func (s *Sweeper) sweep(ctx context.Context, now time.Time) {
	due, err := store.DueScheduled(ctx, s.store, now)
	if err != nil {
		s.logger.Error("due-job scan failed", "error", err)
		return
	}
	for _, j := range due {
		if _, err := s.arbiter.Promote(ctx, j.ID); err != nil {
			// a concurrent cancel can make this lose; that's fine
			if !errors.Is(err, dispatch.ErrInvalidTransition) {
				s.logger.Error("promote failed", "job_id", j.ID, "error", err)
			}
			continue
		}
		s.logger.Info("scheduled job promoted", "job_id", j.ID, "scheduled_at", j.ScheduledAt)
	}
}
