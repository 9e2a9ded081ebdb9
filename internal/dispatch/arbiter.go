package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
	"github.com/Jeremytpk/quicktrash-sub002/internal/observability"
	"github.com/Jeremytpk/quicktrash-sub002/internal/store"
)

// Arbiter is the single gate for job status transitions after creation.
// Every transition is one conditional write against the Job Store, so N
// concurrent accept attempts for the same job resolve to exactly one winner
// no matter how many offer sessions exist client side. A read-then-write
// here would reintroduce the double-assignment race.
type Arbiter struct {
	Store store.JobStore
	Now   func() time.Time
}

func NewArbiter(s store.JobStore) *Arbiter {
	return &Arbiter{Store: s, Now: time.Now}
}

func (a *Arbiter) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return a.Store.Get(ctx, jobID)
}

// TryAssign claims the job for workerID iff it is still available and
// unassigned. It is the only code path that moves a job to accepted.
func (a *Arbiter) TryAssign(ctx context.Context, jobID, workerID string) (*models.Job, error) {
	at := a.Now()
	job, err := a.Store.TryUpdate(ctx, jobID,
		store.Expect{Status: models.StatusAvailable, Unassigned: true},
		func(j *models.Job) {
			j.Status = models.StatusAccepted
			j.WorkerID = workerID
			j.AssignedAt = &at
		})
	if errors.Is(err, store.ErrConflict) {
		observability.AcceptConflicts.Inc()
		return nil, ErrJobAlreadyClaimed
	}
	if err != nil {
		return nil, err
	}
	observability.AcceptWins.Inc()
	return job, nil
}

// StartProgress moves an accepted job to in_progress once arrival is
// confirmed. Repeat calls by the assigned worker succeed without rewriting
// startedAt.
func (a *Arbiter) StartProgress(ctx context.Context, jobID, workerID string) (*models.Job, error) {
	at := a.Now()
	job, err := a.Store.TryUpdate(ctx, jobID,
		store.Expect{Status: models.StatusAccepted, WorkerID: workerID},
		func(j *models.Job) {
			j.Status = models.StatusInProgress
			j.StartedAt = &at
		})
	if errors.Is(err, store.ErrConflict) {
		if cur, gerr := a.Store.Get(ctx, jobID); gerr == nil &&
			cur.Status == models.StatusInProgress && cur.WorkerID == workerID {
			return cur, nil
		}
		return nil, ErrInvalidTransition
	}
	return job, err
}

// Complete finishes an in_progress job. Idempotent for the assigned worker;
// the bool reports whether this call performed the transition, so callers
// trigger the payout exactly once.
func (a *Arbiter) Complete(ctx context.Context, jobID, workerID string) (*models.Job, bool, error) {
	at := a.Now()
	job, err := a.Store.TryUpdate(ctx, jobID,
		store.Expect{Status: models.StatusInProgress, WorkerID: workerID},
		func(j *models.Job) {
			j.Status = models.StatusCompleted
			j.CompletedAt = &at
		})
	if errors.Is(err, store.ErrConflict) {
		if cur, gerr := a.Store.Get(ctx, jobID); gerr == nil &&
			cur.Status == models.StatusCompleted && cur.WorkerID == workerID {
			return cur, false, nil
		}
		return nil, false, ErrInvalidTransition
	}
	if err != nil {
		return nil, false, err
	}
	observability.JobsCompleted.Inc()
	return job, true, nil
}

// Cancel aborts a job from any non-terminal state.
func (a *Arbiter) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	for _, from := range []models.JobStatus{
		models.StatusPending, models.StatusAvailable, models.StatusAccepted, models.StatusInProgress,
	} {
		job, err := a.Store.TryUpdate(ctx, jobID,
			store.Expect{Status: from},
			func(j *models.Job) { j.Status = models.StatusCancelled })
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return job, err
	}
	if cur, err := a.Store.Get(ctx, jobID); err == nil && cur.Status == models.StatusCancelled {
		return cur, nil
	}
	return nil, ErrInvalidTransition
}

// Reject marks an available job that no candidate would take.
func (a *Arbiter) Reject(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := a.Store.TryUpdate(ctx, jobID,
		store.Expect{Status: models.StatusAvailable, Unassigned: true},
		func(j *models.Job) { j.Status = models.StatusRejected })
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrInvalidTransition
	}
	if err == nil {
		observability.JobsRejected.Inc()
	}
	return job, err
}

// Promote makes a pending job available for broadcast.
func (a *Arbiter) Promote(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := a.Store.TryUpdate(ctx, jobID,
		store.Expect{Status: models.StatusPending},
		func(j *models.Job) { j.Status = models.StatusAvailable })
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrInvalidTransition
	}
	return job, err
}
