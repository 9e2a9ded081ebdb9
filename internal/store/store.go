package store

import (
	"context"
	"errors"
	"time"

	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
)

// ErrConflict is returned by TryUpdate when the job's current state does not
// match the caller's expectation. Losing an acceptance race surfaces as this.
var ErrConflict = errors.New("store: conditional update conflict")

// ErrNotFound is returned when a job id has no record.
var ErrNotFound = errors.New("store: job not found")

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
)

// JobChange is one event on the store's change feed.
type JobChange struct {
	Job  *models.Job
	Kind ChangeKind
}

// Expect is the predicate of a conditional update. Status must match the
// job's current status; Unassigned additionally requires WorkerID to be
// empty; WorkerID, when set, requires an exact match.
type Expect struct {
	Status     models.JobStatus
	Unassigned bool
	WorkerID   string
}

func (e Expect) matches(j *models.Job) bool {
	if j.Status != e.Status {
		return false
	}
	if e.Unassigned && j.WorkerID != "" {
		return false
	}
	if e.WorkerID != "" && j.WorkerID != e.WorkerID {
		return false
	}
	return true
}

// JobStore is the persistence contract for jobs. TryUpdate is the single
// mutation path after creation: it applies the mutation only if the record
// still matches expect, atomically, and is the primitive the acceptance
// arbiter serializes races through. A store offering only unconditional
// writes cannot satisfy this interface.
type JobStore interface {
	Create(ctx context.Context, j *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	TryUpdate(ctx context.Context, id string, expect Expect, apply func(*models.Job)) (*models.Job, error)
	ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	Subscribe(ctx context.Context) (<-chan JobChange, func())
}

// DueScheduled returns pending scheduled jobs whose time has come.
func DueScheduled(ctx context.Context, s JobStore, now time.Time) ([]*models.Job, error) {
	pending, err := s.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return nil, err
	}
	due := pending[:0]
	for _, j := range pending {
		if j.ScheduledAt != nil && !j.ScheduledAt.After(now) {
			due = append(due, j)
		}
	}
	return due, nil
}
