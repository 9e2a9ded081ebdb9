package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
)

func newJob(id string, status models.JobStatus) *models.Job {
	return &models.Job{ID: id, CustomerID: "c1", Status: status, CreatedAt: time.Now()}
}

func TestTryUpdateConflictOnStatus(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.Create(ctx, newJob("j1", models.StatusPending))

	_, err := m.TryUpdate(ctx, "j1", Expect{Status: models.StatusAvailable}, func(j *models.Job) {
		j.Status = models.StatusAccepted
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	j, _ := m.Get(ctx, "j1")
	if j.Status != models.StatusPending {
		t.Fatalf("failed update must not change the record, got %s", j.Status)
	}
}

func TestTryUpdateUnassignedPredicate(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	j := newJob("j1", models.StatusAvailable)
	j.WorkerID = "w9"
	j.Status = models.StatusAvailable
	_ = m.Create(ctx, j)

	_, err := m.TryUpdate(ctx, "j1", Expect{Status: models.StatusAvailable, Unassigned: true}, func(j *models.Job) {
		j.WorkerID = "w1"
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for assigned job, got %v", err)
	}
}

func TestTryUpdateExactlyOneWinner(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.Create(ctx, newJob("j1", models.StatusAvailable))

	const k = 50
	var wg sync.WaitGroup
	wins := make(chan string, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		worker := string(rune('A' + i%26))
		go func(w string) {
			defer wg.Done()
			_, err := m.TryUpdate(ctx, "j1", Expect{Status: models.StatusAvailable, Unassigned: true}, func(j *models.Job) {
				j.Status = models.StatusAccepted
				j.WorkerID = w
			})
			if err == nil {
				wins <- w
			}
		}(worker)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}
	j, _ := m.Get(ctx, "j1")
	if j.WorkerID != winners[0] || j.Status != models.StatusAccepted {
		t.Fatalf("record does not reflect the single winner: %+v", j)
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	feed, cancel := m.Subscribe(ctx)
	defer cancel()

	_ = m.Create(ctx, newJob("j1", models.StatusAvailable))
	_, _ = m.TryUpdate(ctx, "j1", Expect{Status: models.StatusAvailable}, func(j *models.Job) {
		j.Status = models.StatusCancelled
	})

	first := <-feed
	if first.Kind != ChangeCreated || first.Job.ID != "j1" {
		t.Fatalf("expected create event, got %+v", first)
	}
	second := <-feed
	if second.Kind != ChangeUpdated || second.Job.Status != models.StatusCancelled {
		t.Fatalf("expected cancel update, got %+v", second)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.Create(ctx, newJob("j1", models.StatusAvailable))

	j, _ := m.Get(ctx, "j1")
	j.Status = models.StatusCompleted

	again, _ := m.Get(ctx, "j1")
	if again.Status != models.StatusAvailable {
		t.Fatalf("caller mutation leaked into the store: %s", again.Status)
	}
}

func TestDueScheduled(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	due := newJob("due", models.StatusPending)
	due.ScheduledAt = &past
	later := newJob("later", models.StatusPending)
	later.ScheduledAt = &future
	_ = m.Create(ctx, due)
	_ = m.Create(ctx, later)

	got, err := DueScheduled(ctx, m, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "due" {
		t.Fatalf("expected only the past-due job, got %+v", got)
	}
}
