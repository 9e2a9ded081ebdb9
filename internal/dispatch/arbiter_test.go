package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
	"github.com/Jeremytpk/quicktrash-sub002/internal/store"
)

func availableJob(id string) *models.Job {
	return &models.Job{
		ID:         id,
		CustomerID: "c1",
		Status:     models.StatusAvailable,
		WasteType:  "household",
		Pricing:    &models.PriceBreakdown{WorkerPayout: 54.00, Total: 67.50},
		CreatedAt:  time.Now(),
	}
}

func TestTryAssignAtMostOneWinner(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()
	_ = m.Create(ctx, availableJob("j1"))
	arb := NewArbiter(m)

	const k = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []string
	losses := 0
	for i := 0; i < k; i++ {
		wg.Add(1)
		worker := fmt.Sprintf("w%d", i)
		go func(w string) {
			defer wg.Done()
			_, err := arb.TryAssign(ctx, "j1", w)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, w)
			} else if errors.Is(err, ErrJobAlreadyClaimed) {
				losses++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}(worker)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}
	if losses != k-1 {
		t.Fatalf("expected %d JobAlreadyClaimed, got %d", k-1, losses)
	}
	j, _ := m.Get(ctx, "j1")
	if j.Status != models.StatusAccepted || j.WorkerID != winners[0] {
		t.Fatalf("store does not reflect the winner: %+v", j)
	}
	if j.AssignedAt == nil {
		t.Fatal("assignedAt must be set on the winning write")
	}
}

func TestTryAssignLeavesJobUnchangedOnLoss(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()
	_ = m.Create(ctx, availableJob("j1"))
	arb := NewArbiter(m)

	if _, err := arb.TryAssign(ctx, "j1", "winner"); err != nil {
		t.Fatalf("first accept must win: %v", err)
	}
	_, err := arb.TryAssign(ctx, "j1", "loser")
	if !errors.Is(err, ErrJobAlreadyClaimed) {
		t.Fatalf("expected ErrJobAlreadyClaimed, got %v", err)
	}
	j, _ := m.Get(ctx, "j1")
	if j.WorkerID != "winner" {
		t.Fatalf("losing attempt mutated the job: %+v", j)
	}
}

func TestStartProgressIdempotent(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()
	_ = m.Create(ctx, availableJob("j1"))
	arb := NewArbiter(m)
	_, _ = arb.TryAssign(ctx, "j1", "w1")

	first, err := arb.StartProgress(ctx, "j1", "w1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Status != models.StatusInProgress || first.StartedAt == nil {
		t.Fatalf("expected in_progress with startedAt, got %+v", first)
	}

	second, err := arb.StartProgress(ctx, "j1", "w1")
	if err != nil {
		t.Fatalf("repeat must succeed: %v", err)
	}
	if !second.StartedAt.Equal(*first.StartedAt) {
		t.Fatalf("repeat rewrote startedAt: %v vs %v", second.StartedAt, first.StartedAt)
	}
}

func TestStartProgressRejectsWrongWorker(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()
	_ = m.Create(ctx, availableJob("j1"))
	arb := NewArbiter(m)
	_, _ = arb.TryAssign(ctx, "j1", "w1")

	if _, err := arb.StartProgress(ctx, "j1", "w2"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for wrong worker, got %v", err)
	}
}

func TestCompleteReportsFreshness(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()
	_ = m.Create(ctx, availableJob("j1"))
	arb := NewArbiter(m)
	_, _ = arb.TryAssign(ctx, "j1", "w1")
	_, _ = arb.StartProgress(ctx, "j1", "w1")

	_, fresh, err := arb.Complete(ctx, "j1", "w1")
	if err != nil || !fresh {
		t.Fatalf("first complete must be fresh: fresh=%v err=%v", fresh, err)
	}
	_, fresh, err = arb.Complete(ctx, "j1", "w1")
	if err != nil || fresh {
		t.Fatalf("repeat complete must be idempotent, not fresh: fresh=%v err=%v", fresh, err)
	}
}

func TestCancelFromAnyActiveState(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()
	_ = m.Create(ctx, availableJob("j1"))
	arb := NewArbiter(m)

	j, err := arb.Cancel(ctx, "j1")
	if err != nil || j.Status != models.StatusCancelled {
		t.Fatalf("cancel available: %+v %v", j, err)
	}
	// cancelling again is a no-op success
	if _, err := arb.Cancel(ctx, "j1"); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
}

func TestRejectOnlyFromAvailable(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()
	_ = m.Create(ctx, availableJob("j1"))
	arb := NewArbiter(m)
	_, _ = arb.TryAssign(ctx, "j1", "w1")

	if _, err := arb.Reject(ctx, "j1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}
