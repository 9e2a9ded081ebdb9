package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
)

type fakeTransferrer struct {
	err   error
	calls int
	cents int64
	dest  string
	jobID string
}

func (f *fakeTransferrer) Transfer(ctx context.Context, amountCents int64, currency, destination, jobID string) (string, error) {
	f.calls++
	f.cents = amountCents
	f.dest = destination
	f.jobID = jobID
	if f.err != nil {
		return "", f.err
	}
	return "tr_test", nil
}

type fakeRecorder struct {
	recorded []string
	err      error
}

func (f *fakeRecorder) RecordSettlement(ctx context.Context, jobID, workerID string, amount float64, reason string) error {
	f.recorded = append(f.recorded, jobID)
	return f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func payoutJob() *models.Job {
	return &models.Job{
		ID:       "j1",
		WorkerID: "w1",
		Status:   models.StatusCompleted,
		Pricing:  &models.PriceBreakdown{WorkerPayout: 54.00, Total: 67.50},
	}
}

func TestPayoutTransfersInCents(t *testing.T) {
	tr := &fakeTransferrer{}
	svc := NewService(tr, nil, quietLogger())

	if err := svc.Payout(context.Background(), payoutJob(), "acct_w1"); err != nil {
		t.Fatalf("payout: %v", err)
	}
	if tr.calls != 1 {
		t.Fatalf("expected one transfer, got %d", tr.calls)
	}
	if tr.cents != 5400 {
		t.Fatalf("cents = %d, want 5400", tr.cents)
	}
	if tr.dest != "acct_w1" || tr.jobID != "j1" {
		t.Fatalf("transfer addressed wrong: dest=%s job=%s", tr.dest, tr.jobID)
	}
	if got := svc.Pending(); len(got) != 0 {
		t.Fatalf("successful payout must not park anything, got %+v", got)
	}
}

func TestPayoutFailureParksSettlement(t *testing.T) {
	tr := &fakeTransferrer{err: errors.New("card_network_unreachable")}
	rec := &fakeRecorder{}
	svc := NewService(tr, rec, quietLogger())

	err := svc.Payout(context.Background(), payoutJob(), "acct_w1")
	if !errors.Is(err, ErrPayoutFailed) {
		t.Fatalf("expected ErrPayoutFailed, got %v", err)
	}
	pending := svc.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected one parked settlement, got %d", len(pending))
	}
	st := pending[0]
	if st.JobID != "j1" || st.WorkerID != "w1" || st.Amount != 54.00 {
		t.Fatalf("settlement mismatch: %+v", st)
	}
	if st.Reason != "card_network_unreachable" {
		t.Fatalf("reason = %q", st.Reason)
	}
	if len(rec.recorded) != 1 || rec.recorded[0] != "j1" {
		t.Fatalf("recorder must persist the settlement, got %v", rec.recorded)
	}
}

func TestPayoutWithoutAccountParks(t *testing.T) {
	tr := &fakeTransferrer{}
	svc := NewService(tr, nil, quietLogger())

	err := svc.Payout(context.Background(), payoutJob(), "")
	if !errors.Is(err, ErrPayoutFailed) {
		t.Fatalf("expected ErrPayoutFailed, got %v", err)
	}
	if tr.calls != 0 {
		t.Fatal("no transfer may be attempted without a destination account")
	}
	if got := svc.Pending(); len(got) != 1 {
		t.Fatalf("expected one parked settlement, got %d", len(got))
	}
}

func TestRecorderErrorDoesNotLoseSettlement(t *testing.T) {
	tr := &fakeTransferrer{err: errors.New("boom")}
	rec := &fakeRecorder{err: errors.New("db down")}
	svc := NewService(tr, rec, quietLogger())

	err := svc.Payout(context.Background(), payoutJob(), "acct_w1")
	if !errors.Is(err, ErrPayoutFailed) {
		t.Fatalf("expected ErrPayoutFailed, got %v", err)
	}
	if got := svc.Pending(); len(got) != 1 {
		t.Fatal("settlement must survive a recorder failure in memory")
	}
}
