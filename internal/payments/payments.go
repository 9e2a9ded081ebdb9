// Package payments settles worker payouts through Stripe. A payout that
// fails is parked in a pending-settlement queue for manual reconciliation;
// it is never retried blindly and never dropped.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
	"github.com/Jeremytpk/quicktrash-sub002/internal/observability"
)

// ErrPayoutFailed wraps any processor-side failure.
var ErrPayoutFailed = errors.New("payments: payout failed")

// Transferrer is the slice of the processor we use. The Stripe client
// implements it; tests substitute a fake.
type Transferrer interface {
	Transfer(ctx context.Context, amountCents int64, currency, destination, jobID string) (string, error)
}

// SettlementRecorder durably records a parked payout (the Postgres store
// implements it). Optional: without one the queue is memory-only.
type SettlementRecorder interface {
	RecordSettlement(ctx context.Context, jobID, workerID string, amount float64, reason string) error
}

// Settlement is one payout awaiting manual resolution.
type Settlement struct {
	JobID    string
	WorkerID string
	Amount   float64
	Reason   string
	At       time.Time
}

// Service issues payouts and keeps the pending-settlement queue.
type Service struct {
	transferrer Transferrer
	recorder    SettlementRecorder
	logger      *slog.Logger

	mu      sync.Mutex
	pending []Settlement
}

func NewService(t Transferrer, r SettlementRecorder, logger *slog.Logger) *Service {
	return &Service{transferrer: t, recorder: r, logger: logger.With("component", "payments")}
}

// Payout transfers the job's workerPayout to the worker's connected account.
// Any failure, including a missing destination account, lands in the
// settlement queue and returns ErrPayoutFailed.
func (s *Service) Payout(ctx context.Context, job *models.Job, account string) error {
	amount := job.Pricing.WorkerPayout
	if account == "" {
		return s.park(ctx, job, amount, "no payout account on file")
	}
	cents := int64(amount*100 + 0.5)
	id, err := s.transferrer.Transfer(ctx, cents, "usd", account, job.ID)
	if err != nil {
		return s.park(ctx, job, amount, err.Error())
	}
	observability.PayoutsTotal.Inc()
	s.logger.Info("payout issued", "job_id", job.ID, "worker_id", job.WorkerID, "amount", amount, "transfer_id", id)
	return nil
}

func (s *Service) park(ctx context.Context, job *models.Job, amount float64, reason string) error {
	observability.PayoutFailures.Inc()
	st := Settlement{JobID: job.ID, WorkerID: job.WorkerID, Amount: amount, Reason: reason, At: time.Now()}
	s.mu.Lock()
	s.pending = append(s.pending, st)
	s.mu.Unlock()
	if s.recorder != nil {
		if err := s.recorder.RecordSettlement(ctx, st.JobID, st.WorkerID, st.Amount, st.Reason); err != nil {
			s.logger.Error("settlement record failed", "job_id", st.JobID, "error", err)
		}
	}
	s.logger.Warn("payout parked", "job_id", st.JobID, "worker_id", st.WorkerID, "reason", reason)
	return fmt.Errorf("%w: %s", ErrPayoutFailed, reason)
}

// Pending returns a snapshot of payouts awaiting manual resolution.
func (s *Service) Pending() []Settlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Settlement, len(s.pending))
	copy(out, s.pending)
	return out
}
