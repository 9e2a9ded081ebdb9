package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
	"github.com/Jeremytpk/quicktrash-sub002/internal/observability"
)

// Session is the ephemeral per-(job, worker) offer negotiation. It starts
// Offered and ends in exactly one of Accepted, Declined, or Expired. The
// countdown is enforced here, server side; any client-side timer is a
// display hint only.
type Session struct {
	JobID     string
	WorkerID  string
	ExpiresAt time.Time

	mu     sync.Mutex
	state  models.OfferState
	reason models.DeclineReason
	timer  *time.Timer

	onTerminal func(*Session)
	now        func() time.Time
}

func newSession(jobID, workerID string, ttl time.Duration, onTerminal func(*Session)) *Session {
	s := &Session{
		JobID:      jobID,
		WorkerID:   workerID,
		state:      models.OfferOffered,
		onTerminal: onTerminal,
		now:        time.Now,
	}
	s.ExpiresAt = s.now().Add(ttl)
	s.timer = time.AfterFunc(ttl, s.expire)
	return s
}

// State returns the current state and, when Declined, the reason.
func (s *Session) State() (models.OfferState, models.DeclineReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.reason
}

func (s *Session) expire() {
	s.mu.Lock()
	if s.state != models.OfferOffered {
		s.mu.Unlock()
		return
	}
	s.state = models.OfferExpired
	s.mu.Unlock()
	observability.OffersExpired.Inc()
	s.finish()
}

// Accept resolves the worker's accept action through the arbiter. On a lost
// race the session becomes Declined(job_already_claimed), never Accepted.
func (s *Session) Accept(ctx context.Context, arb *Arbiter) (*models.Job, error) {
	s.mu.Lock()
	switch s.state {
	case models.OfferAccepted:
		// repeat accept is a no-op win
		s.mu.Unlock()
		return arb.Get(ctx, s.JobID)
	case models.OfferExpired:
		s.mu.Unlock()
		return nil, ErrOfferExpired
	case models.OfferDeclined:
		s.mu.Unlock()
		if s.reason == models.DeclineClaimed {
			return nil, ErrJobAlreadyClaimed
		}
		return nil, ErrInvalidTransition
	}
	if s.now().After(s.ExpiresAt) {
		s.state = models.OfferExpired
		s.mu.Unlock()
		observability.OffersExpired.Inc()
		s.finish()
		return nil, ErrOfferExpired
	}

	job, err := arb.TryAssign(ctx, s.JobID, s.WorkerID)
	if errors.Is(err, ErrJobAlreadyClaimed) {
		s.state = models.OfferDeclined
		s.reason = models.DeclineClaimed
		s.timer.Stop()
		s.mu.Unlock()
		s.finish()
		return nil, err
	}
	if err != nil {
		// transient store failure; the offer stays open for a retry
		s.mu.Unlock()
		return nil, err
	}
	s.state = models.OfferAccepted
	s.timer.Stop()
	s.mu.Unlock()
	s.finish()
	return job, nil
}

// Decline records an explicit worker rejection. Declining twice is a no-op.
func (s *Session) Decline(reason models.DeclineReason) error {
	s.mu.Lock()
	switch s.state {
	case models.OfferDeclined:
		s.mu.Unlock()
		return nil
	case models.OfferAccepted:
		s.mu.Unlock()
		return ErrInvalidTransition
	case models.OfferExpired:
		s.mu.Unlock()
		return ErrOfferExpired
	}
	s.state = models.OfferDeclined
	s.reason = reason
	s.timer.Stop()
	s.mu.Unlock()
	observability.OffersDeclined.Inc()
	s.finish()
	return nil
}

func (s *Session) finish() {
	if s.onTerminal != nil {
		s.onTerminal(s)
	}
}
