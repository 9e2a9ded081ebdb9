package dispatch

import "errors"

// Expected race and lifecycle outcomes. None of these is exceptional: a
// worker who hits one simply goes back to searching.
var (
	// ErrJobAlreadyClaimed means another worker won the acceptance race.
	ErrJobAlreadyClaimed = errors.New("dispatch: job already claimed")

	// ErrOfferExpired means the 40 second countdown elapsed before the
	// worker acted, or the offer session no longer exists.
	ErrOfferExpired = errors.New("dispatch: offer expired")

	// ErrNoOffer means no offer session was ever opened for the pair.
	ErrNoOffer = errors.New("dispatch: no offer for worker")

	// ErrInvalidTransition means the job is not in a state the requested
	// operation can act on (e.g. arriving at a cancelled job).
	ErrInvalidTransition = errors.New("dispatch: invalid job state for operation")
)
