package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Jeremytpk/quicktrash-sub002/internal/geo"
	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
	"github.com/Jeremytpk/quicktrash-sub002/internal/observability"
	"github.com/Jeremytpk/quicktrash-sub002/internal/proximity"
	"github.com/Jeremytpk/quicktrash-sub002/internal/store"
)

// Payer settles the worker's share once a job completes. Implementations
// must record failures for manual reconciliation rather than losing them.
type Payer interface {
	Payout(ctx context.Context, job *models.Job, account string) error
}

// Config holds the dispatch tunables.
type Config struct {
	RadiusMiles      float64       // broadcast eligibility radius
	OfferTTL         time.Duration // offer countdown
	MaxLocationAge   time.Duration // fixes older than this never count
	ArrivalThreshold float64       // meters
	MaxFixAge        time.Duration // freshness required to confirm arrival
}

func DefaultConfig() Config {
	return Config{
		RadiusMiles:      5,
		OfferTTL:         40 * time.Second,
		MaxLocationAge:   2 * time.Minute,
		ArrivalThreshold: proximity.ThresholdMeters,
		MaxFixAge:        30 * time.Second,
	}
}

type jobMonitor struct {
	workerID string
	mon      *proximity.Monitor
}

// Engine is the dispatch broadcaster plus the worker-facing job operations.
// It reacts to two event sources: the store's change feed and worker
// location/online events. Offer sessions live only here; their durable trace
// is the job's final status and workerId.
type Engine struct {
	store    store.JobStore
	registry geo.Registry
	notifier Notifier
	arbiter  *Arbiter
	payer    Payer
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]map[string]*Session // jobID -> workerID -> open session
	declined map[string]map[string]bool     // explicit declines per job
	history  map[string]map[string]bool     // every worker ever offered the job
	monitors map[string]*jobMonitor

	terminal chan *Session
}

func NewEngine(s store.JobStore, reg geo.Registry, n Notifier, payer Payer, cfg Config, logger *slog.Logger) *Engine {
	if cfg.OfferTTL <= 0 {
		cfg.OfferTTL = 40 * time.Second
	}
	if cfg.RadiusMiles <= 0 {
		cfg.RadiusMiles = 5
	}
	if cfg.ArrivalThreshold <= 0 {
		cfg.ArrivalThreshold = proximity.ThresholdMeters
	}
	return &Engine{
		store:    s,
		registry: reg,
		notifier: n,
		arbiter:  NewArbiter(s),
		payer:    payer,
		cfg:      cfg,
		logger:   logger.With("component", "dispatch_engine"),
		sessions: make(map[string]map[string]*Session),
		declined: make(map[string]map[string]bool),
		history:  make(map[string]map[string]bool),
		monitors: make(map[string]*jobMonitor),
		terminal: make(chan *Session, 256),
	}
}

// Arbiter exposes the engine's gate, mainly for the scheduler.
func (e *Engine) Arbiter() *Arbiter { return e.arbiter }

// Run consumes the store's change feed until ctx ends.
func (e *Engine) Run(ctx context.Context) {
	feed, cancel := e.store.Subscribe(ctx)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-e.terminal:
			e.onSessionTerminal(ctx, s)
		case c, ok := <-feed:
			if !ok {
				return
			}
			e.onJobChange(ctx, c)
		}
	}
}

func (e *Engine) onJobChange(ctx context.Context, c store.JobChange) {
	j := c.Job
	switch j.Status {
	case models.StatusAvailable:
		e.broadcast(ctx, j)
	case models.StatusAccepted:
		// winner decided elsewhere; fold the losers
		e.cancelSessions(j.ID, models.DeclineClaimed, j.WorkerID)
	case models.StatusCancelled:
		e.cancelSessions(j.ID, models.DeclineJobGone, "")
		e.cleanupJob(j.ID)
	case models.StatusCompleted, models.StatusRejected:
		e.cleanupJob(j.ID)
	}
}

// broadcast opens one offer session per eligible worker. Workers lacking a
// recent fix are excluded, not defaulted. Already-open sessions and workers
// who explicitly declined this job are skipped.
func (e *Engine) broadcast(ctx context.Context, job *models.Job) {
	cands := e.registry.Nearby(job.Pickup, e.cfg.RadiusMiles, e.cfg.MaxLocationAge)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range cands {
		if e.declined[job.ID][w.ID] {
			continue
		}
		if _, open := e.sessions[job.ID][w.ID]; open {
			continue
		}
		e.openSessionLocked(job, w)
	}
}

func (e *Engine) openSessionLocked(job *models.Job, w models.Worker) {
	s := newSession(job.ID, w.ID, e.cfg.OfferTTL, e.sessionTerminal)
	if e.sessions[job.ID] == nil {
		e.sessions[job.ID] = make(map[string]*Session)
	}
	e.sessions[job.ID][w.ID] = s
	if e.history[job.ID] == nil {
		e.history[job.ID] = make(map[string]bool)
	}
	e.history[job.ID][w.ID] = true
	observability.OffersBroadcast.Inc()

	offer := models.Offer{
		JobID:     job.ID,
		WasteType: job.WasteType,
		Pickup:    job.Pickup,
		ExpiresAt: s.ExpiresAt,
	}
	offer.DistanceMi = geo.Miles(geo.Haversine(w.Loc.Lat, w.Loc.Lon, job.Pickup.Lat, job.Pickup.Lon))
	if job.Pricing != nil {
		offer.WorkerPayout = job.Pricing.WorkerPayout
	}
	if e.notifier != nil {
		go e.notifier.Notify(w.ID, offer)
	}
	e.logger.Info("offer opened", "job_id", job.ID, "worker_id", w.ID, "expires_at", s.ExpiresAt)
}

func (e *Engine) sessionTerminal(s *Session) {
	select {
	case e.terminal <- s:
	default:
		go func() { e.terminal <- s }()
	}
}

// onSessionTerminal garbage-collects the session and, when the whole round
// for the job is over, decides between re-broadcast, waiting, or rejecting.
func (e *Engine) onSessionTerminal(ctx context.Context, s *Session) {
	state, reason := s.State()

	e.mu.Lock()
	if open, ok := e.sessions[s.JobID][s.WorkerID]; !ok || open != s {
		e.mu.Unlock()
		return
	}
	delete(e.sessions[s.JobID], s.WorkerID)
	if state == models.OfferDeclined && reason == models.DeclineByWorker {
		if e.declined[s.JobID] == nil {
			e.declined[s.JobID] = make(map[string]bool)
		}
		e.declined[s.JobID][s.WorkerID] = true
	}
	roundOver := len(e.sessions[s.JobID]) == 0
	if roundOver {
		delete(e.sessions, s.JobID)
	}
	e.mu.Unlock()

	if !roundOver || state == models.OfferAccepted {
		return
	}

	job, err := e.store.Get(ctx, s.JobID)
	if err != nil || job.Status != models.StatusAvailable {
		return
	}
	cands := e.eligibleRetry(job)
	if len(cands) > 0 {
		e.mu.Lock()
		for _, w := range cands {
			e.openSessionLocked(job, w)
		}
		e.mu.Unlock()
		return
	}
	e.mu.Lock()
	anyDeclined := len(e.declined[job.ID]) > 0
	e.mu.Unlock()
	if anyDeclined {
		if _, err := e.arbiter.Reject(ctx, job.ID); err == nil {
			e.logger.Info("job rejected, all candidates declined", "job_id", job.ID)
		}
	}
	// otherwise the job stays available; the next worker event re-evaluates
}

func (e *Engine) eligibleRetry(job *models.Job) []models.Worker {
	cands := e.registry.Nearby(job.Pickup, e.cfg.RadiusMiles, e.cfg.MaxLocationAge)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := cands[:0]
	for _, w := range cands {
		if e.declined[job.ID][w.ID] {
			continue
		}
		out = append(out, w)
	}
	return out
}

func (e *Engine) cancelSessions(jobID string, reason models.DeclineReason, exceptWorker string) {
	e.mu.Lock()
	open := make([]*Session, 0, len(e.sessions[jobID]))
	for wid, s := range e.sessions[jobID] {
		if wid == exceptWorker {
			continue
		}
		open = append(open, s)
	}
	e.mu.Unlock()
	for _, s := range open {
		_ = s.Decline(reason)
	}
}

func (e *Engine) cleanupJob(jobID string) {
	e.mu.Lock()
	delete(e.declined, jobID)
	delete(e.history, jobID)
	delete(e.monitors, jobID)
	e.mu.Unlock()
}

// OnFix ingests one worker location sample: registry update, proximity
// recomputation for the worker's active job, and re-evaluation of uncovered
// available jobs (this is how a job with no prior candidates gets picked up
// without polling).
func (e *Engine) OnFix(ctx context.Context, f models.Fix) {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	e.registry.Upsert(models.Worker{ID: f.WorkerID, Online: true, Loc: f.Loc, Updated: f.At})

	e.mu.Lock()
	for _, jm := range e.monitors {
		if jm.workerID == f.WorkerID {
			jm.mon.Observe(f)
		}
	}
	e.mu.Unlock()

	e.reevaluateFor(ctx, f.WorkerID, f.Loc)
}

// OnOnline marks a worker available for offers and re-runs eligibility with
// their last known fix.
func (e *Engine) OnOnline(ctx context.Context, workerID string) {
	prev, known := e.registry.Get(workerID)
	e.registry.SetOnline(workerID, true)
	if !known || !prev.Online {
		observability.WorkersOnline.Inc()
	}
	if w, ok := e.registry.Get(workerID); ok && !w.Updated.IsZero() {
		e.reevaluateFor(ctx, workerID, w.Loc)
	}
}

// OnOffline cancels all of the worker's open sessions immediately.
func (e *Engine) OnOffline(ctx context.Context, workerID string) {
	prev, known := e.registry.Get(workerID)
	e.registry.SetOnline(workerID, false)
	if known && prev.Online {
		observability.WorkersOnline.Dec()
	}

	e.mu.Lock()
	open := make([]*Session, 0)
	for _, byWorker := range e.sessions {
		if s, ok := byWorker[workerID]; ok {
			open = append(open, s)
		}
	}
	e.mu.Unlock()
	for _, s := range open {
		_ = s.Decline(models.DeclineOffline)
	}
}

func (e *Engine) reevaluateFor(ctx context.Context, workerID string, loc models.Coord) {
	w, ok := e.registry.Get(workerID)
	if !ok || !w.Online {
		return
	}
	// same freshness rule as the broadcast path: a worker without a recent
	// fix is excluded, not defaulted
	if w.Updated.IsZero() || (e.cfg.MaxLocationAge > 0 && time.Since(w.Updated) > e.cfg.MaxLocationAge) {
		return
	}
	avail, err := e.store.ListByStatus(ctx, models.StatusAvailable)
	if err != nil {
		return
	}
	maxMeters := geo.MilesToMeters(e.cfg.RadiusMiles)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, job := range avail {
		if e.declined[job.ID][workerID] {
			continue
		}
		if _, open := e.sessions[job.ID][workerID]; open {
			continue
		}
		if geo.Haversine(loc.Lat, loc.Lon, job.Pickup.Lat, job.Pickup.Lon) > maxMeters {
			continue
		}
		e.openSessionLocked(job, w)
	}
}

// AcceptOffer resolves a worker's accept through the arbiter. Exactly one of
// N concurrent accepts for a job returns the job; the rest get
// ErrJobAlreadyClaimed. Idempotent for the winner.
func (e *Engine) AcceptOffer(ctx context.Context, jobID, workerID string) (*models.Job, error) {
	e.mu.Lock()
	s := e.sessions[jobID][workerID]
	e.mu.Unlock()

	if s == nil {
		return e.acceptWithoutSession(ctx, jobID, workerID)
	}
	job, err := s.Accept(ctx, e.arbiter)
	if err != nil {
		return nil, err
	}
	e.startMonitor(job)
	return job, nil
}

// acceptWithoutSession handles accepts arriving after the session was
// garbage-collected: still safe because the arbiter is the authority.
func (e *Engine) acceptWithoutSession(ctx context.Context, jobID, workerID string) (*models.Job, error) {
	job, err := e.store.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoOffer
	}
	if err != nil {
		return nil, err
	}
	switch {
	case job.WorkerID == workerID && !job.Terminal() && job.Status != models.StatusAvailable:
		return job, nil // already won
	case job.Status == models.StatusAvailable:
		// expired only if this worker actually held an offer at some point
		e.mu.Lock()
		held := e.history[jobID][workerID]
		e.mu.Unlock()
		if held {
			return nil, ErrOfferExpired
		}
		return nil, ErrNoOffer
	case job.Assigned():
		return nil, ErrJobAlreadyClaimed
	default:
		return nil, ErrOfferExpired
	}
}

// DeclineOffer records an explicit rejection. Declining an already-settled
// offer is a no-op success.
func (e *Engine) DeclineOffer(ctx context.Context, jobID, workerID string) error {
	e.mu.Lock()
	s := e.sessions[jobID][workerID]
	e.mu.Unlock()
	if s == nil {
		return nil
	}
	err := s.Decline(models.DeclineByWorker)
	if errors.Is(err, ErrOfferExpired) {
		return nil
	}
	return err
}

// ConfirmArrival transitions accepted -> in_progress iff the worker's live
// position is inside the arrival threshold right now. A second call after
// success is an idempotent no-op: same state, no duplicate timestamps.
func (e *Engine) ConfirmArrival(ctx context.Context, jobID, workerID string) (*models.Job, error) {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.StatusInProgress && job.WorkerID == workerID {
		return job, nil
	}
	if job.Status != models.StatusAccepted || job.WorkerID != workerID {
		return nil, ErrInvalidTransition
	}

	mon := e.monitorFor(job)
	within, err := mon.WithinRange()
	if err != nil {
		return nil, err
	}
	if !within {
		observability.ArrivalsOutOfRange.Inc()
		return nil, proximity.ErrOutOfRange
	}
	updated, err := e.arbiter.StartProgress(ctx, jobID, workerID)
	if err != nil {
		return nil, err
	}
	observability.ArrivalsConfirmed.Inc()
	return updated, nil
}

// CompleteJob finishes the pickup and settles the worker's payout. The
// payout fires exactly once even under repeated complete calls.
func (e *Engine) CompleteJob(ctx context.Context, jobID, workerID string) (*models.Job, error) {
	job, fresh, err := e.arbiter.Complete(ctx, jobID, workerID)
	if err != nil {
		return nil, err
	}
	if fresh {
		e.cleanupJob(jobID)
		e.settle(ctx, job)
	}
	return job, nil
}

// CancelJob aborts the job and tears down any open sessions.
func (e *Engine) CancelJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := e.arbiter.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	e.cancelSessions(jobID, models.DeclineJobGone, "")
	e.cleanupJob(jobID)
	return job, nil
}

func (e *Engine) startMonitor(job *models.Job) {
	mon := proximity.NewMonitor(job.Pickup, e.cfg.ArrivalThreshold, e.cfg.MaxFixAge)
	if w, ok := e.registry.Get(job.WorkerID); ok && !w.Updated.IsZero() {
		mon.Observe(models.Fix{WorkerID: w.ID, Loc: w.Loc, At: w.Updated})
	}
	e.mu.Lock()
	e.monitors[job.ID] = &jobMonitor{workerID: job.WorkerID, mon: mon}
	e.mu.Unlock()
}

// monitorFor returns the job's proximity monitor, rebuilding it from the
// registry after a restart.
func (e *Engine) monitorFor(job *models.Job) *proximity.Monitor {
	e.mu.Lock()
	jm := e.monitors[job.ID]
	e.mu.Unlock()
	if jm != nil {
		return jm.mon
	}
	e.startMonitor(job)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.monitors[job.ID].mon
}

func (e *Engine) settle(ctx context.Context, job *models.Job) {
	if e.payer == nil || job.Pricing == nil {
		return
	}
	w, _ := e.registry.Get(job.WorkerID)
	if err := e.payer.Payout(ctx, job, w.PayoutAccount); err != nil {
		e.logger.Error("payout parked for settlement", "job_id", job.ID, "worker_id", job.WorkerID, "error", err)
	} else {
		w.Performance.CompletedJobs++
		w.Performance.TotalPayout += job.Pricing.WorkerPayout
		e.registry.Upsert(w)
	}
}
