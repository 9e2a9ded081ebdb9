package store

import (
	"context"
	"sync"
	"time"

	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
)

// MemoryStore is the in-process JobStore. It backs single-node deployments
// and every test; the conditional update runs under one mutex so at most one
// of any set of racing TryUpdate calls can observe the expected state.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	subs map[int]chan JobChange
	next int
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Job),
		subs: make(map[int]chan JobChange),
		now:  time.Now,
	}
}

func (m *MemoryStore) Create(ctx context.Context, j *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = m.now()
	}
	m.jobs[j.ID] = j.Clone()
	m.notifyLocked(JobChange{Job: j.Clone(), Kind: ChangeCreated})
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (m *MemoryStore) TryUpdate(ctx context.Context, id string, expect Expect, apply func(*models.Job)) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !expect.matches(j) {
		return nil, ErrConflict
	}
	next := j.Clone()
	apply(next)
	m.jobs[id] = next
	m.notifyLocked(JobChange{Job: next.Clone(), Kind: ChangeUpdated})
	return next.Clone(), nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Job, 0)
	for _, j := range m.jobs {
		if j.Status == status {
			out = append(out, j.Clone())
		}
	}
	return out, nil
}

// Subscribe returns a buffered change feed and a cancel func. A subscriber
// that falls more than the buffer behind loses the oldest semantics it never
// read; the dispatcher re-reads job state before acting, so a dropped event
// delays rather than corrupts.
func (m *MemoryStore) Subscribe(ctx context.Context) (<-chan JobChange, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	ch := make(chan JobChange, 128)
	m.subs[id] = ch
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (m *MemoryStore) notifyLocked(c JobChange) {
	for _, ch := range m.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
