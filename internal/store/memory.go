package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/findoc/pkg/models"
)

type memoryEntry struct {
	job       models.Job
	expiresAt time.Time
}

// MemoryStore is an in-process Store for single-binary deployments and tests.
// Expired entries are evicted lazily on access.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*memoryEntry
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*memoryEntry),
		ttl:  ttl,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error              { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(job.ID); ok {
		return ErrDuplicateKey
	}
	s.jobs[job.ID] = &memoryEntry{job: cloneJob(*job), expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	j := cloneJob(e.job)
	return &j, nil
}

func (s *MemoryStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	j := cloneJob(e.job)
	now := s.now()
	if err := applyUpdate(&j, status, opts, now); err != nil {
		return err
	}
	e.job = j
	e.expiresAt = now.Add(s.ttl)
	return nil
}

// lookup returns the live entry for id, dropping it if expired. Caller holds mu.
func (s *MemoryStore) lookup(id uuid.UUID) (*memoryEntry, bool) {
	e, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.jobs, id)
		return nil, false
	}
	return e, true
}

// cloneJob copies the pointer fields so callers cannot mutate stored state.
func cloneJob(j models.Job) models.Job {
	c := j
	c.Result = clonePtr(j.Result)
	c.ErrorMessage = clonePtr(j.ErrorMessage)
	c.StartedAt = clonePtr(j.StartedAt)
	c.CompletedAt = clonePtr(j.CompletedAt)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
