package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/findoc/internal/cache"
	"github.com/kiranshivaraju/findoc/pkg/models"
)

// RedisStore keeps each job as a JSON document under cache.JobKey, expiring ttl after its last write.
type RedisStore struct {
	cache  cache.Cache
	ttl    time.Duration
	closer func() error
}

// NewRedisStore creates a RedisStore over an existing cache.
func NewRedisStore(c cache.Cache, ttl time.Duration) *RedisStore {
	return &RedisStore{cache: c, ttl: ttl}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

func (s *RedisStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *RedisStore) CreateJob(ctx context.Context, job *models.Job) error {
	return s.cache.Update(ctx, cache.JobKey(job.ID), s.ttl, func(_ []byte, found bool) ([]byte, error) {
		if found {
			return nil, ErrDuplicateKey
		}
		return json.Marshal(job)
	})
}

func (s *RedisStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	data, found, err := s.cache.Get(ctx, cache.JobKey(id))
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	var j models.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}

func (s *RedisStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	return s.cache.Update(ctx, cache.JobKey(id), s.ttl, func(current []byte, found bool) ([]byte, error) {
		if !found {
			return nil, ErrNotFound
		}
		var j models.Job
		if err := json.Unmarshal(current, &j); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", id, err)
		}
		if err := applyUpdate(&j, status, opts, time.Now().UTC()); err != nil {
			return nil, err
		}
		return json.Marshal(&j)
	})
}
