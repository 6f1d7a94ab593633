// Package jobs owns the lifecycle of analysis jobs: submission, execution and lookup.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/findoc/internal/queue"
	"github.com/kiranshivaraju/findoc/internal/store"
	"github.com/kiranshivaraju/findoc/pkg/models"
	"go.uber.org/zap"
)

// Service records jobs in the result backend and hands them to the broker.
type Service struct {
	store  store.Store
	broker queue.Broker
	logger *zap.Logger
}

func NewService(st store.Store, br queue.Broker, logger *zap.Logger) *Service {
	return &Service{store: st, broker: br, logger: logger}
}

// NormalizeQuery trims q and falls back to models.DefaultQuery when nothing is left.
func NormalizeQuery(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return models.DefaultQuery
	}
	return q
}

// Submit creates a pending job for an already stored upload and publishes its task.
// The job is pollable as soon as Submit returns. A publish failure marks the job failed.
func (s *Service) Submit(ctx context.Context, fileRef, query string) (*models.Job, error) {
	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		FileRef:   fileRef,
		Query:     NormalizeQuery(query),
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	body, err := queue.Encode(queue.Task{JobID: job.ID, FileRef: job.FileRef, Query: job.Query})
	if err != nil {
		return nil, fmt.Errorf("encoding task: %w", err)
	}

	if err := s.broker.Publish(ctx, body); err != nil {
		msg := fmt.Sprintf("enqueue failed: %v", err)
		if uerr := s.store.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, models.JobStatusFailed, store.WithErrorMessage(msg)); uerr != nil {
			s.logger.Error("failed to mark unqueued job failed", zap.String("job_id", job.ID.String()), zap.Error(uerr))
		}
		return nil, fmt.Errorf("publishing task: %w", err)
	}

	s.logger.Info("job submitted", zap.String("job_id", job.ID.String()), zap.String("file_ref", job.FileRef))
	return job, nil
}

// Lookup returns the job with the given id. Malformed ids are reported as store.ErrNotFound.
func (s *Service) Lookup(ctx context.Context, id string) (*models.Job, error) {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	return s.store.GetJob(ctx, jobID)
}
