package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/findoc/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the result backend. All job state reads and writes go through here.
// Implementations must be safe for concurrent use by the gateway and every worker.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
}

type jobUpdateParams struct {
	ErrorMessage *string
	Result       *string
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithResult(result string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Result = &result
	}
}

// running -> running covers a task redelivered after a worker died mid-run.
var validTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusRunning, models.JobStatusFailed},
	models.JobStatusRunning: {models.JobStatusRunning, models.JobStatusCompleted, models.JobStatusFailed},
}

func checkTransition(current, next string) error {
	for _, a := range validTransitions[current] {
		if a == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
}

// applyUpdate mutates job in place to reflect a validated transition.
func applyUpdate(job *models.Job, status string, opts []JobUpdateOption, now time.Time) error {
	if err := checkTransition(job.Status, status); err != nil {
		return err
	}
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	job.Status = status
	job.UpdatedAt = now
	switch status {
	case models.JobStatusRunning:
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	case models.JobStatusCompleted, models.JobStatusFailed:
		job.CompletedAt = &now
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.Result != nil {
		job.Result = params.Result
	}
	return nil
}
