package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/findoc/internal/api/response"
	"github.com/kiranshivaraju/findoc/internal/store"
	"github.com/kiranshivaraju/findoc/pkg/models"
	"go.uber.org/zap"
)

// JobLookup defines the job lookup the result handler depends on.
type JobLookup interface {
	Lookup(ctx context.Context, id string) (*models.Job, error)
}

type resultResponse struct {
	Status string  `json:"status"`
	Result *string `json:"result,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// NewResultHandler returns an http.HandlerFunc for GET /result/{task_id}.
func NewResultHandler(svc JobLookup, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "task_id")

		job, err := svc.Lookup(r.Context(), taskID)
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(w, "No task found with this id; it may have expired")
			return
		}
		if err != nil {
			logger.Error("failed to look up job", zap.String("task_id", taskID), zap.Error(err))
			response.Error(w, http.StatusInternalServerError, "Failed to fetch task status")
			return
		}

		response.OK(w, pollBody(job))
	}
}

func pollBody(job *models.Job) resultResponse {
	switch job.Status {
	case models.JobStatusCompleted:
		res := ""
		if job.Result != nil {
			res = *job.Result
		}
		return resultResponse{Status: job.Status, Result: &res}
	case models.JobStatusFailed:
		msg := ""
		if job.ErrorMessage != nil {
			msg = *job.ErrorMessage
		}
		return resultResponse{Status: job.Status, Error: &msg}
	default:
		return resultResponse{Status: job.Status}
	}
}
