package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// DefaultQuery is used when a submission carries no query or a blank one.
const DefaultQuery = "Analyze this financial document for investment insights"

// Job tracks one asynchronous document analysis. The API returns its ID as task_id on
// POST /analyze; the client polls GET /result/{task_id} until status is completed or failed.
// Only the worker executing the job mutates it after creation.
type Job struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	FileRef      string     `db:"file_ref"      json:"file_ref"`
	Query        string     `db:"query"         json:"query"`
	Status       string     `db:"status"        json:"status"`
	Result       *string    `db:"result"        json:"result,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// Terminal reports whether the job reached completed or failed.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
