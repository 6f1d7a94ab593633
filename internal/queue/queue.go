// Package queue carries analysis tasks from the gateway to workers.
//
// Every Broker delivers at least once. A delivery that is neither acked nor
// nacked before its consumer dies is handed out again, so handlers must be
// idempotent on the job id.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrMalformedTask = errors.New("malformed task payload")
var ErrClosed = errors.New("broker closed")

// Task is the payload published for one job.
type Task struct {
	JobID   uuid.UUID `json:"job_id"`
	FileRef string    `json:"file_ref"`
	Query   string    `json:"query"`
}

func Encode(t Task) ([]byte, error) {
	return json.Marshal(t)
}

// Decode parses a task payload. Payloads missing a job id or file reference are rejected.
func Decode(body []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	if t.JobID == uuid.Nil {
		return Task{}, fmt.Errorf("%w: missing job_id", ErrMalformedTask)
	}
	if t.FileRef == "" {
		return Task{}, fmt.Errorf("%w: missing file_ref", ErrMalformedTask)
	}
	return t, nil
}

// Delivery is one task handed to a consumer. Exactly one of Ack or Nack should be called.
type Delivery interface {
	Body() []byte
	Ack(ctx context.Context) error
	// Nack returns the task to the queue for another attempt.
	Nack(ctx context.Context) error
}

// Broker is a durable FIFO task queue with competing consumers.
type Broker interface {
	Publish(ctx context.Context, body []byte) error
	// Consume starts a consumer that holds at most one unacknowledged delivery at a time.
	// The channel is closed once ctx is done.
	Consume(ctx context.Context, consumer string) (<-chan Delivery, error)
	Ping(ctx context.Context) error
	Close() error
}
