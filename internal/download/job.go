package download

import (
	"time"

	"github.com/scriptgen/backend/internal/cache"
)

// Task status constants representing the queue lifecycle. They track
// delivery only; job outcomes live in the durable record.
const (
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Task is a unit of work in the queue. ID is the run id reported to
// clients and used as the status cache key.
type Task struct {
	ID          string     `json:"id"`
	Kind        cache.Kind `json:"kind"`
	JobID       string     `json:"job_id"`
	URL         string     `json:"url,omitempty"`
	URLs        []string   `json:"urls,omitempty"`
	Quality     string     `json:"quality,omitempty"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the task is in a terminal state
func (t *Task) IsTerminal() bool {
	return t.Status == StatusComplete || t.Status == StatusFailed
}

// CanRetry returns true if the task can be retried
func (t *Task) CanRetry(maxRetries int) bool {
	return t.Status == StatusFailed && t.RetryCount < maxRetries
}
