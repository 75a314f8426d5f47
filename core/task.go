package core

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

// Possible task status values.
const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is a discrete unit of work submitted to a named queue for eventual
// execution against a worker session. Tasks are owned by the queue manager;
// everything handed out of the manager is a Clone.
//
// Invariant: RetryCount never exceeds MaxRetries. A task may be retried only while its
// status is FAILED and RetryCount < MaxRetries.
type Task struct {
	ID          string     `json:"id"`
	Queue       string     `json:"queue"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	Status      TaskStatus `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	Created     time.Time  `json:"created"`
	Started     *time.Time `json:"started,omitempty"`
	Completed   *time.Time `json:"completed,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// NewTask creates a pending task for the given queue.
func NewTask(queue, description string, priority, maxRetries int) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Queue:       queue,
		Description: description,
		Priority:    priority,
		Status:      TaskPending,
		MaxRetries:  maxRetries,
		Created:     time.Now(),
	}
}

// CanRetry reports whether the task is eligible for another attempt.
func (t *Task) CanRetry() bool {
	return t.Status == TaskFailed && t.RetryCount < t.MaxRetries
}

// Clone returns a copy of the task safe for independent use.
func (t *Task) Clone() *Task {
	clone := *t
	if t.Started != nil {
		started := *t.Started
		clone.Started = &started
	}
	if t.Completed != nil {
		completed := *t.Completed
		clone.Completed = &completed
	}
	return &clone
}
