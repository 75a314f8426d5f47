package queue

import "errors"

var (
	// ErrQueueFull is returned by AddTask when the target queue is at its
	// configured maximum length.
	ErrQueueFull = errors.New("task queue is full")

	// ErrQueueNotFound is returned by manual operations referencing an
	// unknown queue.
	ErrQueueNotFound = errors.New("queue not found")

	// ErrTaskNotFound is returned by manual operations referencing an
	// unknown task.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskRunning is returned when removing a task that is currently
	// executing.
	ErrTaskRunning = errors.New("task is running")
)
