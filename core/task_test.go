package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	task := NewTask("builds", "compile", 5, 3)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "builds", task.Queue)
	assert.Equal(t, TaskPending, task.Status)
	assert.Equal(t, 5, task.Priority)
	assert.Equal(t, 3, task.MaxRetries)
	assert.Zero(t, task.RetryCount)
	assert.Nil(t, task.Started)
}

func TestTask_CanRetry(t *testing.T) {
	tests := []struct {
		name       string
		status     TaskStatus
		retryCount int
		maxRetries int
		want       bool
	}{
		{"failed with budget", TaskFailed, 0, 3, true},
		{"failed at last retry", TaskFailed, 2, 3, true},
		{"failed budget exhausted", TaskFailed, 3, 3, false},
		{"pending never retries", TaskPending, 0, 3, false},
		{"running never retries", TaskRunning, 0, 3, false},
		{"completed never retries", TaskCompleted, 0, 3, false},
		{"zero budget", TaskFailed, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{Status: tt.status, RetryCount: tt.retryCount, MaxRetries: tt.maxRetries}
			assert.Equal(t, tt.want, task.CanRetry())
		})
	}
}

func TestTask_Clone(t *testing.T) {
	started := time.Now()
	task := NewTask("q", "work", 1, 2)
	task.Started = &started

	clone := task.Clone()
	require.NotSame(t, task, clone)
	assert.Equal(t, task.ID, clone.ID)

	// Mutating the clone's pointer fields must not touch the original.
	*clone.Started = started.Add(time.Hour)
	assert.Equal(t, started, *task.Started)
}
