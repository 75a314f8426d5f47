package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/snapshot"
)

// scriptedExecutor runs tasks with a per-description outcome script.
type scriptedExecutor struct {
	mu       sync.Mutex
	attempts map[string]int
	fail     map[string]int // description -> number of failing attempts
	panics   map[string]bool
	order    []string
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		attempts: make(map[string]int),
		fail:     make(map[string]int),
		panics:   make(map[string]bool),
	}
}

func (e *scriptedExecutor) ExecuteTask(_ context.Context, task *core.Task) (string, error) {
	e.mu.Lock()
	e.attempts[task.Description]++
	n := e.attempts[task.Description]
	e.order = append(e.order, task.Description)
	failing := e.fail[task.Description]
	shouldPanic := e.panics[task.Description]
	e.mu.Unlock()

	if shouldPanic {
		panic("executor exploded")
	}
	if n <= failing {
		return "", errors.New("worker unavailable")
	}
	return "done: " + task.Description, nil
}

func (e *scriptedExecutor) attemptCount(description string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[description]
}

func (e *scriptedExecutor) executionOrder() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

func drain(t *testing.T, m *Manager, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		m.ProcessNow()
		st := m.Stats()
		return st.Completed+st.Failed >= uint64(want) && st.Running == 0
	}, 5*time.Second, time.Millisecond)
}

func TestManager_AddTask(t *testing.T) {
	m := New(newScriptedExecutor())

	task, err := m.AddTask("builds", "compile", func(o *TaskOptions) {
		o.Priority = 7
	})
	require.NoError(t, err)
	assert.Equal(t, core.TaskPending, task.Status)
	assert.Equal(t, 7, task.Priority)
	assert.Equal(t, 3, task.MaxRetries)
	assert.NotEmpty(t, task.ID)

	got, err := m.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "compile", got.Description)
}

func TestManager_QueueFull(t *testing.T) {
	m := New(newScriptedExecutor(), func(o *Options) {
		o.MaxQueueLength = 2
	})

	_, err := m.AddTask("q", "a")
	require.NoError(t, err)
	_, err = m.AddTask("q", "b")
	require.NoError(t, err)

	_, err = m.AddTask("q", "c")
	assert.ErrorIs(t, err, ErrQueueFull)

	// Other queues are unaffected by one queue being full.
	_, err = m.AddTask("other", "d")
	assert.NoError(t, err)
}

func TestManager_PriorityOrdering(t *testing.T) {
	exec := newScriptedExecutor()
	m := New(exec, func(o *Options) {
		o.MaxConcurrent = 1
	})

	_, err := m.AddTask("q", "first-5", func(o *TaskOptions) { o.Priority = 5 })
	require.NoError(t, err)
	_, err = m.AddTask("q", "low-1", func(o *TaskOptions) { o.Priority = 1 })
	require.NoError(t, err)
	_, err = m.AddTask("q", "second-5", func(o *TaskOptions) { o.Priority = 5 })
	require.NoError(t, err)

	drain(t, m, 3)

	// Priority descending, FIFO among equal priorities.
	assert.Equal(t, []string{"first-5", "second-5", "low-1"}, exec.executionOrder())
}

func TestManager_RetryBudgetIsAttempts(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fail["always"] = 1000
	m := New(exec, func(o *Options) {
		o.DefaultMaxRetries = 2
	})

	task, err := m.AddTask("q", "always")
	require.NoError(t, err)

	drain(t, m, 1)

	// MaxRetries=2 means exactly 3 attempts: the first plus two retries.
	assert.Equal(t, 3, exec.attemptCount("always"))

	got, err := m.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.NotEmpty(t, got.Error)
}

func TestManager_RetryThenSucceed(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fail["flaky"] = 1
	m := New(exec)

	task, err := m.AddTask("q", "flaky")
	require.NoError(t, err)

	drain(t, m, 1)

	assert.Equal(t, 2, exec.attemptCount("flaky"))
	got, err := m.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, got.Status)
	assert.Equal(t, "done: flaky", got.Result)
	assert.Empty(t, got.Error)
	assert.Equal(t, uint64(1), m.Stats().Retried)
}

func TestManager_PanicIsolation(t *testing.T) {
	exec := newScriptedExecutor()
	exec.panics["boom"] = true
	m := New(exec, func(o *Options) {
		o.DefaultMaxRetries = 0
	})

	boom, err := m.AddTask("q", "boom")
	require.NoError(t, err)
	fine, err := m.AddTask("q", "fine")
	require.NoError(t, err)

	drain(t, m, 2)

	got, err := m.GetTask(boom.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, got.Status)
	assert.Contains(t, got.Error, "panicked")

	got, err = m.GetTask(fine.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, got.Status)
}

func TestManager_TerminalFailureNotifies(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fail["doomed"] = 10
	var mu sync.Mutex
	var notes []string
	notifier := core.NotifierFunc(func(_ context.Context, channel, text string) error {
		mu.Lock()
		defer mu.Unlock()
		notes = append(notes, channel+": "+text)
		return nil
	})
	m := New(exec, func(o *Options) {
		o.DefaultMaxRetries = 0
		o.Notifier = notifier
	})

	_, err := m.AddTask("q", "doomed")
	require.NoError(t, err)

	drain(t, m, 1)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "task-failures")
	assert.Contains(t, notes[0], "failed after 1 attempts")
}

func TestManager_RemoveTask(t *testing.T) {
	m := New(newScriptedExecutor())

	task, err := m.AddTask("q", "a")
	require.NoError(t, err)

	require.NoError(t, m.RemoveTask(task.ID))
	assert.ErrorIs(t, m.RemoveTask(task.ID), ErrTaskNotFound)

	_, err = m.GetTask(task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestManager_ClearQueue(t *testing.T) {
	m := New(newScriptedExecutor())

	_, err := m.AddTask("q", "a")
	require.NoError(t, err)
	_, err = m.AddTask("q", "b")
	require.NoError(t, err)

	n, err := m.ClearQueue("q")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = m.ClearQueue("missing")
	assert.ErrorIs(t, err, ErrQueueNotFound)
}

func TestManager_RestoreFromSnapshot(t *testing.T) {
	store := snapshot.NewMemoryStore()

	m1 := New(newScriptedExecutor(), func(o *Options) { o.Store = store })
	for _, d := range []string{"a", "b", "c"} {
		_, err := m1.AddTask("q", d)
		require.NoError(t, err)
	}

	m2 := New(newScriptedExecutor(), func(o *Options) { o.Store = store })
	tasks, err := m2.GetQueue("q")
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, core.TaskPending, task.Status)
	}
}

func TestManager_RestoreResetsRunningTasks(t *testing.T) {
	store := snapshot.NewMemoryStore()
	started := time.Now()
	require.NoError(t, store.Write("task_queues", map[string]any{
		"queues": map[string][]*core.Task{
			"q": {{ID: "t1", Queue: "q", Description: "interrupted", Status: core.TaskRunning, Started: &started}},
		},
	}))

	m := New(newScriptedExecutor(), func(o *Options) { o.Store = store })
	got, err := m.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskPending, got.Status)
	assert.Nil(t, got.Started)
}

func TestManager_StartStop(t *testing.T) {
	exec := newScriptedExecutor()
	m := New(exec, func(o *Options) {
		o.PollInterval = 5 * time.Millisecond
	})

	_, err := m.AddTask("q", "a")
	require.NoError(t, err)

	m.Start(context.Background())
	assert.Eventually(t, func() bool {
		return m.Stats().Completed == 1
	}, 5*time.Second, time.Millisecond)
	m.Stop()
}

func TestManager_MaxConcurrent(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var active, peak int
	exec := core.TaskExecutorFunc(func(context.Context, *core.Task) (string, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		return "ok", nil
	})

	m := New(exec, func(o *Options) {
		o.MaxConcurrent = 2
	})
	for i := 0; i < 5; i++ {
		_, err := m.AddTask("q", "work")
		require.NoError(t, err)
	}

	m.ProcessNow()
	assert.Equal(t, 2, m.Stats().Running)

	close(release)
	drain(t, m, 5)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}
