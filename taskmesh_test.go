package taskmesh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/queue"
	"github.com/taskmesh/taskmesh/session"
	"github.com/taskmesh/taskmesh/snapshot"
)

// echoProcess answers every message with a deterministic reply.
type echoProcess struct {
	mu      sync.Mutex
	project string
	alive   bool
}

func (p *echoProcess) Send(_ context.Context, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive {
		return "", errors.New("process dead")
	}
	return fmt.Sprintf("[%s] %s", p.project, text), nil
}

func (p *echoProcess) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *echoProcess) Token() string { return "" }

func (p *echoProcess) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
	return nil
}

type echoLauncher struct{}

func (echoLauncher) Launch(_ context.Context, project string) (core.WorkerProcess, error) {
	return &echoProcess{project: project, alive: true}, nil
}

func fastSessions(o *Options) {
	o.SessionOptions = append(o.SessionOptions, func(so *session.Options) {
		so.RatePerSecond = 10_000
		so.RateBurst = 10_000
	})
}

func TestMesh_TaskFlowsThroughSession(t *testing.T) {
	mesh := New(echoLauncher{}, fastSessions)

	task, err := mesh.AddTask("alpha", "do the thing", func(o *queue.TaskOptions) {
		o.Priority = 2
	})
	require.NoError(t, err)

	mesh.Queues().ProcessNow()
	require.Eventually(t, func() bool {
		got, err := mesh.Queues().GetTask(task.ID)
		return err == nil && got.Status == core.TaskCompleted
	}, 5*time.Second, time.Millisecond)

	got, err := mesh.Queues().GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "[alpha] do the thing", got.Result)

	// The session created for the queue is reused for later tasks.
	sessions := mesh.Sessions().Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "alpha", sessions[0].Project)
}

func TestMesh_ScheduleEnqueuesIntoScheduledQueue(t *testing.T) {
	mesh := New(echoLauncher{}, fastSessions)

	err := mesh.RunScheduledTask(context.Background(), "nightly report")
	require.NoError(t, err)

	tasks, err := mesh.Queues().GetQueue(ScheduledQueue)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "nightly report", tasks[0].Description)
	assert.Equal(t, core.TaskPending, tasks[0].Status)
}

func TestMesh_StartStop(t *testing.T) {
	store := snapshot.NewMemoryStore()
	mesh := New(echoLauncher{}, fastSessions, func(o *Options) {
		o.Store = store
		o.QueueOptions = append(o.QueueOptions, func(qo *queue.Options) {
			qo.PollInterval = 5 * time.Millisecond
		})
	})

	_, err := mesh.AddTask("alpha", "work")
	require.NoError(t, err)
	_, err = mesh.AddSchedule("0 3 * * *", []string{"cleanup"})
	require.NoError(t, err)

	mesh.Start(context.Background())
	require.Eventually(t, func() bool {
		return mesh.Status().Queues.Completed == 1
	}, 5*time.Second, time.Millisecond)
	mesh.Stop()

	st := mesh.Status()
	assert.Equal(t, 0, st.Sessions.Sessions, "shutdown must terminate sessions")
	assert.Equal(t, 1, st.Schedules.Schedules)

	// State survives into a fresh mesh over the same store.
	mesh2 := New(echoLauncher{}, fastSessions, func(o *Options) {
		o.Store = store
	})
	assert.Len(t, mesh2.Scheduler().List(), 1)
	tasks, err := mesh2.Queues().GetQueue("alpha")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestMesh_StatusAggregates(t *testing.T) {
	mesh := New(echoLauncher{}, fastSessions)

	sess, err := mesh.CreateSession(context.Background(), "alpha")
	require.NoError(t, err)
	_, err = mesh.SendMessage(context.Background(), sess.ID, "hello")
	require.NoError(t, err)

	st := mesh.Status()
	assert.Equal(t, 1, st.Sessions.Sessions)
	assert.Equal(t, uint64(1), st.Sessions.Messages)
}

type failLauncher struct{}

func (failLauncher) Launch(_ context.Context, project string) (core.WorkerProcess, error) {
	return &echoProcess{project: project, alive: false}, nil
}

func TestMesh_BatchedFailureNotifications(t *testing.T) {
	var mu sync.Mutex
	var notes []string
	notifier := core.NotifierFunc(func(_ context.Context, channel, text string) error {
		mu.Lock()
		defer mu.Unlock()
		notes = append(notes, channel+": "+text)
		return nil
	})

	mesh := New(failLauncher{}, fastSessions, func(o *Options) {
		o.Notifier = notifier
		o.NotifyBatchWait = 10 * time.Millisecond
		o.NotifyBatchSize = 16
		o.QueueOptions = append(o.QueueOptions, func(qo *queue.Options) {
			qo.PollInterval = 5 * time.Millisecond
			qo.DefaultMaxRetries = 0
		})
	})

	_, err := mesh.AddTask("alpha", "task one")
	require.NoError(t, err)
	_, err = mesh.AddTask("alpha", "task two")
	require.NoError(t, err)

	mesh.Start(context.Background())
	require.Eventually(t, func() bool {
		return mesh.Status().Queues.Failed == 2
	}, 5*time.Second, time.Millisecond)
	mesh.Stop()

	mu.Lock()
	defer mu.Unlock()
	joined := strings.Join(notes, "\n")
	assert.Contains(t, joined, "task-failures")
	assert.Contains(t, joined, "failed after 1 attempts")
	assert.LessOrEqual(t, len(notes), 2, "failures on one channel should coalesce")
}
