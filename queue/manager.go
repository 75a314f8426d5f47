package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
)

// failureChannel is the notification channel used for terminal task
// failures.
const failureChannel = "task-failures"

// Options configures a Manager.
type Options struct {
	// Store persists queue snapshots. Defaults to no persistence when nil.
	Store core.SnapshotStore

	// SnapshotName is the snapshot document name. Defaults to "task_queues".
	SnapshotName string

	// Notifier receives best-effort notifications about terminal task
	// failures. Defaults to NoOp.
	Notifier core.Notifier

	// MaxQueueLength bounds each named queue. Defaults to 100.
	MaxQueueLength int

	// MaxConcurrent bounds simultaneously executing tasks. Defaults to 2.
	MaxConcurrent int

	// PollInterval is the dispatch loop period. Defaults to one second.
	PollInterval time.Duration

	// DefaultMaxRetries applies to tasks added without an explicit retry
	// budget. Defaults to 3.
	DefaultMaxRetries int

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// TaskOptions configures one AddTask call.
type TaskOptions struct {
	Priority   int
	MaxRetries int
}

// Manager owns all named task queues.
type Manager struct {
	executor core.TaskExecutor
	opts     Options
	logger   logging.Logger

	mu      sync.Mutex
	queues  map[string][]*core.Task
	running int

	dispatched uint64
	completed  uint64
	failed     uint64
	retried    uint64

	execCtx context.Context
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
	taskWG  sync.WaitGroup
}

// Stats is a point-in-time snapshot of queue manager counters.
type Stats struct {
	Queues     int                     `json:"queues"`
	Tasks      int                     `json:"tasks"`
	ByStatus   map[core.TaskStatus]int `json:"by_status"`
	Running    int                     `json:"running"`
	Dispatched uint64                  `json:"dispatched"`
	Completed  uint64                  `json:"completed"`
	Failed     uint64                  `json:"failed"`
	Retried    uint64                  `json:"retried"`
}

// queuesSnapshot is the persisted layout:
//
//	{"queues": {"<name>": [ {task fields} ]}, "last_updated": "<iso8601>"}
type queuesSnapshot struct {
	Queues      map[string][]*core.Task `json:"queues"`
	LastUpdated time.Time               `json:"last_updated"`
}

// New creates a queue manager executing tasks through the given executor.
// The executor is required; there is no post-construction callback wiring.
// Persisted queues are restored immediately, with previously RUNNING tasks
// reset to PENDING since their executions did not survive the restart.
func New(executor core.TaskExecutor, optFns ...func(o *Options)) *Manager {
	opts := Options{
		SnapshotName:      "task_queues",
		Notifier:          core.NoOpNotifier{},
		MaxQueueLength:    100,
		MaxConcurrent:     2,
		PollInterval:      time.Second,
		DefaultMaxRetries: 3,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxQueueLength <= 0 {
		opts.MaxQueueLength = 100
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Notifier == nil {
		opts.Notifier = core.NoOpNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	m := &Manager{
		executor: executor,
		opts:     opts,
		logger:   opts.Logger,
		queues:   make(map[string][]*core.Task),
		execCtx:  context.Background(),
	}
	m.restore()
	return m
}

// restore loads the persisted queue snapshot, if any.
func (m *Manager) restore() {
	if m.opts.Store == nil {
		return
	}
	var snap queuesSnapshot
	ok, err := m.opts.Store.Read(m.opts.SnapshotName, &snap)
	if err != nil {
		m.logger.Warn("queue snapshot restore failed", "error", err)
		return
	}
	if !ok {
		return
	}
	restored := 0
	for name, tasks := range snap.Queues {
		for _, t := range tasks {
			if t.Status == core.TaskRunning {
				// The execution did not survive the restart.
				t.Status = core.TaskPending
				t.Started = nil
			}
		}
		m.queues[name] = tasks
		m.sortQueueLocked(name)
		restored += len(tasks)
	}
	m.logger.Info("queue snapshot restored", "queues", len(snap.Queues), "tasks", restored)
}

// AddTask appends a task to the named queue and re-sorts it by priority
// (descending, FIFO among ties). It fails with ErrQueueFull when the queue
// is at capacity. The full snapshot is persisted synchronously.
func (m *Manager) AddTask(queueName, description string, optFns ...func(o *TaskOptions)) (*core.Task, error) {
	taskOpts := TaskOptions{MaxRetries: m.opts.DefaultMaxRetries}
	for _, fn := range optFns {
		fn(&taskOpts)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queues[queueName]) >= m.opts.MaxQueueLength {
		return nil, fmt.Errorf("%w: queue %q at capacity %d", ErrQueueFull, queueName, m.opts.MaxQueueLength)
	}

	task := core.NewTask(queueName, description, taskOpts.Priority, taskOpts.MaxRetries)
	m.queues[queueName] = append(m.queues[queueName], task)
	m.sortQueueLocked(queueName)
	m.persistLocked()

	m.logger.Info("task added", "task_id", task.ID, "queue", queueName, "priority", task.Priority)
	return task.Clone(), nil
}

// GetQueue returns copies of all tasks in the named queue in dispatch order.
func (m *Manager) GetQueue(queueName string) ([]*core.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks, ok := m.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrQueueNotFound, queueName)
	}
	out := make([]*core.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out, nil
}

// GetTask returns a copy of the task with the given id.
func (m *Manager) GetTask(id string) (*core.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tasks := range m.queues {
		for _, t := range tasks {
			if t.ID == id {
				return t.Clone(), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// RemoveTask deletes a task that is not currently executing.
func (m *Manager) RemoveTask(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, tasks := range m.queues {
		for i, t := range tasks {
			if t.ID != id {
				continue
			}
			if t.Status == core.TaskRunning {
				return fmt.Errorf("%w: %s", ErrTaskRunning, id)
			}
			m.queues[name] = append(tasks[:i], tasks[i+1:]...)
			m.persistLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// ClearQueue removes every non-running task from the named queue and
// returns how many were removed.
func (m *Manager) ClearQueue(queueName string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks, ok := m.queues[queueName]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrQueueNotFound, queueName)
	}
	var kept []*core.Task
	for _, t := range tasks {
		if t.Status == core.TaskRunning {
			kept = append(kept, t)
		}
	}
	removed := len(tasks) - len(kept)
	m.queues[queueName] = kept
	m.persistLocked()
	return removed, nil
}

// Queues returns the sorted names of all queues.
func (m *Manager) Queues() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches the dispatch loop. In-flight executions use a context
// detached from ctx so shutdown does not forcibly cancel them.
func (m *Manager) Start(ctx context.Context) {
	m.execCtx = context.WithoutCancel(ctx)
	ctx, m.cancel = context.WithCancel(ctx)
	m.loopWG.Add(1)
	go func() {
		defer m.loopWG.Done()
		ticker := time.NewTicker(m.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.dispatch()
			}
		}
	}()
}

// Stop cancels the dispatch loop and waits for it and for all in-flight
// task executions to finish. Executions are not forcibly cancelled.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.loopWG.Wait()
	m.taskWG.Wait()
}

// ProcessNow runs one synchronous dispatch pass, for manual triggering.
func (m *Manager) ProcessNow() {
	m.dispatch()
}

// dispatch pulls runnable tasks while concurrency budget remains. Each task
// executes on its own goroutine; the loop itself never blocks on a task.
func (m *Manager) dispatch() {
	for {
		m.mu.Lock()
		if m.running >= m.opts.MaxConcurrent {
			m.mu.Unlock()
			return
		}
		task := m.nextPendingLocked()
		if task == nil {
			m.mu.Unlock()
			return
		}
		now := time.Now()
		task.Status = core.TaskRunning
		task.Started = &now
		m.running++
		m.dispatched++
		m.persistLocked()
		m.mu.Unlock()

		m.taskWG.Add(1)
		go m.execute(task)
	}
}

// nextPendingLocked returns the highest-priority PENDING task across all
// queues. Queues are scanned in name order so selection is deterministic;
// within a queue the slice is already in dispatch order.
func (m *Manager) nextPendingLocked() *core.Task {
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)

	var best *core.Task
	for _, name := range names {
		for _, t := range m.queues[name] {
			if t.Status != core.TaskPending {
				continue
			}
			if best == nil || t.Priority > best.Priority {
				best = t
			}
			break // first pending in a queue is that queue's best
		}
	}
	return best
}

// execute runs one task attempt and applies the outcome. Executor errors
// and panics are isolated per task and never crash the loop.
func (m *Manager) execute(task *core.Task) {
	defer m.taskWG.Done()

	attempt := task.RetryCount + 1
	start := time.Now()
	result, err := m.runExecutor(task.Clone())
	dur := time.Since(start)

	m.mu.Lock()
	now := time.Now()
	if err == nil {
		task.Status = core.TaskCompleted
		task.Result = result
		task.Error = ""
		task.Completed = &now
		m.completed++
	} else {
		task.Status = core.TaskFailed
		task.Error = err.Error()
		if task.CanRetry() {
			// Simple requeue at the same priority, no backoff. The task
			// rejoins behind its priority peers.
			task.RetryCount++
			task.Status = core.TaskPending
			task.Started = nil
			m.requeueLocked(task)
			m.retried++
		} else {
			task.Completed = &now
			m.failed++
		}
	}
	terminalFailure := task.Status == core.TaskFailed
	m.running--
	m.persistLocked()
	m.mu.Unlock()

	m.logger.Debug("task attempt finished",
		"task_id", task.ID, "attempt", attempt, "duration", dur, "error", err)

	if terminalFailure {
		m.notifyFailure(task)
	}
}

// runExecutor shields the dispatch pipeline from a panicking executor.
func (m *Manager) runExecutor(task *core.Task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task executor panicked: %v", r)
		}
	}()
	return m.executor.ExecuteTask(m.execCtx, task)
}

// requeueLocked moves the task to the tail of its priority band.
func (m *Manager) requeueLocked(task *core.Task) {
	tasks := m.queues[task.Queue]
	for i, t := range tasks {
		if t.ID == task.ID {
			tasks = append(tasks[:i], tasks[i+1:]...)
			break
		}
	}
	m.queues[task.Queue] = append(tasks, task)
	m.sortQueueLocked(task.Queue)
}

// sortQueueLocked re-sorts a queue by priority descending. The sort is
// stable so insertion order breaks ties.
func (m *Manager) sortQueueLocked(name string) {
	tasks := m.queues[name]
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority > tasks[j].Priority
	})
}

// persistLocked writes the whole-queue snapshot. Persistence failures are
// logged and swallowed; in-memory state remains authoritative.
func (m *Manager) persistLocked() {
	if m.opts.Store == nil {
		return
	}
	snap := queuesSnapshot{Queues: m.queues, LastUpdated: time.Now().UTC()}
	if err := m.opts.Store.Write(m.opts.SnapshotName, snap); err != nil {
		m.logger.Warn("queue snapshot persist failed", "error", err)
	}
}

// notifyFailure reports a terminal task failure, best effort.
func (m *Manager) notifyFailure(task *core.Task) {
	text := fmt.Sprintf("task %s in queue %q failed after %d attempts: %s",
		task.ID, task.Queue, task.RetryCount+1, task.Error)
	if err := m.opts.Notifier.Notify(m.execCtx, failureChannel, text); err != nil {
		m.logger.Warn("failure notification not delivered", "task_id", task.ID, "error", err)
	}
}

// Stats returns a snapshot of queue manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Queues:     len(m.queues),
		ByStatus:   make(map[core.TaskStatus]int),
		Running:    m.running,
		Dispatched: m.dispatched,
		Completed:  m.completed,
		Failed:     m.failed,
		Retried:    m.retried,
	}
	for _, tasks := range m.queues {
		s.Tasks += len(tasks)
		for _, t := range tasks {
			s.ByStatus[t.Status]++
		}
	}
	return s
}
