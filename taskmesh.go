// Package taskmesh provides a high-level façade over the session, queue and
// schedule managers, keeping long-lived worker sessions alive and feeding
// them work from prioritized queues and recurring cron schedules. Most
// applications interact with this package by:
//  1. Creating a Mesh via New() with a worker launcher
//  2. Enqueuing tasks (AddTask) and registering schedules (AddSchedule)
//  3. Calling Start() and letting the background loops drive execution
//
// The façade wires the managers together: a dispatched task is executed by
// routing it to a session bound to the task's queue name, and a fired
// schedule enqueues its task names for normal queue processing. All defaults
// are safe for local development; production deployments typically supply a
// file snapshot store and a structured logger.
package taskmesh

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/batch"
	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/cron"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/queue"
	"github.com/taskmesh/taskmesh/session"
)

// ScheduledQueue is the queue that receives tasks fired by schedules.
const ScheduledQueue = "scheduled"

// Options configures the Mesh instance.
type Options struct {
	// Store persists queue and schedule snapshots across restarts. Nil
	// disables persistence.
	Store core.SnapshotStore

	// Notifier receives best-effort notifications about permanent task
	// failures and failed schedule runs. Defaults to NoOp.
	Notifier core.Notifier

	// StatsInterval is the period of the background stats report. Zero
	// disables the report.
	StatsInterval time.Duration

	// NotifyBatchWait coalesces failure notifications: instead of one
	// delivery per failure, notifications on the same channel are collected
	// for up to this long (or NotifyBatchSize items) and delivered as one
	// message. Zero delivers each notification individually.
	NotifyBatchWait time.Duration
	NotifyBatchSize int

	// SessionOptions, QueueOptions and ScheduleOptions are applied on top of
	// the manager defaults.
	SessionOptions  []func(o *session.Options)
	QueueOptions    []func(o *queue.Options)
	ScheduleOptions []func(o *cron.Options)

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Mesh is the high-level façade aggregating the three managers.
type Mesh struct {
	opts   Options
	logger logging.Logger

	sessions  *session.Manager
	queues    *queue.Manager
	scheduler *cron.Scheduler
	notifyQ   *batch.Processor[notification]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Mesh routes dispatched tasks into sessions and fired schedules into the
// scheduled queue.
var (
	_ core.TaskExecutor   = (*Mesh)(nil)
	_ core.ScheduleRunner = (*Mesh)(nil)
)

// New creates a Mesh around the given worker launcher.
func New(launcher core.WorkerLauncher, optFns ...func(o *Options)) *Mesh {
	opts := Options{
		Notifier: core.NoOpNotifier{},
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Notifier == nil {
		opts.Notifier = core.NoOpNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	m := &Mesh{opts: opts, logger: opts.Logger}

	notifier := opts.Notifier
	if opts.NotifyBatchWait > 0 {
		m.notifyQ = batch.New(m.flushNotifications, func(o *batch.Options) {
			o.MaxWait = opts.NotifyBatchWait
			o.MaxBatch = opts.NotifyBatchSize
			o.Logger = opts.Logger
		})
		notifier = core.NotifierFunc(func(ctx context.Context, channel, text string) error {
			return m.notifyQ.Submit(ctx, notification{channel: channel, text: text})
		})
	}

	m.sessions = session.New(launcher, append([]func(o *session.Options){func(o *session.Options) {
		o.Logger = opts.Logger
	}}, opts.SessionOptions...)...)

	m.queues = queue.New(m, append([]func(o *queue.Options){func(o *queue.Options) {
		o.Store = opts.Store
		o.Notifier = notifier
		o.Logger = opts.Logger
	}}, opts.QueueOptions...)...)

	m.scheduler = cron.New(m, append([]func(o *cron.Options){func(o *cron.Options) {
		o.Store = opts.Store
		o.Notifier = notifier
		o.Logger = opts.Logger
	}}, opts.ScheduleOptions...)...)

	return m
}

// Start launches the background loops of all managers. The context bounds
// the loops; Stop performs an orderly shutdown.
func (m *Mesh) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.sessions.Start(ctx)
	m.queues.Start(ctx)
	m.scheduler.Start(ctx)
	if m.notifyQ != nil {
		m.notifyQ.Start(ctx)
	}

	if m.opts.StatsInterval > 0 {
		m.wg.Add(1)
		go m.statsLoop(ctx)
	}

	m.logger.Info("mesh started")
}

// Stop shuts down the scheduler and queue loops, waits for in-flight task
// executions and terminates all sessions.
func (m *Mesh) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.scheduler.Stop()
	m.queues.Stop()
	if m.notifyQ != nil {
		m.notifyQ.Stop()
	}
	m.wg.Wait()
	m.sessions.TerminateAll()
	m.sessions.Stop()
	m.logger.Info("mesh stopped")
}

// ExecuteTask routes a dispatched task to a session bound to the task's
// queue name, reusing an active session for that project when one exists.
func (m *Mesh) ExecuteTask(ctx context.Context, task *core.Task) (string, error) {
	sess, err := m.sessions.SwitchProject(ctx, task.Queue, false)
	if err != nil {
		return "", fmt.Errorf("acquire session for queue %q: %w", task.Queue, err)
	}
	return m.sessions.SendMessage(ctx, sess.ID, task.Description)
}

// RunScheduledTask enqueues a fired schedule's task name into the scheduled
// queue; the queue loop picks it up like any other task.
func (m *Mesh) RunScheduledTask(_ context.Context, name string) error {
	_, err := m.queues.AddTask(ScheduledQueue, name)
	return err
}

// Sessions returns the session manager.
func (m *Mesh) Sessions() *session.Manager { return m.sessions }

// Queues returns the queue manager.
func (m *Mesh) Queues() *queue.Manager { return m.queues }

// Scheduler returns the cron scheduler.
func (m *Mesh) Scheduler() *cron.Scheduler { return m.scheduler }

// AddTask enqueues work on a named queue.
func (m *Mesh) AddTask(queueName, description string, optFns ...func(o *queue.TaskOptions)) (*core.Task, error) {
	return m.queues.AddTask(queueName, description, optFns...)
}

// AddSchedule registers a recurring schedule for the given task names.
func (m *Mesh) AddSchedule(pattern string, tasks []string) (*core.Schedule, error) {
	return m.scheduler.AddSchedule(pattern, tasks)
}

// CreateSession starts a new worker session for a project.
func (m *Mesh) CreateSession(ctx context.Context, project string) (*core.Session, error) {
	return m.sessions.CreateSession(ctx, project)
}

// SendMessage sends text to a session and returns the worker's response.
func (m *Mesh) SendMessage(ctx context.Context, sessionID, text string, optFns ...func(o *session.SendOptions)) (string, error) {
	return m.sessions.SendMessage(ctx, sessionID, text, optFns...)
}

// Status aggregates the counters of all managers.
type Status struct {
	Sessions  session.Stats `json:"sessions"`
	Queues    queue.Stats   `json:"queues"`
	Schedules cron.Stats    `json:"schedules"`
}

// Status returns a point-in-time snapshot across all managers.
func (m *Mesh) Status() Status {
	return Status{
		Sessions:  m.sessions.Stats(),
		Queues:    m.queues.Stats(),
		Schedules: m.scheduler.Stats(),
	}
}

// notification is one pending failure report.
type notification struct {
	channel string
	text    string
}

// flushNotifications delivers one coalesced message per channel.
func (m *Mesh) flushNotifications(ctx context.Context, items []notification) {
	byChannel := make(map[string][]string)
	for _, n := range items {
		byChannel[n.channel] = append(byChannel[n.channel], n.text)
	}
	for channel, texts := range byChannel {
		text := texts[0]
		if len(texts) > 1 {
			text = fmt.Sprintf("%d failures:\n%s", len(texts), strings.Join(texts, "\n"))
		}
		if err := m.opts.Notifier.Notify(ctx, channel, text); err != nil {
			m.logger.Warn("batched notification not delivered", "channel", channel, "error", err)
		}
	}
}

// statsLoop periodically logs the aggregate status.
func (m *Mesh) statsLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := m.Status()
			m.logger.Info("status",
				"sessions", st.Sessions.Sessions,
				"tasks", st.Queues.Tasks,
				"running", st.Queues.Running,
				"completed", st.Queues.Completed,
				"failed", st.Queues.Failed,
				"schedules", st.Schedules.Schedules,
			)
		}
	}
}
