package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
)

// scheduleChannel is the notification channel for schedule outcomes.
const scheduleChannel = "schedules"

// ErrNotFound is returned when the referenced schedule does not exist.
var ErrNotFound = errors.New("schedule not found")

// Options configures a Scheduler.
type Options struct {
	// Store persists schedule snapshots. Defaults to no persistence when nil.
	Store core.SnapshotStore

	// SnapshotName is the snapshot document name. Defaults to "schedules".
	SnapshotName string

	// Notifier receives best-effort notifications about failed schedule
	// runs. Defaults to NoOp.
	Notifier core.Notifier

	// TickInterval is the check-loop period. Defaults to one minute.
	TickInterval time.Duration

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// entry pairs a schedule entity with its parsed pattern.
type entry struct {
	sched *core.Schedule
	pat   *Pattern
}

// Scheduler owns all recurring schedules.
type Scheduler struct {
	runner core.ScheduleRunner
	opts   Options
	logger logging.Logger

	mu        sync.Mutex
	schedules map[string]*entry

	ticks      uint64
	runs       uint64
	taskRuns   uint64
	taskErrors uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Stats is a point-in-time snapshot of scheduler counters.
type Stats struct {
	Schedules  int    `json:"schedules"`
	Enabled    int    `json:"enabled"`
	Ticks      uint64 `json:"ticks"`
	Runs       uint64 `json:"runs"`
	TaskRuns   uint64 `json:"task_runs"`
	TaskErrors uint64 `json:"task_errors"`
}

// schedulesSnapshot is the persisted layout:
//
//	{"schedules": [ {schedule fields} ], "last_updated": "<iso8601>"}
type schedulesSnapshot struct {
	Schedules   []*core.Schedule `json:"schedules"`
	LastUpdated time.Time        `json:"last_updated"`
}

// New creates a scheduler triggering tasks through the given runner. The
// runner is required at construction. Persisted schedules are restored
// immediately; next-run times are recomputed from now so occurrences missed
// while the process was down fire at most once going forward.
func New(runner core.ScheduleRunner, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		SnapshotName: "schedules",
		Notifier:     core.NoOpNotifier{},
		TickInterval: time.Minute,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	if opts.Notifier == nil {
		opts.Notifier = core.NoOpNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	s := &Scheduler{
		runner:    runner,
		opts:      opts,
		logger:    opts.Logger,
		schedules: make(map[string]*entry),
	}
	s.restore()
	return s
}

// restore loads the persisted schedule snapshot, if any.
func (s *Scheduler) restore() {
	if s.opts.Store == nil {
		return
	}
	var snap schedulesSnapshot
	ok, err := s.opts.Store.Read(s.opts.SnapshotName, &snap)
	if err != nil {
		s.logger.Warn("schedule snapshot restore failed", "error", err)
		return
	}
	if !ok {
		return
	}
	now := time.Now()
	for _, sched := range snap.Schedules {
		pat, err := ParsePattern(sched.Pattern)
		if err != nil {
			s.logger.Warn("persisted schedule has invalid pattern, disabling",
				"schedule_id", sched.ID, "pattern", sched.Pattern, "error", err)
			sched.Enabled = false
			sched.NextRun = nil
			s.schedules[sched.ID] = &entry{sched: sched}
			continue
		}
		if sched.Enabled {
			sched.NextRun = nextAfter(pat, now)
		} else {
			sched.NextRun = nil
		}
		s.schedules[sched.ID] = &entry{sched: sched, pat: pat}
	}
	s.logger.Info("schedule snapshot restored", "schedules", len(snap.Schedules))
}

// AddSchedule validates the pattern, registers an enabled schedule for the
// given task names and persists the snapshot.
func (s *Scheduler) AddSchedule(pattern string, tasks []string) (*core.Schedule, error) {
	pat, err := ParsePattern(pattern)
	if err != nil {
		return nil, err
	}

	sched := core.NewSchedule(pattern, tasks)
	sched.NextRun = nextAfter(pat, time.Now())

	s.mu.Lock()
	s.schedules[sched.ID] = &entry{sched: sched, pat: pat}
	s.persistLocked()
	s.mu.Unlock()

	s.logger.Info("schedule added", "schedule_id", sched.ID, "pattern", pattern, "next_run", sched.NextRun)
	return sched.Clone(), nil
}

// Remove deletes a schedule.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.schedules, id)
	s.persistLocked()
	return nil
}

// Enable re-enables a schedule and recomputes its next run.
func (s *Scheduler) Enable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.pat == nil {
		return &PatternError{Pattern: e.sched.Pattern, Reason: "pattern failed to parse at restore"}
	}
	e.sched.Enabled = true
	e.sched.NextRun = nextAfter(e.pat, time.Now())
	s.persistLocked()
	return nil
}

// Disable suspends a schedule; its next run is cleared.
func (s *Scheduler) Disable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.sched.Enabled = false
	e.sched.NextRun = nil
	s.persistLocked()
	return nil
}

// Get returns a copy of the schedule.
func (s *Scheduler) Get(id string) (*core.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.sched.Clone(), nil
}

// List returns copies of all schedules, ordered by id.
func (s *Scheduler) List() []*core.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Schedule, 0, len(s.schedules))
	for _, e := range s.schedules {
		out = append(out, e.sched.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ExecuteNow runs a schedule's tasks immediately, outside its recurrence.
// Run bookkeeping is updated but the next occurrence is left untouched.
func (s *Scheduler) ExecuteNow(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.schedules[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	err := s.runTasks(ctx, e.sched)

	s.mu.Lock()
	now := time.Now()
	e.sched.LastRun = &now
	e.sched.RunCount++
	s.runs++
	s.persistLocked()
	s.mu.Unlock()
	return err
}

// Start launches the check loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx, time.Now())
			}
		}
	}()
}

// Stop cancels the check loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// tick fires every enabled schedule whose next run is due. All due
// schedules are processed before the loop sleeps again. Execution errors
// are logged and notified but never disable the schedule, and next-run
// always advances strictly past now so an occurrence cannot fire twice.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	s.ticks++
	var due []*entry
	for _, e := range s.schedules {
		if e.sched.Enabled && e.sched.NextRun != nil && !e.sched.NextRun.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(i, j int) bool { return due[i].sched.ID < due[j].sched.ID })

	for _, e := range due {
		if err := s.runTasks(ctx, e.sched); err != nil {
			s.logger.Error("schedule run had errors", "schedule_id", e.sched.ID, "error", err)
		}
	}

	s.mu.Lock()
	for _, e := range due {
		ran := now
		e.sched.LastRun = &ran
		e.sched.RunCount++
		if e.sched.Enabled {
			e.sched.NextRun = nextAfter(e.pat, now)
		}
		s.runs++
	}
	s.persistLocked()
	s.mu.Unlock()
}

// nextAfter computes the schedule's next occurrence pointer. A pattern with
// no reachable occurrence, such as an impossible calendar date, yields nil;
// tick skips schedules without a next run.
func nextAfter(pat *Pattern, now time.Time) *time.Time {
	next := pat.Next(now)
	if next.IsZero() {
		return nil
	}
	return &next
}

// runTasks executes the schedule's task names sequentially through the
// runner, recording per-task outcomes. The returned error joins all task
// failures.
func (s *Scheduler) runTasks(ctx context.Context, sched *core.Schedule) error {
	var errs []error
	for _, name := range sched.Tasks {
		err := s.runner.RunScheduledTask(ctx, name)

		s.mu.Lock()
		s.taskRuns++
		if err != nil {
			s.taskErrors++
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("scheduled task failed", "schedule_id", sched.ID, "task", name, "error", err)
			errs = append(errs, fmt.Errorf("task %q: %w", name, err))
			continue
		}
		s.logger.Debug("scheduled task triggered", "schedule_id", sched.ID, "task", name)
	}

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		text := fmt.Sprintf("schedule %s (%s): %v", sched.ID, sched.Pattern, joined)
		if nerr := s.opts.Notifier.Notify(ctx, scheduleChannel, text); nerr != nil {
			s.logger.Warn("schedule notification not delivered", "schedule_id", sched.ID, "error", nerr)
		}
		return joined
	}
	return nil
}

// persistLocked writes the schedule snapshot. Persistence failures are
// logged and swallowed.
func (s *Scheduler) persistLocked() {
	if s.opts.Store == nil {
		return
	}
	snap := schedulesSnapshot{LastUpdated: time.Now().UTC()}
	ids := make([]string, 0, len(s.schedules))
	for id := range s.schedules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		snap.Schedules = append(snap.Schedules, s.schedules[id].sched)
	}
	if err := s.opts.Store.Write(s.opts.SnapshotName, snap); err != nil {
		s.logger.Warn("schedule snapshot persist failed", "error", err)
	}
}

// Stats returns a snapshot of scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Schedules:  len(s.schedules),
		Ticks:      s.ticks,
		Runs:       s.runs,
		TaskRuns:   s.taskRuns,
		TaskErrors: s.taskErrors,
	}
	for _, e := range s.schedules {
		if e.sched.Enabled {
			st.Enabled++
		}
	}
	return st
}
