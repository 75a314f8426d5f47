package core

import "context"

// TaskExecutor runs a single task to completion and returns its textual
// result. The queue manager holds only this capability, never a handle into
// the session manager's internals, so the dependency between the two stays
// one-way.
//
// The executor is required at construction time; a queue manager without an
// executor cannot exist, which makes "callback not configured" impossible
// rather than a runtime error.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, task *Task) (string, error)
}

// TaskExecutorFunc adapts a plain function to the TaskExecutor interface.
type TaskExecutorFunc func(ctx context.Context, task *Task) (string, error)

// ExecuteTask calls the wrapped function.
func (f TaskExecutorFunc) ExecuteTask(ctx context.Context, task *Task) (string, error) {
	return f(ctx, task)
}

// ScheduleRunner triggers execution of one named task definition on behalf
// of a due schedule. Like TaskExecutor it is a constructor-required
// capability, keeping the cron scheduler's dependency on the queue manager
// one-way and opaque.
type ScheduleRunner interface {
	RunScheduledTask(ctx context.Context, name string) error
}

// ScheduleRunnerFunc adapts a plain function to the ScheduleRunner interface.
type ScheduleRunnerFunc func(ctx context.Context, name string) error

// RunScheduledTask calls the wrapped function.
func (f ScheduleRunnerFunc) RunScheduledTask(ctx context.Context, name string) error {
	return f(ctx, name)
}
