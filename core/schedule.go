package core

import (
	"time"

	"github.com/google/uuid"
)

// Schedule is a recurring trigger defined by a 5-field cron pattern
// (minute, hour, day-of-month, month, day-of-week) that enqueues the named
// tasks whenever the pattern matches. Schedules are owned by the cron
// scheduler.
//
// Invariant: NextRun is the first future time matching the pattern, or nil
// when the schedule is disabled. A schedule is never triggered twice for the
// same occurrence.
type Schedule struct {
	ID      string   `json:"id"`
	Pattern string   `json:"pattern"`
	Tasks   []string `json:"tasks"`
	Enabled bool     `json:"enabled"`

	LastRun  *time.Time `json:"last_run,omitempty"`
	NextRun  *time.Time `json:"next_run,omitempty"`
	RunCount int        `json:"run_count"`
}

// NewSchedule creates an enabled schedule for the given pattern and task names.
func NewSchedule(pattern string, tasks []string) *Schedule {
	names := make([]string, len(tasks))
	copy(names, tasks)
	return &Schedule{
		ID:      uuid.NewString(),
		Pattern: pattern,
		Tasks:   names,
		Enabled: true,
	}
}

// Clone returns a copy of the schedule safe for independent use.
func (s *Schedule) Clone() *Schedule {
	clone := *s
	clone.Tasks = make([]string, len(s.Tasks))
	copy(clone.Tasks, s.Tasks)
	if s.LastRun != nil {
		last := *s.LastRun
		clone.LastRun = &last
	}
	if s.NextRun != nil {
		next := *s.NextRun
		clone.NextRun = &next
	}
	return &clone
}
