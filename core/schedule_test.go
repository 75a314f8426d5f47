package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedule(t *testing.T) {
	sched := NewSchedule("0 * * * *", []string{"report", "cleanup"})

	assert.NotEmpty(t, sched.ID)
	assert.Equal(t, "0 * * * *", sched.Pattern)
	assert.Equal(t, []string{"report", "cleanup"}, sched.Tasks)
	assert.True(t, sched.Enabled)
	assert.Nil(t, sched.NextRun)
	assert.Zero(t, sched.RunCount)
}

func TestSchedule_Clone(t *testing.T) {
	next := time.Now().Add(time.Hour)
	sched := NewSchedule("0 * * * *", []string{"report"})
	sched.NextRun = &next

	clone := sched.Clone()
	require.NotSame(t, sched, clone)

	clone.Tasks[0] = "mutated"
	*clone.NextRun = next.Add(time.Hour)

	assert.Equal(t, "report", sched.Tasks[0])
	assert.Equal(t, next, *sched.NextRun)
}
