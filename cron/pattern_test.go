package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePattern_Valid(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"every minute", "* * * * *"},
		{"hourly", "0 * * * *"},
		{"every two hours", "0 */2 * * *"},
		{"fixed time", "30 9 * * *"},
		{"range", "0 9-17 * * *"},
		{"range with step", "0 9-17/2 * * *"},
		{"comma list", "0,15,30,45 * * * *"},
		{"weekday sunday alias", "0 0 * * 7"},
		{"specific date", "0 12 25 12 *"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pat, err := ParsePattern(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expr, pat.String())
		})
	}
}

func TestParsePattern_Invalid(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"too few fields", "* * * *"},
		{"too many fields", "* * * * * *"},
		{"minute out of range", "60 * * * *"},
		{"hour out of range", "0 24 * * *"},
		{"day zero", "0 0 0 * *"},
		{"month out of range", "0 0 1 13 *"},
		{"weekday out of range", "0 0 * * 8"},
		{"not a number", "x * * * *"},
		{"inverted range", "30-10 * * * *"},
		{"zero step", "*/0 * * * *"},
		{"negative step", "*/-2 * * * *"},
		{"empty list element", "1,,2 * * * *"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePattern(tt.expr)
			require.Error(t, err)
			var perr *PatternError
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestPattern_NextEveryTwoHours(t *testing.T) {
	pat, err := ParsePattern("0 */2 * * *")
	require.NoError(t, err)

	after := time.Date(2026, 3, 10, 13, 10, 0, 0, time.UTC)
	next := pat.Next(after)
	assert.Equal(t, time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), next)
}

func TestPattern_NextIsStrictlyFuture(t *testing.T) {
	pat, err := ParsePattern("30 9 * * *")
	require.NoError(t, err)

	// Exactly on the occurrence: next must be tomorrow, not now.
	at := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	next := pat.Next(at)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC), next)
}

func TestPattern_NextCrossesMonth(t *testing.T) {
	pat, err := ParsePattern("0 12 25 12 *")
	require.NoError(t, err)

	after := time.Date(2026, 12, 26, 0, 0, 0, 0, time.UTC)
	next := pat.Next(after)
	assert.Equal(t, time.Date(2027, 12, 25, 12, 0, 0, 0, time.UTC), next)
}

func TestPattern_NextWeekday(t *testing.T) {
	// 2026-03-10 is a Tuesday; next Monday is 2026-03-16.
	pat, err := ParsePattern("0 8 * * 1")
	require.NoError(t, err)

	after := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	next := pat.Next(after)
	assert.Equal(t, time.Date(2026, 3, 16, 8, 0, 0, 0, time.UTC), next)
}

func TestPattern_NextImpossibleDate(t *testing.T) {
	// February 30th never exists; Next gives up with the zero time.
	pat, err := ParsePattern("0 0 30 2 *")
	require.NoError(t, err)

	next := pat.Next(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, next.IsZero())
}

func TestPattern_SundayAliasesMatchSameDay(t *testing.T) {
	seven, err := ParsePattern("0 0 * * 7")
	require.NoError(t, err)
	zero, err := ParsePattern("0 0 * * 0")
	require.NoError(t, err)

	after := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, zero.Next(after), seven.Next(after))
}
