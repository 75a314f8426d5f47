package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldSpec describes one of the five pattern positions.
type fieldSpec struct {
	name string
	min  int
	max  int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 7}, // 7 is an alias for Sunday
}

// PatternError reports an invalid cron pattern. Bad patterns are rejected
// synchronously and never retried.
type PatternError struct {
	Pattern string
	Field   string
	Reason  string
}

// Error implements the error interface.
func (e *PatternError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid cron pattern %q: %s", e.Pattern, e.Reason)
	}
	return fmt.Sprintf("invalid cron pattern %q: field %s: %s", e.Pattern, e.Field, e.Reason)
}

// Pattern is a parsed 5-field cron expression. Supported syntax per field:
// `*`, `*/n`, plain values, ranges `a-b` (optionally `a-b/n`) and comma
// lists of any of these.
//
// Day-of-month and day-of-week must both match for a time to match; this is
// the conservative reading rather than the vixie-cron OR rule.
type Pattern struct {
	raw    string
	fields [5]map[int]bool
}

// ParsePattern parses and validates a 5-field cron expression.
func ParsePattern(expr string) (*Pattern, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, &PatternError{Pattern: expr, Reason: fmt.Sprintf("expected 5 fields, got %d", len(parts))}
	}

	p := &Pattern{raw: expr}
	for i, part := range parts {
		spec := fieldSpecs[i]
		set, err := parseField(part, spec)
		if err != nil {
			return nil, &PatternError{Pattern: expr, Field: spec.name, Reason: err.Error()}
		}
		p.fields[i] = set
	}
	// Fold the Sunday alias.
	if p.fields[4][7] {
		delete(p.fields[4], 7)
		p.fields[4][0] = true
	}
	return p, nil
}

// String returns the original expression.
func (p *Pattern) String() string { return p.raw }

// parseField expands one field expression into its allowed value set.
func parseField(expr string, spec fieldSpec) (map[int]bool, error) {
	set := make(map[int]bool)
	for _, part := range strings.Split(expr, ",") {
		if part == "" {
			return nil, fmt.Errorf("empty list element")
		}

		step := 1
		rangePart := part
		if idx := strings.Index(part, "/"); idx >= 0 {
			rangePart = part[:idx]
			n, err := strconv.Atoi(part[idx+1:])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("bad step %q", part[idx+1:])
			}
			step = n
		}

		lo, hi := spec.min, spec.max
		switch {
		case rangePart == "*":
			// full range
		case strings.Contains(rangePart, "-"):
			bounds := strings.SplitN(rangePart, "-", 2)
			var err error
			if lo, err = parseValue(bounds[0], spec); err != nil {
				return nil, err
			}
			if hi, err = parseValue(bounds[1], spec); err != nil {
				return nil, err
			}
			if lo > hi {
				return nil, fmt.Errorf("range %d-%d is inverted", lo, hi)
			}
		default:
			v, err := parseValue(rangePart, spec)
			if err != nil {
				return nil, err
			}
			lo, hi = v, v
		}

		for v := lo; v <= hi; v += step {
			set[v] = true
		}
	}
	return set, nil
}

// parseValue parses a single numeric value and checks its legal range.
func parseValue(s string, spec fieldSpec) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if v < spec.min || v > spec.max {
		return 0, fmt.Errorf("%d out of range %d-%d", v, spec.min, spec.max)
	}
	return v, nil
}

// Next returns the first time strictly after the given instant that matches
// the pattern, at minute resolution. It returns the zero time when no match
// exists within four years (for example an impossible calendar date).
func (p *Pattern) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !p.fields[3][int(t.Month())] {
			// Jump to the first minute of the next month.
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
			continue
		}
		if !p.fields[2][t.Day()] || !p.fields[4][int(t.Weekday())] {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
			continue
		}
		if !p.fields[1][t.Hour()] {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
			continue
		}
		if !p.fields[0][t.Minute()] {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}
