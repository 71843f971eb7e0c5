// Package cron implements the Redis-persisted cron registry and the
// restricted cron expression grammar spec.md requires: a deliberately
// smaller language than a general cron library accepts, because the
// boundary behavior under test is that ranges and comma lists are
// invalid, not silently accepted.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// field is one parsed cron field: either "match anything", "match on
// a step", or "match exactly this value".
type field struct {
	any   bool
	step  int // 0 when not a step field
	value int // exact-match value, meaningful only when !any && step == 0
}

func (f field) matches(v int) bool {
	if f.any {
		return true
	}
	if f.step > 0 {
		return v%f.step == 0
	}
	return v == f.value
}

func parseField(raw string) (field, error) {
	if raw == "*" {
		return field{any: true}, nil
	}
	if strings.HasPrefix(raw, "*/") {
		n, err := strconv.Atoi(raw[2:])
		if err != nil || n <= 0 {
			return field{}, fmt.Errorf("invalid step field %q", raw)
		}
		return field{step: n}, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return field{}, fmt.Errorf("invalid field %q: only '*', '*/N', or a literal integer are allowed", raw)
	}
	return field{value: n}, nil
}

// Expr is a parsed cron expression, 5 fields (minute hour day month
// weekday) or 6 (second minute hour day month weekday).
type Expr struct {
	hasSeconds bool
	second     field
	minute     field
	hour       field
	day        field
	month      field
	weekday    field
}

// Parse parses a whitespace-separated cron expression. Exactly 5 or 6
// fields are accepted; anything else is an error.
func Parse(expr string) (Expr, error) {
	parts := strings.Fields(expr)
	var offset int
	var e Expr
	switch len(parts) {
	case 6:
		e.hasSeconds = true
		offset = 1
		second, err := parseField(parts[0])
		if err != nil {
			return Expr{}, err
		}
		e.second = second
	case 5:
		offset = 0
	default:
		return Expr{}, fmt.Errorf("cron expression %q must have 5 or 6 fields, got %d", expr, len(parts))
	}

	fields := make([]field, 5)
	for i := 0; i < 5; i++ {
		f, err := parseField(parts[offset+i])
		if err != nil {
			return Expr{}, err
		}
		fields[i] = f
	}
	e.minute, e.hour, e.day, e.month, e.weekday = fields[0], fields[1], fields[2], fields[3], fields[4]
	return e, nil
}

func (e Expr) matches(t time.Time) bool {
	if e.hasSeconds && !e.second.matches(t.Second()) {
		return false
	}
	if !e.minute.matches(t.Minute()) {
		return false
	}
	if !e.hour.matches(t.Hour()) {
		return false
	}
	if !e.day.matches(t.Day()) {
		return false
	}
	if !e.month.matches(int(t.Month())) {
		return false
	}
	if !e.weekday.matches(int(t.Weekday())) {
		return false
	}
	return true
}

// maxIterations bounds the forward search: 24 hours at one-second
// resolution, 60 days at one-minute resolution.
const maxIterations = 86400

// NextRun searches forward from from, one unit at a time (a second for
// 6-field expressions, a minute for 5-field), for the first instant
// matching expr, starting at from + 1 unit. It gives up after
// maxIterations steps.
func NextRun(expr string, from time.Time) (time.Time, error) {
	e, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}

	unit := time.Minute
	if e.hasSeconds {
		unit = time.Second
		from = from.Truncate(time.Second)
	} else {
		from = from.Truncate(time.Minute)
	}

	t := from.Add(unit)
	for i := 0; i < maxIterations; i++ {
		if e.matches(t) {
			return t, nil
		}
		t = t.Add(unit)
	}
	return time.Time{}, fmt.Errorf("next_run: no matching instant for %q within %d iterations", expr, maxIterations)
}
