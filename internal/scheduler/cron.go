package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expression is a parsed 5-field schedule: minute, hour, day-of-month,
// month, day-of-week. Each field is a wildcard, a */N step, or a literal.
type Expression struct {
	Minute     Field
	Hour       Field
	DayOfMonth Field
	Month      Field
	DayOfWeek  Field
}

type fieldKind int

const (
	kindAny fieldKind = iota
	kindStep
	kindLiteral
)

type Field struct {
	kind fieldKind
	n    int
}

func (f Field) literal() (int, bool) { return f.n, f.kind == kindLiteral }

type fieldSpec struct {
	name string
	min  int
	max  int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ParseExpression parses a schedule expression. Exactly five
// whitespace-separated fields are required; each must be "*", "*/N", or an
// in-range integer literal.
func ParseExpression(expr string) (Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Expression{}, fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(parts))
	}

	var fields [5]Field
	for i, part := range parts {
		f, err := parseField(part, fieldSpecs[i])
		if err != nil {
			return Expression{}, fmt.Errorf("cron %q: %w", expr, err)
		}
		fields[i] = f
	}

	return Expression{
		Minute:     fields[0],
		Hour:       fields[1],
		DayOfMonth: fields[2],
		Month:      fields[3],
		DayOfWeek:  fields[4],
	}, nil
}

func parseField(s string, spec fieldSpec) (Field, error) {
	if s == "*" {
		return Field{kind: kindAny}, nil
	}
	if rest, ok := strings.CutPrefix(s, "*/"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return Field{}, fmt.Errorf("%s: invalid step %q", spec.name, s)
		}
		return Field{kind: kindStep, n: n}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Field{}, fmt.Errorf("%s: invalid value %q", spec.name, s)
	}
	if n < spec.min || n > spec.max {
		return Field{}, fmt.Errorf("%s: %d out of range [%d,%d]", spec.name, n, spec.min, spec.max)
	}
	return Field{kind: kindLiteral, n: n}, nil
}

// ComputeNextRun returns the next instant the expression should fire after
// now. The fields are applied as a sequence of independent adjustments, not
// a combinatorial search; in particular day-of-month and day-of-week compose
// AND-like rather than with POSIX cron's OR semantics. Returns false when no
// instant strictly after now could be produced.
func ComputeNextRun(expr Expression, now time.Time) (time.Time, bool) {
	t := now.Truncate(time.Minute)
	baseMinute := 0
	if m, ok := expr.Minute.literal(); ok {
		baseMinute = m
	}

	// Minute.
	switch expr.Minute.kind {
	case kindAny:
		t = t.Add(time.Minute)
	case kindStep:
		cur := t.Minute()
		next := (cur/expr.Minute.n + 1) * expr.Minute.n
		t = t.Add(time.Duration(next-cur) * time.Minute) // carries into the hour past 59
	case kindLiteral:
		cur := t.Minute()
		if cur < expr.Minute.n {
			t = t.Add(time.Duration(expr.Minute.n-cur) * time.Minute)
		} else {
			t = t.Add(time.Duration(60-cur+expr.Minute.n) * time.Minute)
		}
	}

	// Hour. Moving the hour resets the minute to its base value.
	switch expr.Hour.kind {
	case kindStep:
		cur := t.Hour()
		if cur%expr.Hour.n != 0 {
			next := (cur/expr.Hour.n + 1) * expr.Hour.n
			t = time.Date(t.Year(), t.Month(), t.Day(), next, baseMinute, 0, 0, t.Location())
		}
	case kindLiteral:
		cur := t.Hour()
		if cur < expr.Hour.n {
			t = time.Date(t.Year(), t.Month(), t.Day(), expr.Hour.n, baseMinute, 0, 0, t.Location())
		} else if cur > expr.Hour.n {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, expr.Hour.n, baseMinute, 0, 0, t.Location())
		}
	}

	// Day-of-week: advance whole days, keeping the adjusted time of day.
	if dow, ok := expr.DayOfWeek.literal(); ok {
		for int(t.Weekday()) != dow {
			t = t.AddDate(0, 0, 1)
		}
		if !t.After(now) {
			t = t.AddDate(0, 0, 7)
		}
	}

	// Day-of-month: jump to the date, rolling into the next month if it has
	// already passed this month.
	if dom, ok := expr.DayOfMonth.literal(); ok {
		jump := time.Date(t.Year(), t.Month(), dom, t.Hour(), t.Minute(), 0, 0, t.Location())
		if !jump.After(now) {
			jump = time.Date(t.Year(), t.Month()+1, dom, t.Hour(), t.Minute(), 0, 0, t.Location())
		}
		t = jump
	}

	// Month: jump to the month, rolling into the next year if passed.
	if month, ok := expr.Month.literal(); ok {
		jump := time.Date(t.Year(), time.Month(month), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
		if !jump.After(now) {
			jump = jump.AddDate(1, 0, 0)
		}
		t = jump
	}

	if !t.After(now) {
		return time.Time{}, false
	}
	return t, true
}

// NextRun parses expr and computes the next firing after now in one step.
func NextRun(expr string, now time.Time) (time.Time, error) {
	parsed, err := ParseExpression(expr)
	if err != nil {
		return time.Time{}, err
	}
	next, ok := ComputeNextRun(parsed, now)
	if !ok {
		return time.Time{}, fmt.Errorf("cron %q: no future run from %s", expr, now.Format(time.RFC3339))
	}
	return next, nil
}
