package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// field is one parsed cron field: either "*", "*/step", or a literal value.
// Spec §4.8 / §9: only this subset is supported — no ranges, no lists.
type field struct {
	wildcard bool
	step     int // 0 means "no step" (a bare literal or bare *)
	literal  int
	isLit    bool
}

func parseField(raw string, min, max int) (field, error) {
	if raw == "*" {
		return field{wildcard: true}, nil
	}
	if strings.HasPrefix(raw, "*/") {
		step, err := strconv.Atoi(raw[2:])
		if err != nil || step < 1 {
			return field{}, fmt.Errorf("invalid step expression %q", raw)
		}
		return field{wildcard: true, step: step}, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return field{}, fmt.Errorf("unsupported cron field %q (only literals, *, and */step are supported)", raw)
	}
	if v < min || v > max {
		return field{}, fmt.Errorf("cron field %q out of range [%d,%d]", raw, min, max)
	}
	return field{isLit: true, literal: v}, nil
}

func (f field) matches(v int) bool {
	if f.isLit {
		return f.literal == v
	}
	if f.step > 0 {
		return v%f.step == 0
	}
	return true // bare wildcard
}

// Expr is a parsed five-field cron expression (minute hour dom month dow).
type Expr struct {
	minute field
	hour   field
	dom    field
	month  field
	dow    field
}

// ParseExpr parses a five-field cron expression. Only literal, "*", and
// "*/step" forms are supported on every field (spec §4.8, §9 — the source
// this was distilled from never supported ranges or lists, and that
// limitation is preserved deliberately).
func ParseExpr(expr string) (*Expr, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron expression must have exactly 5 fields, got %d", len(parts))
	}

	minute, err := parseField(parts[0], 0, 59)
	if err != nil {
		return nil, err
	}
	hour, err := parseField(parts[1], 0, 23)
	if err != nil {
		return nil, err
	}
	dom, err := parseField(parts[2], 1, 31)
	if err != nil {
		return nil, err
	}
	month, err := parseField(parts[3], 1, 12)
	if err != nil {
		return nil, err
	}
	dow, err := parseField(parts[4], 0, 6)
	if err != nil {
		return nil, err
	}

	return &Expr{minute: minute, hour: hour, dom: dom, month: month, dow: dow}, nil
}

// NextRunTime yields the next instant strictly after base that satisfies
// expr, truncated to minute granularity (spec §4.8). Searches up to four
// years ahead before giving up, which only happens for an internally
// inconsistent expression (e.g. Feb 30).
func (e *Expr) NextRunTime(base time.Time) (time.Time, error) {
	t := base.Truncate(time.Minute).Add(time.Minute)
	limit := base.AddDate(4, 0, 0)

	for t.Before(limit) {
		if e.month.matches(int(t.Month())) && e.dom.matches(t.Day()) && e.dow.matches(int(t.Weekday())) &&
			e.hour.matches(t.Hour()) && e.minute.matches(t.Minute()) {
			return t, nil
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching run time found within 4 years of %s", base)
}
