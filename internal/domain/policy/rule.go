package policy

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/okian/wddbridge/internal/domain/consensus"
)

// Action is what a rule does with a message.
type Action string

// Rule actions.
const (
	Allow    Action = "allow"
	Suppress Action = "suppress"
)

// ParseAction accepts allow/suppress and the vibrate/no_vibrate spelling used
// by older experiment tables.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow", "vibrate":
		return Allow, nil
	case "suppress", "no_vibrate":
		return Suppress, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Rule is one row of the experiment timetable. The window is [From, To).
type Rule struct {
	From, To  time.Time
	Angle     *float64 // target world angle in radians; nil for a general rule
	Action    Action
	Overrides Overrides
}

// Active reports whether now lies inside the rule's window.
func (r Rule) Active(now time.Time) bool {
	return !now.Before(r.From) && now.Before(r.To)
}

// Touches reports whether the window overlaps [start, end).
func (r Rule) Touches(start, end time.Time) bool {
	return r.From.Before(end) && r.To.After(start)
}

// Concrete reports whether the rule targets a specific angle.
func (r Rule) Concrete() bool { return r.Angle != nil }

var reservedKeys = map[string]bool{"from": true, "to": true, "rule": true, "angle_deg": true}

// ParseRules converts raw timeslot tables into rules.
func ParseRules(slots []map[string]any) ([]Rule, error) {
	rules := make([]Rule, 0, len(slots))
	for i, slot := range slots {
		r, err := ParseRule(slot)
		if err != nil {
			return nil, fmt.Errorf("timeslot %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// ParseRule converts one timeslot. Keys other than from, to, rule and
// angle_deg become overrides.
func ParseRule(slot map[string]any) (Rule, error) {
	var (
		r   Rule
		err error
	)
	if r.From, err = parseTime(slot["from"]); err != nil {
		return Rule{}, fmt.Errorf("%w: from: %v", ErrInvalidRule, err)
	}
	if r.To, err = parseTime(slot["to"]); err != nil {
		return Rule{}, fmt.Errorf("%w: to: %v", ErrInvalidRule, err)
	}
	if !r.To.After(r.From) {
		return Rule{}, fmt.Errorf("%w: window ends before it starts", ErrInvalidRule)
	}

	action, ok := slot["rule"].(string)
	if !ok {
		return Rule{}, fmt.Errorf("%w: missing rule", ErrInvalidRule)
	}
	if r.Action, err = ParseAction(action); err != nil {
		return Rule{}, err
	}

	if raw, ok := slot["angle_deg"]; ok && raw != nil {
		deg, ok := toFloat(raw)
		if !ok {
			return Rule{}, fmt.Errorf("%w: angle_deg %v", ErrInvalidRule, raw)
		}
		rad := consensus.Normalize(deg * math.Pi / 180)
		r.Angle = &rad
	}

	r.Overrides = make(Overrides)
	for k, v := range slot {
		if !reservedKeys[k] {
			r.Overrides[k] = v
		}
	}
	return r, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTime accepts ISO timestamps. Timestamps without a zone are UTC.
func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", t)
	case nil:
		return time.Time{}, fmt.Errorf("missing")
	}
	return time.Time{}, fmt.Errorf("unsupported type %T", v)
}

// Overrides parameterise the message built for an allowed dance.
type Overrides map[string]any

// Int returns an integer override.
func (o Overrides) Int(key string) (int, bool) {
	v, ok := o[key]
	if !ok {
		return 0, false
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Float returns a numeric override.
func (o Overrides) Float(key string) (float64, bool) {
	v, ok := o[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
