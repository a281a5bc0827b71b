// Package policy gates outgoing actuator messages with a time-windowed
// experiment timetable.
package policy

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/okian/wddbridge/internal/domain/actuator"
	"github.com/okian/wddbridge/internal/domain/consensus"
	"github.com/okian/wddbridge/pkg/logger"
	"github.com/okian/wddbridge/pkg/metrics"
	"github.com/okian/wddbridge/pkg/stats"
)

// DefaultTolerance is the angular tolerance of concrete rules.
const DefaultTolerance = 10.0 * math.Pi / 180.0

// Decision is the outcome of Filter.
type Decision string

// Filter outcomes.
const (
	Allowed    Decision = "allowed"
	Suppressed Decision = "suppressed"
	Unresolved Decision = "unresolved"
)

// Factory builds the message for an allowed dance from the merged overrides.
type Factory func(Overrides) actuator.Message

// Option configures a Policy.
type Option func(*Policy)

// WithTolerance sets the tolerance shared by all concrete rules (radians).
func WithTolerance(rad float64) Option {
	return func(p *Policy) {
		if rad > 0 {
			p.tolerance = rad
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Policy) {
		if l != nil {
			p.log = l
		}
	}
}

// WithRecorder sets the statistics sink.
func WithRecorder(r stats.Recorder) Option {
	return func(p *Policy) {
		if r != nil {
			p.stats = r
		}
	}
}

// Policy evaluates the timetable. Rules are immutable after construction, so
// Filter may be called from several goroutines.
type Policy struct {
	rules     []Rule
	tolerance float64
	now       func() time.Time
	log       logger.Logger
	stats     stats.Recorder
}

// New creates a policy over rules.
func New(rules []Rule, opts ...Option) *Policy {
	p := &Policy{
		rules:     rules,
		tolerance: DefaultTolerance,
		now:       time.Now,
		stats:     stats.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Named("policy")
	}
	return p
}

// Filter decides whether a dance pointing at worldAngle may vibrate and, if
// so, builds its message with the matching rules' overrides.
func (p *Policy) Filter(ctx context.Context, factory Factory, worldAngle float64) (actuator.Message, Decision) {
	now := p.now().UTC()
	worldAngle = consensus.Normalize(worldAngle)

	var concrete, general []Rule
	for _, r := range p.rules {
		if !r.Active(now) {
			continue
		}
		if !r.Concrete() {
			general = append(general, r)
			continue
		}
		if consensus.Distance(*r.Angle, worldAngle) < p.tolerance {
			concrete = append(concrete, r)
		}
	}

	for _, set := range [][]Rule{concrete, general} {
		if len(set) == 0 {
			continue
		}
		if msg, decision, ok := p.resolve(ctx, factory, set, worldAngle); ok {
			metrics.RecordPolicyDecision(string(decision))
			return msg, decision
		}
	}

	p.log.Warn(ctx, "no experiment rule resolved the dance, suppressing",
		logger.Degrees("world_angle_deg", worldAngle))
	metrics.RecordPolicyDecision(string(Unresolved))
	return nil, Unresolved
}

func (p *Policy) resolve(ctx context.Context, factory Factory, rules []Rule, worldAngle float64) (actuator.Message, Decision, bool) {
	merged := make(Overrides)
	var allow, suppress bool
	for _, r := range rules {
		for k, v := range r.Overrides {
			if prev, ok := merged[k]; ok && !reflect.DeepEqual(prev, v) {
				p.log.Warn(ctx, "conflicting override values",
					logger.String("key", k),
					logger.String("previous", fmt.Sprint(prev)),
					logger.String("value", fmt.Sprint(v)))
			}
			merged[k] = v
		}
		switch r.Action {
		case Allow:
			allow = true
		case Suppress:
			suppress = true
		}
	}

	if allow && suppress {
		p.log.Warn(ctx, "opposing experiment rules for this world angle, suppressing",
			logger.Degrees("world_angle_deg", worldAngle))
	}
	switch {
	case suppress:
		p.stats.Log(ctx, "prevented vibration", logger.Degrees("world_angle_deg", worldAngle))
		return nil, Suppressed, true
	case allow:
		p.stats.Log(ctx, "allowed vibration",
			logger.Degrees("world_angle_deg", worldAngle),
			logger.Any("overrides", map[string]any(merged)))
		return factory(merged), Allowed, true
	}
	return nil, "", false
}

// Summary returns the number of rules and how many touch the UTC day of now.
func (p *Policy) Summary(now time.Time) (total, today int) {
	y, m, d := now.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	for _, r := range p.rules {
		if r.Touches(start, end) {
			today++
		}
	}
	return len(p.rules), today
}

// Rules returns a copy of the timetable.
func (p *Policy) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}
