// Package dance groups waggle detections into dances.
//
// A dance is a run of waggles close together in space and time. Once enough
// members agree on a direction, every further member re-triggers the dance.
package dance

import (
	"math"
	"slices"
	"time"

	"github.com/okian/wddbridge/internal/domain/consensus"
	"github.com/okian/wddbridge/internal/domain/model"
)

// Default detector configuration.
const (
	DefaultMaxGap      = 7 * time.Second
	DefaultMaxDistance = 200.0
	DefaultMinCount    = 3
)

// Dance is an insertion-ordered run of waggles from one dancing bee.
type Dance struct {
	Members      []model.WaggleEvent
	TriggerCount int
}

// Last returns the most recently appended member.
func (d *Dance) Last() model.WaggleEvent { return d.Members[len(d.Members)-1] }

// MinDistance is the distance from (x, y) to the nearest member.
func (d *Dance) MinDistance(x, y float64) float64 {
	minDist := math.Inf(1)
	for _, m := range d.Members {
		minDist = math.Min(minDist, math.Hypot(m.X-x, m.Y-y))
	}
	return minDist
}

// Angles returns the directions of members that carry one.
func (d *Dance) Angles() []float64 {
	angles := make([]float64, 0, len(d.Members))
	for _, m := range d.Members {
		if m.Angle != nil {
			angles = append(angles, *m.Angle)
		}
	}
	return angles
}

// Consensus is computed from the current members every time it is asked for.
func (d *Dance) Consensus(opts ...consensus.Option) consensus.Result {
	return consensus.Estimate(d.Angles(), opts...)
}

// MedianDuration ignores members without a duration and is 0 when none has one.
func (d *Dance) MedianDuration() float64 {
	durations := make([]float64, 0, len(d.Members))
	for _, m := range d.Members {
		if m.Duration != nil {
			durations = append(durations, *m.Duration)
		}
	}
	if len(durations) == 0 {
		return 0
	}
	slices.Sort(durations)
	mid := len(durations) / 2
	if len(durations)%2 == 1 {
		return durations[mid]
	}
	return (durations[mid-1] + durations[mid]) / 2
}

// Detector clusters waggles from a single camera. It is not safe for
// concurrent use; one goroutine feeds it events in arrival order.
type Detector struct {
	maxGap        time.Duration
	maxDistance   float64
	minCount      int
	consensusOpts []consensus.Option

	open []*Dance
}

// NewDetector creates a detector with default thresholds.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		maxGap:      DefaultMaxGap,
		maxDistance: DefaultMaxDistance,
		minCount:    DefaultMinCount,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Process adds one waggle and returns the triggers it caused (zero or one).
func (d *Detector) Process(ev model.WaggleEvent) []model.DanceTrigger {
	var (
		stale    []int
		triggers []model.DanceTrigger
		matched  bool
	)

	for idx, dn := range d.open {
		elapsed := ev.Timestamp.Sub(dn.Last().Timestamp)
		if elapsed > d.maxGap || elapsed < 0 {
			stale = append(stale, idx)
			continue
		}
		if dn.MinDistance(ev.X, ev.Y) > d.maxDistance {
			continue
		}

		dn.Members = append(dn.Members, ev)
		matched = true
		if t, ok := d.evaluate(dn, ev); ok {
			triggers = append(triggers, t)
		}
		break
	}

	for i := len(stale) - 1; i >= 0; i-- {
		idx := stale[i]
		d.open = append(d.open[:idx], d.open[idx+1:]...)
	}

	if !matched {
		d.open = append(d.open, &Dance{Members: []model.WaggleEvent{ev}})
	}
	return triggers
}

func (d *Detector) evaluate(dn *Dance, ev model.WaggleEvent) (model.DanceTrigger, bool) {
	if len(dn.Members) < d.minCount {
		return model.DanceTrigger{}, false
	}
	if len(dn.Angles()) < d.minCount {
		return model.DanceTrigger{}, false
	}
	res := dn.Consensus(d.consensusOpts...)
	if res.Inliers < d.minCount {
		return model.DanceTrigger{}, false
	}

	dn.TriggerCount++
	return model.DanceTrigger{
		CameraID:     ev.CameraID,
		X:            ev.X,
		Y:            ev.Y,
		Angle:        res.Angle,
		Duration:     dn.MedianDuration(),
		FirstEventID: dn.Members[0].EventID,
		Inliers:      res.Inliers,
		Members:      len(dn.Members),
		TriggerCount: dn.TriggerCount,
	}, true
}

// Open returns the number of open dances.
func (d *Detector) Open() int { return len(d.open) }

// Snapshot returns copies of the open dances in creation order.
func (d *Detector) Snapshot() []Dance {
	out := make([]Dance, len(d.open))
	for i, dn := range d.open {
		out[i] = Dance{
			Members:      slices.Clone(dn.Members),
			TriggerCount: dn.TriggerCount,
		}
	}
	return out
}

// Reset drops every open dance.
func (d *Detector) Reset() { d.open = nil }
