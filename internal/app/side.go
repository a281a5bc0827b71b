package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/okian/wddbridge/internal/config"
	"github.com/okian/wddbridge/internal/domain/actuator"
	"github.com/okian/wddbridge/internal/domain/dance"
	"github.com/okian/wddbridge/internal/domain/geometry"
	"github.com/okian/wddbridge/internal/domain/model"
	"github.com/okian/wddbridge/internal/domain/policy"
	"github.com/okian/wddbridge/internal/domain/types"
	"github.com/okian/wddbridge/pkg/logger"
	"github.com/okian/wddbridge/pkg/metrics"
	"github.com/okian/wddbridge/pkg/stats"
)

// Dance is a trigger mapped onto the comb, ready for the policy.
type Dance struct {
	Trigger  model.DanceTrigger
	Mapped   geometry.Mapped
	Actuator int     // nearest actuator
	Distance float64 // pixels to the nearest actuator
	Factory  policy.Factory
}

// SideOption configures a HiveSide.
type SideOption func(*HiveSide)

// WithDetectorOptions passes options to the side's dance detector.
func WithDetectorOptions(opts ...dance.Option) SideOption {
	return func(s *HiveSide) { s.detectorOpts = append(s.detectorOpts, opts...) }
}

// WithSideLogger sets the side's logger.
func WithSideLogger(l logger.Logger) SideOption {
	return func(s *HiveSide) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSideRecorder sets the statistics sink.
func WithSideRecorder(r stats.Recorder) SideOption {
	return func(s *HiveSide) {
		if r != nil {
			s.stats = r
		}
	}
}

// HiveSide is one camera's view of the comb: its own dance clustering,
// geometry and activation builder. Frames recorded from both sides of a comb
// need one HiveSide each.
type HiveSide struct {
	id      string
	mapper  *geometry.Mapper
	builder *builder
	log     logger.Logger
	stats   stats.Recorder

	detectorOpts []dance.Option

	mu       sync.Mutex // guards detector
	detector *dance.Detector

	waggles  atomic.Int64
	triggers atomic.Int64
}

// NewHiveSide builds the side for cam. Angles are turned into world angles
// with az.
func NewHiveSide(cam config.Camera, az geometry.AzimuthSource, act Activation, opts ...SideOption) (*HiveSide, error) {
	s := &HiveSide{id: cam.ID, stats: stats.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("side")
	}
	s.log = s.log.Named(cam.ID)

	frame, err := cam.Frame()
	if err != nil {
		return nil, fmt.Errorf("camera %q: %w", cam.ID, err)
	}
	if s.mapper, err = geometry.NewMapper(frame, az); err != nil {
		return nil, fmt.Errorf("camera %q: %w", cam.ID, err)
	}
	if s.builder, err = newBuilder(act, cam.SortedActuators()); err != nil {
		return nil, fmt.Errorf("camera %q: %w", cam.ID, err)
	}
	s.detector = dance.NewDetector(s.detectorOpts...)

	if len(s.builder.groups) > 0 {
		s.log.Info(context.Background(), "found actuator groups",
			logger.Int("groups", len(s.builder.groups)),
			logger.String("members", strings.Join(s.builder.groups, ", ")))
	}
	return s, nil
}

// ID returns the camera id.
func (s *HiveSide) ID() string { return s.id }

// ActuatorCount returns the number of actuators on this side.
func (s *HiveSide) ActuatorCount() int { return s.mapper.ActuatorCount() }

// Process clusters ev and maps every resulting trigger onto the comb.
// Triggers that cannot be projected are logged and skipped.
func (s *HiveSide) Process(ctx context.Context, ev model.WaggleEvent) []Dance {
	s.waggles.Add(1)

	s.mu.Lock()
	triggers := s.detector.Process(ev)
	open := s.detector.Open()
	s.mu.Unlock()
	metrics.UpdateDancesOpen(s.id, open)

	var out []Dance
	for _, t := range triggers {
		s.triggers.Add(1)
		metrics.RecordDanceTrigger(s.id)

		mapped, err := s.mapper.Map(t.X, t.Y, t.Angle)
		if err != nil {
			s.log.Warn(ctx, "dance could not be mapped onto the comb",
				logger.Float64("x", t.X), logger.Float64("y", t.Y), logger.Error(err))
			metrics.RecordErrorByComponent("geometry", "unmappable")
			continue
		}
		idx, dist, err := s.mapper.Nearest(t.X, t.Y)
		if err != nil {
			s.log.Warn(ctx, "no actuator for dance", logger.Error(err))
			continue
		}

		s.log.Info(ctx, fmt.Sprintf("dance for %s", geometry.CompassLabel(mapped.WorldAngle)),
			logger.Degrees("world_angle_deg", mapped.WorldAngle),
			logger.Float64("duration_s", t.Duration),
			logger.Degrees("gravity_angle_deg", mapped.LocalAngle),
			logger.Degrees("raw_angle_deg", t.Angle),
			logger.Degrees("azimuth_deg", mapped.Azimuth),
			logger.Int("actuator", idx),
			logger.Int("inliers", t.Inliers),
			logger.Int("members", t.Members))
		s.stats.Log(ctx, "dance trigger",
			logger.String("cam_id", s.id),
			logger.String("first_waggle_id", t.FirstEventID),
			logger.Degrees("world_angle_deg", mapped.WorldAngle),
			logger.Degrees("gravity_angle_deg", mapped.LocalAngle),
			logger.Float64("duration_s", t.Duration),
			logger.Float64("comb_x", mapped.Unit.X),
			logger.Float64("comb_y", mapped.Unit.Y),
			logger.Int("actuator", idx),
			logger.Int("trigger_count", t.TriggerCount))

		out = append(out, Dance{
			Trigger:  t,
			Mapped:   mapped,
			Actuator: idx,
			Distance: dist,
			Factory:  s.builder.factory(idx),
		})
	}
	return out
}

// Activation builds the unfiltered message for a dance nearest to idx.
func (s *HiveSide) Activation(idx int) actuator.Message {
	return s.builder.build(idx, nil)
}

// Reset drops all open dances.
func (s *HiveSide) Reset() {
	s.mu.Lock()
	s.detector.Reset()
	s.mu.Unlock()
	metrics.UpdateDancesOpen(s.id, 0)
}

// Stats summarises the side for the admin API.
func (s *HiveSide) Stats() types.CameraStats {
	s.mu.Lock()
	open := s.detector.Snapshot()
	s.mu.Unlock()

	dances := make([]types.DanceSnapshot, 0, len(open))
	for _, d := range open {
		snap := types.DanceSnapshot{
			Members:      make([]types.WaggleMark, 0, len(d.Members)),
			TriggerCount: d.TriggerCount,
		}
		for _, m := range d.Members {
			mark := types.WaggleMark{X: m.X, Y: m.Y}
			if m.Angle != nil {
				deg := *m.Angle * 180 / math.Pi
				mark.AngleDeg = &deg
			}
			snap.Members = append(snap.Members, mark)
		}
		dances = append(dances, snap)
	}
	return types.CameraStats{
		CameraID:  s.id,
		Actuators: s.mapper.ActuatorCount(),
		Origin:    string(s.mapper.Origin()),
		Dances:    dances,
		Waggles:   s.waggles.Load(),
		Triggers:  s.triggers.Load(),
	}
}
