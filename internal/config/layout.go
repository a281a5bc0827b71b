package config

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/wddbridge/internal/domain/geometry"
	"github.com/okian/wddbridge/internal/domain/policy"
)

const cornerValues = 8

// Layout describes the comb: where it is on earth, which cameras watch it
// and where the actuators sit in each camera's view.
type Layout struct {
	Latitude   float64     `koanf:"latitude"`
	Longitude  float64     `koanf:"longitude"`
	Cameras    []Camera    `koanf:"cameras"`
	Experiment *Experiment `koanf:"experiment"`
}

// Camera is one comb side as seen by one decoder camera.
type Camera struct {
	ID         string                  `koanf:"cam_id"`
	Actuators  map[string]ActuatorSpec `koanf:"actuators"`
	Homography HomographySpec          `koanf:"homography"`
	Origin     string                  `koanf:"origin"`
}

// ActuatorSpec is one actuator's pixel position in the camera image.
// Soundboard and sound are only used with hardwired signals and must be
// given together.
type ActuatorSpec struct {
	X          float64 `koanf:"x"`
	Y          float64 `koanf:"y"`
	Soundboard *int    `koanf:"soundboard_index"`
	Sound      *int    `koanf:"sound_index"`
}

// HomographySpec lists four corners as x0,y0,...,x3,y3 in both pixel and
// comb unit space.
type HomographySpec struct {
	Pixels []float64 `koanf:"pixels"`
	Units  []float64 `koanf:"units"`
}

// Experiment holds the optional experiment schedule.
type Experiment struct {
	ToleranceDeg float64          `koanf:"tolerance_deg"`
	Timeslots    []map[string]any `koanf:"timeslots"`
}

// NamedActuator is an actuator with its index on the bus.
type NamedActuator struct {
	Index int
	Name  string
	ActuatorSpec
}

// LoadLayout reads a YAML (or JSON) comb layout file and validates it.
func LoadLayout(path string) (*Layout, error) {
	// Actuator names may contain dots; use a delimiter that never appears.
	k := koanf.New("::")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
	}
	for _, key := range []string{"latitude", "longitude"} {
		if !k.Exists(key) {
			return nil, fmt.Errorf("%w: %s: missing %s", ErrInvalidLayout, path, key)
		}
	}
	var l Layout
	if err := k.UnmarshalWithConf("", &l, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Validate checks the layout for consistency.
func (l *Layout) Validate() error {
	if len(l.Cameras) == 0 {
		return fmt.Errorf("%w: no cameras", ErrInvalidLayout)
	}
	if l.Latitude < -90 || l.Latitude > 90 || l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: location %.4f,%.4f out of range", ErrInvalidLayout, l.Latitude, l.Longitude)
	}
	seen := make(map[string]struct{}, len(l.Cameras))
	count := -1
	for i := range l.Cameras {
		cam := &l.Cameras[i]
		if cam.ID == "" {
			return fmt.Errorf("%w: camera %d has no cam_id", ErrInvalidLayout, i)
		}
		if _, dup := seen[cam.ID]; dup {
			return fmt.Errorf("%w: duplicate cam_id %q", ErrInvalidLayout, cam.ID)
		}
		seen[cam.ID] = struct{}{}
		if len(cam.Actuators) == 0 {
			return fmt.Errorf("%w: camera %q has no actuators", ErrInvalidLayout, cam.ID)
		}
		if count >= 0 && len(cam.Actuators) != count {
			return fmt.Errorf("%w: camera %q declares %d actuators, expected %d",
				ErrInvalidLayout, cam.ID, len(cam.Actuators), count)
		}
		count = len(cam.Actuators)
		if len(cam.Homography.Pixels) != cornerValues || len(cam.Homography.Units) != cornerValues {
			return fmt.Errorf("%w: camera %q homography needs %d pixel and %d unit values",
				ErrInvalidLayout, cam.ID, cornerValues, cornerValues)
		}
		if _, err := geometry.ParseOrigin(cam.Origin); err != nil {
			return fmt.Errorf("%w: camera %q: %w", ErrInvalidLayout, cam.ID, err)
		}
	}
	if l.Experiment != nil {
		if l.Experiment.ToleranceDeg <= 0 {
			return fmt.Errorf("%w: experiment needs a positive tolerance_deg", ErrInvalidLayout)
		}
		if _, err := policy.ParseRules(l.Experiment.Timeslots); err != nil {
			return fmt.Errorf("%w: experiment: %w", ErrInvalidLayout, err)
		}
	}
	return nil
}

// ActuatorCount returns the number of actuators per camera.
func (l *Layout) ActuatorCount() int {
	if len(l.Cameras) == 0 {
		return 0
	}
	return len(l.Cameras[0].Actuators)
}

// Rules parses the experiment schedule. A layout without one has no rules.
func (l *Layout) Rules() ([]policy.Rule, error) {
	if l.Experiment == nil {
		return nil, nil
	}
	return policy.ParseRules(l.Experiment.Timeslots)
}

// ToleranceRad returns the experiment angle tolerance in radians, or 0
// without an experiment.
func (l *Layout) ToleranceRad() float64 {
	if l.Experiment == nil || l.Experiment.ToleranceDeg <= 0 {
		return 0
	}
	return l.Experiment.ToleranceDeg * math.Pi / 180
}

// SortedActuators returns the camera's actuators in natural name order, which is
// also their bus index order.
func (c Camera) SortedActuators() []NamedActuator {
	names := make([]string, 0, len(c.Actuators))
	for name := range c.Actuators {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })

	out := make([]NamedActuator, len(names))
	for i, name := range names {
		out[i] = NamedActuator{Index: i, Name: name, ActuatorSpec: c.Actuators[name]}
	}
	return out
}

// Frame converts the camera description into a geometry frame.
func (c Camera) Frame() (geometry.Frame, error) {
	origin, err := geometry.ParseOrigin(c.Origin)
	if err != nil {
		return geometry.Frame{}, err
	}
	if len(c.Homography.Pixels) != cornerValues || len(c.Homography.Units) != cornerValues {
		return geometry.Frame{}, fmt.Errorf("%w: camera %q homography", ErrInvalidLayout, c.ID)
	}
	f := geometry.Frame{Origin: origin}
	for i := 0; i < 4; i++ {
		f.Pixels[i] = geometry.Point{X: c.Homography.Pixels[2*i], Y: c.Homography.Pixels[2*i+1]}
		f.Units[i] = geometry.Point{X: c.Homography.Units[2*i], Y: c.Homography.Units[2*i+1]}
	}
	for _, a := range c.SortedActuators() {
		f.Actuators = append(f.Actuators, geometry.Point{X: a.X, Y: a.Y})
	}
	return f, nil
}

// naturalLess orders strings so that embedded numbers compare by value:
// "act2" < "act10".
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		ra, rb := rune(a[0]), rune(b[0])
		if unicode.IsDigit(ra) && unicode.IsDigit(rb) {
			na, restA := leadingDigits(a)
			nb, restB := leadingDigits(b)
			ta, tb := strings.TrimLeft(na, "0"), strings.TrimLeft(nb, "0")
			if len(ta) != len(tb) {
				return len(ta) < len(tb)
			}
			if ta != tb {
				return ta < tb
			}
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			a, b = restA, restB
			continue
		}
		la, lb := unicode.ToLower(ra), unicode.ToLower(rb)
		if la != lb {
			return la < lb
		}
		if ra != rb {
			return ra < rb
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func leadingDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}
