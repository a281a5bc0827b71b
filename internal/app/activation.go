package app

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/okian/wddbridge/internal/config"
	"github.com/okian/wddbridge/internal/domain/actuator"
	"github.com/okian/wddbridge/internal/domain/policy"
)

// Mode selects how a dance becomes an actuator message.
type Mode int

// Activation modes.
const (
	// ModeSingle links the nearest actuator to a signal channel.
	ModeSingle Mode = iota
	// ModeAllActuators plays a soundboard file on every actuator.
	ModeAllActuators
	// ModeHardwired plays the soundboard file assigned to the nearest
	// actuator in the layout, on every actuator sharing that file.
	ModeHardwired
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeAllActuators:
		return "all_actuators"
	case ModeHardwired:
		return "hardwired"
	default:
		return "single"
	}
}

// Override keys understood by the activation builder.
const (
	overrideSoundIndex      = "sound_index"
	overrideSoundboardIndex = "soundboard_index"
	overrideSignalIndex     = "signal_index"
	overrideDuration        = "duration"
)

// Activation configures the message built for a dance.
type Activation struct {
	Mode        Mode
	SoundIndex  int   // soundboard file for ModeAllActuators
	SignalIndex int   // signal channel for ModeSingle
	Soundboards []int // soundboard slots for ModeAllActuators
	Hold        time.Duration
}

// ActivationFromConfig derives the activation settings from process config.
func ActivationFromConfig(cfg *config.Config) Activation {
	a := Activation{
		Mode:        ModeSingle,
		SoundIndex:  cfg.SoundIndex,
		SignalIndex: cfg.SignalIndex,
		Soundboards: cfg.Soundboards(),
		Hold:        cfg.SignalHold(),
	}
	switch {
	case cfg.HardwiredSignals:
		a.Mode = ModeHardwired
	case cfg.AllActuators:
		a.Mode = ModeAllActuators
	}
	return a
}

// builder turns a nearest actuator plus policy overrides into a message.
type builder struct {
	act       Activation
	hardwired []*actuator.Trigger // per actuator, nil when unassigned
	groups    []string
}

func newBuilder(act Activation, actuators []config.NamedActuator) (*builder, error) {
	if len(act.Soundboards) == 0 {
		act.Soundboards = []int{0}
	}
	b := &builder{act: act}
	if act.Mode != ModeHardwired {
		return b, nil
	}

	type signal struct{ slot, file int }
	var order []signal
	groups := make(map[signal][]int)
	b.hardwired = make([]*actuator.Trigger, len(actuators))

	for _, a := range actuators {
		if (a.Soundboard == nil) != (a.Sound == nil) {
			return nil, fmt.Errorf("%w: actuator %d (%s) needs both soundboard_index and sound_index or neither",
				ErrHardwired, a.Index, a.Name)
		}
		if a.Soundboard == nil {
			continue
		}
		slot, file := *a.Soundboard, *a.Sound
		if slot != 0 && slot != 1 {
			return nil, fmt.Errorf("%w: actuator %d (%s) soundboard_index %d", ErrHardwired, a.Index, a.Name, slot)
		}
		if file < 0 || file > actuator.Off {
			return nil, fmt.Errorf("%w: actuator %d (%s) sound_index %d", ErrHardwired, a.Index, a.Name, file)
		}
		key := signal{slot, file}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], a.Index)

		t := actuator.Trigger{Duration: act.Hold}
		t.Files[slot] = actuator.File(file)
		b.hardwired[a.Index] = &t
	}

	for _, key := range order {
		members := groups[key]
		for _, idx := range members {
			b.hardwired[idx].Actuators = members
		}
		if len(members) > 1 {
			labels := make([]string, len(members))
			for i, idx := range members {
				labels[i] = strconv.Itoa(idx)
			}
			b.groups = append(b.groups, fmt.Sprintf("%s (%d,%d)", strings.Join(labels, "+"), key.slot, key.file))
		}
	}
	sort.Strings(b.groups)
	return b, nil
}

// factory returns the policy message factory for a dance nearest to idx.
func (b *builder) factory(idx int) policy.Factory {
	return func(o policy.Overrides) actuator.Message { return b.build(idx, o) }
}

// build returns nil when the actuator has no hardwired signal.
func (b *builder) build(idx int, o policy.Overrides) actuator.Message {
	hold := b.act.Hold
	if d, ok := o.Float(overrideDuration); ok && d > 0 {
		hold = time.Duration(d * float64(time.Second))
	}

	switch b.act.Mode {
	case ModeHardwired:
		if idx < 0 || idx >= len(b.hardwired) || b.hardwired[idx] == nil {
			return nil
		}
		t := *b.hardwired[idx]
		t.Actuators = append([]int(nil), t.Actuators...)
		t.Duration = hold
		return applyTriggerOverrides(t, o)

	case ModeAllActuators:
		t := actuator.Trigger{Duration: hold, All: true}
		for _, slot := range b.act.Soundboards {
			if slot == 0 || slot == 1 {
				t.Files[slot] = actuator.File(b.act.SoundIndex)
			}
		}
		return applyTriggerOverrides(t, o)

	default:
		signal := b.act.SignalIndex
		if v, ok := o.Int(overrideSignalIndex); ok {
			signal = v
		}
		return actuator.SelectSignal{Actuator: idx, Signal: signal, Duration: hold}
	}
}

// applyTriggerOverrides retargets a trigger. soundboard_index moves the file
// to one slot, sound_index replaces the file on the used slots.
func applyTriggerOverrides(t actuator.Trigger, o policy.Overrides) actuator.Trigger {
	sound, hasSound := o.Int(overrideSoundIndex)
	slot, hasSlot := o.Int(overrideSoundboardIndex)
	if hasSlot && (slot == 0 || slot == 1) {
		file := -1
		for _, f := range t.Files {
			if f != nil {
				file = *f
				break
			}
		}
		if hasSound {
			file = sound
		}
		if file < 0 {
			return t
		}
		t.Files = [2]*int{}
		t.Files[slot] = actuator.File(file)
		return t
	}
	if hasSound {
		for i, f := range t.Files {
			if f != nil {
				t.Files[i] = actuator.File(sound)
			}
		}
	}
	return t
}
