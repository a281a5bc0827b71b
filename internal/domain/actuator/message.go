// Package actuator defines the comb bus vocabulary and the bookkeeping the
// connector keeps about which actuators are currently driven.
//
// Messages form a closed set of variants. Behaviour lives in package-level
// functions that switch over the variant rather than in methods, so adding a
// variant means touching every switch in this file and nowhere else.
package actuator

import (
	"fmt"
	"time"
)

// Off is the soundboard file index meaning "silence".
const Off = 11

// LEDTarget is the pseudo target used for LED bookkeeping.
const LEDTarget = -1

// DefaultLinkCount is how many actuators LinkAllToSignal addresses when no
// count is given.
const DefaultLinkCount = 8

// Message is one of the bus message variants below.
type Message interface {
	isMessage()
}

// SetLEDs switches the status LEDs to Mask.
type SetLEDs struct {
	Mask     int
	Duration time.Duration
}

// SelectSignal links actuator Actuator to signal channel Signal (0 = off).
type SelectSignal struct {
	Actuator int
	Signal   int
	Duration time.Duration
}

// Trigger selects soundboard files on the shared trigger line. Nil slots keep
// their current file.
type Trigger struct {
	Files     [2]*int
	Duration  time.Duration
	Actuators []int
	All       bool
}

// StopTrigger silences both soundboard slots.
type StopTrigger struct{}

// StopSoundboardSlot silences the marked slots and leaves the others alone.
type StopSoundboardSlot struct {
	Slots     [2]bool
	Actuators []int
	All       bool
}

// LinkAllToSignal links the first Count actuators to Signal.
type LinkAllToSignal struct {
	Signal   int
	Count    int
	Duration time.Duration
}

// DisableAll unlinks every actuator, stops the soundboard and clears the
// LEDs. It is always transmitted.
type DisableAll struct {
	Count int
}

func (SetLEDs) isMessage()            {}
func (SelectSignal) isMessage()       {}
func (Trigger) isMessage()            {}
func (StopTrigger) isMessage()        {}
func (StopSoundboardSlot) isMessage() {}
func (LinkAllToSignal) isMessage()    {}
func (DisableAll) isMessage()         {}

// File returns a pointer to f for building Trigger slots.
func File(f int) *int { return &f }

// IsActivation reports whether m drives its targets for a finite hold.
func IsActivation(m Message) bool {
	switch v := m.(type) {
	case SetLEDs:
		return v.Mask != 0 && v.Duration > 0
	case SelectSignal:
		return v.Signal != 0 && v.Duration > 0
	case Trigger:
		if v.Duration <= 0 {
			return false
		}
		for _, f := range v.Files {
			if f != nil && *f != Off {
				return true
			}
		}
		return false
	case LinkAllToSignal:
		return v.Signal != 0 && v.Duration > 0
	}
	return false
}

// IsDeactivation is the complement of IsActivation.
func IsDeactivation(m Message) bool { return !IsActivation(m) }

// IsForced reports whether m bypasses the superseded-deactivation check.
func IsForced(m Message) bool {
	_, ok := m.(DisableAll)
	return ok
}

// Deactivation returns the message that undoes the activation m and the
// hold after which it is due. ok is false for deactivations.
func Deactivation(m Message) (Message, time.Duration, bool) {
	if !IsActivation(m) {
		return nil, 0, false
	}
	switch v := m.(type) {
	case SetLEDs:
		return SetLEDs{}, v.Duration, true
	case SelectSignal:
		return SelectSignal{Actuator: v.Actuator}, v.Duration, true
	case Trigger:
		stop := StopSoundboardSlot{Actuators: v.Actuators, All: v.All}
		for i, f := range v.Files {
			stop.Slots[i] = f != nil
		}
		return stop, v.Duration, true
	case LinkAllToSignal:
		return LinkAllToSignal{Count: v.Count}, v.Duration, true
	}
	return nil, 0, false
}

// Targets resolves the actuator indices m applies to on a comb with n
// actuators.
func Targets(m Message, n int) []int {
	switch v := m.(type) {
	case SetLEDs:
		return []int{LEDTarget}
	case SelectSignal:
		return []int{v.Actuator}
	case Trigger:
		if v.All {
			return indices(n)
		}
		return v.Actuators
	case StopSoundboardSlot:
		if v.All {
			return indices(n)
		}
		return v.Actuators
	case StopTrigger:
		return indices(n)
	case LinkAllToSignal:
		return indices(linkCount(v.Count))
	case DisableAll:
		return append(indices(max(n, v.Count)), LEDTarget)
	}
	return nil
}

// Expand returns the sub-messages of a composite message, or nil for a
// message that is written to the bus directly.
func Expand(m Message) []Message {
	switch v := m.(type) {
	case LinkAllToSignal:
		count := linkCount(v.Count)
		out := make([]Message, count)
		for i := range count {
			out[i] = SelectSignal{Actuator: i, Signal: v.Signal}
		}
		return out
	case DisableAll:
		return []Message{
			LinkAllToSignal{Count: v.Count},
			StopTrigger{},
			SetLEDs{},
		}
	}
	return nil
}

// Flatten expands m depth-first into the messages written to the bus.
func Flatten(m Message) []Message {
	subs := Expand(m)
	if subs == nil {
		return []Message{m}
	}
	var out []Message
	for _, s := range subs {
		out = append(out, Flatten(s)...)
	}
	return out
}

// Wire renders a flattened message given the current soundboard state and
// returns the command together with the resulting state. Commands are lower
// case; the connector normalises case and line endings.
func Wire(m Message, sb Soundboard) (string, Soundboard) {
	switch v := m.(type) {
	case SetLEDs:
		return fmt.Sprintf("leds %d", v.Mask), sb
	case SelectSignal:
		return fmt.Sprintf("mux %d %d", v.Actuator, v.Signal), sb
	case Trigger:
		next := sb.Merge(v.Files)
		return fmt.Sprintf("trig %d %d", next.Files[0], next.Files[1]), next
	case StopSoundboardSlot:
		var files [2]*int
		for i, stop := range v.Slots {
			if stop {
				files[i] = File(Off)
			}
		}
		next := sb.Merge(files)
		return fmt.Sprintf("trig %d %d", next.Files[0], next.Files[1]), next
	case StopTrigger:
		return "stop_trig", Silent()
	}
	panic(fmt.Sprintf("actuator: %T is not a bus message", m))
}

// Name is a short identifier for logs and metrics.
func Name(m Message) string {
	switch m.(type) {
	case SetLEDs:
		return "set_leds"
	case SelectSignal:
		return "select_signal"
	case Trigger:
		return "trigger"
	case StopTrigger:
		return "stop_trigger"
	case StopSoundboardSlot:
		return "stop_soundboard_slot"
	case LinkAllToSignal:
		return "link_all_to_signal"
	case DisableAll:
		return "disable_all"
	}
	return "unknown"
}

// Describe renders m for logs and statistics records.
func Describe(m Message) string {
	if t, ok := m.(Trigger); ok {
		files := [2]string{"-", "-"}
		for i, f := range t.Files {
			if f != nil {
				files[i] = fmt.Sprint(*f)
			}
		}
		return fmt.Sprintf("trigger files=%v duration=%s actuators=%v all=%t",
			files, t.Duration, t.Actuators, t.All)
	}
	return fmt.Sprintf("%s %+v", Name(m), m)
}

func linkCount(c int) int {
	if c <= 0 {
		return DefaultLinkCount
	}
	return c
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
