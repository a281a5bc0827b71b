package wdd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/okian/wddbridge/internal/domain/model"
)

// CloseCommand ends a session when sent instead of a record.
const CloseCommand = "close"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano, TimeTag: cbor.EncTagRequired}.EncMode()
	if err != nil {
		panic("wdd: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("wdd: CBOR decoder initialization failed: " + err.Error())
	}
}

// Record is one waggle as sent by a decoder, in JSON or CBOR.
type Record struct {
	X               *float64  `json:"x" cbor:"x"`
	Y               *float64  `json:"y" cbor:"y"`
	WaggleAngle     *float64  `json:"waggle_angle,omitempty" cbor:"waggle_angle,omitempty"`
	WaggleDuration  *float64  `json:"waggle_duration,omitempty" cbor:"waggle_duration,omitempty"`
	TimestampWaggle Timestamp `json:"timestamp_waggle" cbor:"timestamp_waggle"`
	SystemTimestamp Timestamp `json:"system_timestamp_waggle,omitempty" cbor:"system_timestamp_waggle,omitempty"`
	CamID           string    `json:"cam_id" cbor:"cam_id"`
	WaggleID        string    `json:"waggle_id,omitempty" cbor:"waggle_id,omitempty"`
}

// NewRecord builds the wire record for ev.
func NewRecord(ev model.WaggleEvent) Record {
	x, y := ev.X, ev.Y
	return Record{
		X:               &x,
		Y:               &y,
		WaggleAngle:     ev.Angle,
		WaggleDuration:  ev.Duration,
		TimestampWaggle: Timestamp{ev.Timestamp},
		SystemTimestamp: Timestamp{ev.SystemTimestamp},
		CamID:           ev.CameraID,
		WaggleID:        ev.EventID,
	}
}

// Event validates the record and converts it. Records without a waggle id
// get a random one.
func (r Record) Event() (model.WaggleEvent, error) {
	switch {
	case r.X == nil || r.Y == nil:
		return model.WaggleEvent{}, fmt.Errorf("%w: missing position", ErrMalformed)
	case math.IsNaN(*r.X) || math.IsNaN(*r.Y):
		return model.WaggleEvent{}, fmt.Errorf("%w: position is NaN", ErrMalformed)
	case r.TimestampWaggle.IsZero():
		return model.WaggleEvent{}, fmt.Errorf("%w: missing timestamp_waggle", ErrMalformed)
	case strings.TrimSpace(r.CamID) == "":
		return model.WaggleEvent{}, fmt.Errorf("%w: missing cam_id", ErrMalformed)
	}
	if r.WaggleAngle != nil && math.IsNaN(*r.WaggleAngle) {
		r.WaggleAngle = nil
	}
	id := r.WaggleID
	if id == "" {
		id = uuid.NewString()
	}
	return model.WaggleEvent{
		X:               *r.X,
		Y:               *r.Y,
		Angle:           r.WaggleAngle,
		Duration:        r.WaggleDuration,
		Timestamp:       r.TimestampWaggle.UTC(),
		SystemTimestamp: r.SystemTimestamp.UTC(),
		CameraID:        r.CamID,
		EventID:         id,
	}, nil
}

// Format selects the record encoding.
type Format int

// Record encodings.
const (
	FormatJSON Format = iota
	FormatCBOR
)

// String implements fmt.Stringer.
func (f Format) String() string {
	if f == FormatCBOR {
		return "cbor"
	}
	return "json"
}

// Encode serialises a record.
func Encode(f Format, r Record) ([]byte, error) {
	if f == FormatCBOR {
		return encMode.Marshal(r)
	}
	return json.Marshal(r)
}

// EncodeClose serialises the close command.
func EncodeClose(f Format) ([]byte, error) {
	if f == FormatCBOR {
		return encMode.Marshal(CloseCommand)
	}
	return json.Marshal(CloseCommand)
}

// Decode parses one frame. It reports closed=true for the close command.
func Decode(f Format, data []byte) (ev model.WaggleEvent, closed bool, err error) {
	if isClose(f, data) {
		return model.WaggleEvent{}, true, nil
	}
	var r Record
	if f == FormatCBOR {
		err = decMode.Unmarshal(data, &r)
	} else {
		err = json.Unmarshal(data, &r)
	}
	if err != nil {
		return model.WaggleEvent{}, false, fmt.Errorf("%w: %s: %w", ErrMalformed, f, err)
	}
	ev, err = r.Event()
	return ev, false, err
}

func isClose(f Format, data []byte) bool {
	if f == FormatCBOR {
		var s string
		return decMode.Unmarshal(data, &s) == nil && s == CloseCommand
	}
	trimmed := bytes.TrimSpace(data)
	return string(trimmed) == CloseCommand || string(trimmed) == `"`+CloseCommand+`"`
}

// Timestamp accepts RFC3339, ISO timestamps without a zone (UTC), unix
// seconds, and CBOR time tags.
type Timestamp struct {
	time.Time
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a textual timestamp. Zone-less values are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}

func fromUnix(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

func (t *Timestamp) set(v any) error {
	switch val := v.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = val.UTC()
	case string:
		parsed, err := ParseTimestamp(val)
		if err != nil {
			return err
		}
		t.Time = parsed
	case float64:
		t.Time = fromUnix(val)
	case uint64:
		t.Time = fromUnix(float64(val))
	case int64:
		t.Time = fromUnix(float64(val))
	default:
		return fmt.Errorf("unsupported timestamp type %T", v)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return t.set(v)
}

// MarshalJSON implements json.Marshaler. Zero timestamps encode as null.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (t *Timestamp) UnmarshalCBOR(data []byte) error {
	var v any
	if err := decMode.Unmarshal(data, &v); err != nil {
		return err
	}
	return t.set(v)
}

// MarshalCBOR implements cbor.Marshaler. Non-zero timestamps use the
// RFC3339 time tag.
func (t Timestamp) MarshalCBOR() ([]byte, error) {
	if t.IsZero() {
		return encMode.Marshal(nil)
	}
	return encMode.Marshal(t.UTC())
}
