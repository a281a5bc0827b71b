package azimuth

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNoCalculator is returned when no azimuth source is configured.
var ErrNoCalculator = errors.New("no azimuth calculator configured")

// Calculator returns the sun's compass azimuth in degrees (north 0, east 90)
// for a position and time.
type Calculator interface {
	Compass(ctx context.Context, latitude, longitude float64, at time.Time) (float64, error)
}

// Fixed always returns the same compass azimuth. It is meant for indoor
// setups with an artificial light source and for tests.
type Fixed float64

// Compass implements Calculator.
func (f Fixed) Compass(context.Context, float64, float64, time.Time) (float64, error) {
	return float64(f), nil
}

// Command asks an external program for the azimuth. The program receives
// latitude, longitude and the UTC time in RFC 3339 as its last three
// arguments and prints the compass azimuth in degrees.
type Command struct {
	args []string
}

// NewCommand splits command on whitespace.
func NewCommand(command string) (*Command, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, ErrNoCalculator
	}
	return &Command{args: args}, nil
}

// Compass implements Calculator.
func (c *Command) Compass(ctx context.Context, latitude, longitude float64, at time.Time) (float64, error) {
	args := append(append([]string{}, c.args[1:]...),
		strconv.FormatFloat(latitude, 'f', -1, 64),
		strconv.FormatFloat(longitude, 'f', -1, 64),
		at.UTC().Format(time.RFC3339),
	)
	out, err := exec.CommandContext(ctx, c.args[0], args...).Output()
	if err != nil {
		return 0, fmt.Errorf("run %s: %w", c.args[0], err)
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return 0, fmt.Errorf("%s printed no azimuth", c.args[0])
	}
	deg, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse azimuth %q: %w", fields[0], err)
	}
	return deg, nil
}
