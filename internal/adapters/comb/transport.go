package comb

import (
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// Mode names how the connector reaches the comb.
type Mode string

// Connector modes.
const (
	ModeSerial Mode = "serial"
	ModeDummy  Mode = "dummy"
	ModeAudio  Mode = "audio"
)

// Port is an open bus connection.
type Port interface {
	io.Writer
	io.Closer
}

// Dialer opens the bus.
type Dialer interface {
	Dial() (Port, error)
	String() string
}

// Serial line settings of the comb controller.
const (
	serialBaudRate = 9600
	serialDataBits = 7
)

// SerialDialer opens a serial device.
type SerialDialer struct {
	Path string
}

// Dial opens the device at 9600 baud, 7 data bits, odd parity, 2 stop bits.
func (d SerialDialer) Dial() (Port, error) {
	p, err := serial.Open(d.Path, &serial.Mode{
		BaudRate: serialBaudRate,
		DataBits: serialDataBits,
		Parity:   serial.OddParity,
		StopBits: serial.TwoStopBits,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Path, err)
	}
	return p, nil
}

func (d SerialDialer) String() string { return d.Path }

// ModeForPort chooses the mode for a configured port: empty means dummy, a
// .wav file means audio playback, anything else is a serial device.
func ModeForPort(port string) Mode {
	switch {
	case strings.TrimSpace(port) == "":
		return ModeDummy
	case strings.HasSuffix(strings.ToLower(port), ".wav"):
		return ModeAudio
	}
	return ModeSerial
}
