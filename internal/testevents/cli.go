package testevents

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/wddbridge/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging sends log output to the console and to logFile. If logFile is
// empty, a timestamped filename is generated.
func SetupLogging(logFile string) error {
	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "wdd_sim_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.InitWithWriter(io.MultiWriter(os.Stdout, file)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	os.Stdout.WriteString(`WDD Waggle Simulator
====================

Connects to the bridge like a waggle dance decoder and sends synthetic dances.

Usage:
  go run ./cmd/test-events [options]

Options:
  --url string          websocket URL of the bridge (default "ws://localhost:9901/wdd")
  --authkey string      decoder auth key
  --admin string        admin API base URL used to verify the run (default "http://localhost:9080", empty to skip)
  --camera string       cam_id of the simulated camera (default "cam0")
  --cbor                send binary CBOR frames instead of JSON text frames
  --dances int          number of dances (default 10)
  --waggles int         waggle runs per dance (default 5)
  --interval duration   detection time between waggles of a dance (default 1s)
  --pace duration       wall time between frames (default 50ms)
  --width float         image width in pixels (default 2000)
  --height float        image height in pixels (default 2000)
  --spread float        pixel jitter around a dance's centre (default 20)
  --timeout duration    dial and admin request timeout (default 10s)
  --log string          log file (default: wdd_sim_TIMESTAMP.log)
  --verbose             log every dance

Examples:
  go run ./cmd/test-events --authkey secret
  go run ./cmd/test-events --authkey secret --cbor --dances 100 --pace 0
`)
}
