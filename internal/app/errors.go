package app

import "errors"

// Sentinel errors for bridge construction and operation.
var (
	ErrNoCameras      = errors.New("bridge needs at least one camera")
	ErrDuplicateCam   = errors.New("duplicate camera id")
	ErrHardwired      = errors.New("invalid hardwired signal")
	ErrActuatorCount  = errors.New("cameras disagree on actuator count")
	ErrAlreadyRunning = errors.New("bridge already running")
)
