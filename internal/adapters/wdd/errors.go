package wdd

import "errors"

// Sentinel errors for event sources.
var (
	ErrMalformed    = errors.New("malformed waggle record")
	ErrUnauthorized = errors.New("unauthorized session")
	ErrClosed       = errors.New("event source closed")
	ErrNoSubject    = errors.New("nats subject is required")
)
