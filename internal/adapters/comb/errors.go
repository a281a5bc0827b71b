package comb

import "errors"

var (
	// ErrClosed is returned when sending to a closed connector.
	ErrClosed = errors.New("comb connector closed")
	// ErrBacklog is returned when the outbound queue is full.
	ErrBacklog = errors.New("comb connector backlog full")
	// ErrNotConnected is returned when the bus could not be opened.
	ErrNotConnected = errors.New("comb bus not connected")
)
