package policy

import "errors"

var (
	// ErrInvalidRule is returned for a timeslot that cannot be parsed.
	ErrInvalidRule = errors.New("invalid experiment rule")
	// ErrUnknownAction is returned for a rule action other than allow or suppress.
	ErrUnknownAction = errors.New("unknown rule action")
)
