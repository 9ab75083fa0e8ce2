package session

import "errors"

var (
	// ErrSessionLimit is returned when starting a session would exceed the
	// configured cap on concurrently live sessions.
	ErrSessionLimit = errors.New("session limit reached")

	// ErrSessionNotFound is returned for operations on an event with no
	// live session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrParticipantNotFound is returned when on-demand scoring names an
	// account the session does not know.
	ErrParticipantNotFound = errors.New("participant not found")
)
