package service

import "errors"

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("service already started")

	// ErrNotStarted is returned for operations before Start.
	ErrNotStarted = errors.New("service not started")
)
