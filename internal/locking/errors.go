package locking

import "errors"

// Sentinel kinds for locking errors.
var (
	ErrRetriesExceeded = errors.New("lock acquisition max retries exceeded")
)
