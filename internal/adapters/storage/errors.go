package storage

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrNotFound  = errors.New("row not found")
	ErrTxAborted = errors.New("serializable transaction aborted")
)
