package progress

import "errors"

// Sentinel kinds for progress errors.
var (
	ErrUnknownTask = errors.New("task not part of challenge")
	ErrUnknownClue = errors.New("clue not defined for task")
)
