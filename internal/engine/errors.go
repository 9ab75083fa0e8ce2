package engine

import "errors"

// Sentinel kinds for engine errors.
var (
	ErrEngineClosed     = errors.New("engine closed")
	ErrNoExecutor       = errors.New("no executor registered for provider")
	ErrExecutionTimeout = errors.New("scoring execution timed out")
)
