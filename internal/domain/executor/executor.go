// Package executor defines the contract for running one scoring attempt
// against one problem/credential pair.
//
// Implementations must be side-effect-free with respect to engine state and
// signal failure by returning an error, never a partial Result, so the
// engine's retry policy applies uniformly.
package executor

import (
	"context"
	"time"

	"github.com/gameday-live/arena/internal/domain/model"
)

// CriterionOutcome is the graded outcome of a single criterion.
type CriterionOutcome struct {
	Name      string
	Points    float64
	MaxPoints float64
	Passed    bool
	Feedback  string
}

// Result is the outcome of one scoring execution.
type Result struct {
	TotalScore       float64
	MaxPossibleScore float64
	Criteria         []CriterionOutcome
	Duration         time.Duration
}

// Executor grades one problem for one competitor account.
type Executor interface {
	// Execute runs the grader, honoring ctx for cancellation.
	Execute(ctx context.Context, problem model.Problem, credentials model.Credentials, accountID string) (Result, error)
}
