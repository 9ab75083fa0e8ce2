// Package model contains the domain types passed between layers.
package model

import "time"

// EventType distinguishes the two scoring paths.
type EventType string

const (
	// EventGameDay scores automated inspection of built infrastructure.
	EventGameDay EventType = "gameday"
	// EventJAM scores direct answer submission to gated tasks.
	EventJAM EventType = "jam"
)

// Event is a running competition. Immutable during a session.
type Event struct {
	ID                       string
	Name                     string
	Type                     EventType
	EndTime                  time.Time
	FreezeLeaderboardMinutes int
}

// Criterion is one weighted grading dimension of a problem.
type Criterion struct {
	Name      string
	Weight    float64
	MaxPoints float64
}

// Problem is a scorable unit within an event.
type Problem struct {
	ID       string
	Name     string
	Provider string // executor backend name, e.g. "local"
	Criteria []Criterion
}

// Participant is a scoring subject: a competitor account, optionally in a team.
type Participant struct {
	AccountID   string
	TeamID      string
	DisplayName string
	Credentials Credentials
}

// Credentials is an opaque value handed to executors; the core never
// interprets it.
type Credentials map[string]string

// ScoringRequest asks the engine to score one problem for one participant.
type ScoringRequest struct {
	EventID             string
	ProblemID           string
	CompetitorAccountID string
	TeamID              string
	Credentials         Credentials
	Problem             Problem
}

// JobStatus tracks a scoring job through its lifecycle.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ScoringJob is one unit of work on the engine's queue.
type ScoringJob struct {
	ID          string
	Request     ScoringRequest
	Status      JobStatus
	RetryCount  int
	StartedAt   time.Time
	CompletedAt time.Time
	Result      *ScoringResult
	Err         error
}

// CriterionResult is the graded outcome of a single criterion.
type CriterionResult struct {
	Name      string
	Points    float64
	MaxPoints float64
	Passed    bool
	Feedback  string
}

// ScoringResult is the immutable outcome of a completed scoring job.
type ScoringResult struct {
	EventID             string
	ProblemID           string
	CompetitorAccountID string
	TeamID              string
	Criteria            []CriterionResult
	TotalScore          float64
	MaxTotalScore       float64
	Percentage          int
	ScoredAt            time.Time
}

// EntryKey returns the leaderboard identity for the result: the team when
// present, otherwise the individual competitor.
func (r *ScoringResult) EntryKey() string {
	if r.TeamID != "" {
		return r.TeamID
	}
	return r.CompetitorAccountID
}

// Trend indicates whether an entry's total rose, fell or held since its
// previous update.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendSame Trend = "same"
)

// LeaderboardEntry is one ranked row. Ranks are dense, 1..N.
type LeaderboardEntry struct {
	Rank          int
	Key           string // teamID or participant accountID
	DisplayName   string
	TotalScore    float64
	ProblemScores map[string]float64
	LastScoredAt  time.Time
	Trend         Trend
}

// Leaderboard is the ranked state of one event.
type Leaderboard struct {
	EventID   string
	Entries   []LeaderboardEntry // rank order
	UpdatedAt time.Time
	IsFrozen  bool
}

// AnswerKind declares how a task's expected answer is compared.
type AnswerKind string

const (
	AnswerExact           AnswerKind = "exact"
	AnswerCaseInsensitive AnswerKind = "case_insensitive"
	AnswerNumeric         AnswerKind = "numeric"
	AnswerRegexp          AnswerKind = "regexp"
)

// Clue is an optional hint that charges a penalty when revealed.
type Clue struct {
	Order   int
	Penalty float64
	Text    string
}

// Task is a single gated step within a challenge.
type Task struct {
	ID             string
	Number         int // unlock order, 1-based
	Title          string
	PointsPossible float64
	Answer         string
	AnswerKind     AnswerKind
	Clues          []Clue
}

// Challenge is a named problem instance composed of ordered tasks.
type Challenge struct {
	ID      string
	EventID string
	Name    string
	Started bool
	Tasks   []Task // ascending by Number
}

// TaskProgress is a team's per-task state, one row per (team, task).
// Mutated only through the concurrency guard.
type TaskProgress struct {
	TeamID         string
	TaskID         string
	Locked         bool
	Completed      bool
	PointsPossible float64
	PointsEarned   float64
	CluePenalties  []float64 // in reveal order
	UsedClues      []int     // clue orders, strictly increasing
}

// ChallengeState is a team's per-challenge runtime state.
type ChallengeState struct {
	TeamID       string
	ChallengeID  string
	Score        float64
	Completed    bool
	ClueRequests int
	CompletedAt  time.Time
}

// ScoreRecord is one leaderboard-history row for audit and tie-break display.
type ScoreRecord struct {
	EventID     string
	TeamID      string
	ChallengeID string
	TaskID      string
	Points      float64
	RecordedAt  time.Time
}
