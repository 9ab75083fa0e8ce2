// Package progress implements the answer/clue state machine for JAM
// challenges: a strict task-unlock chain with clue penalty accounting,
// executed only while holding the concurrency guard.
package progress

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gameday-live/arena/internal/adapters/storage"
	"github.com/gameday-live/arena/internal/domain/answer"
	"github.com/gameday-live/arena/internal/domain/model"
	"github.com/gameday-live/arena/internal/locking"
	"github.com/gameday-live/arena/pkg/logger"
	"github.com/gameday-live/arena/pkg/metrics"
)

// RejectionReason classifies a business precondition failure. Rejections are
// returned synchronously, never retried, and guarantee zero state mutation.
type RejectionReason string

const (
	RejectNone                RejectionReason = ""
	RejectChallengeNotStarted RejectionReason = "challenge_not_started"
	RejectChallengeCompleted  RejectionReason = "challenge_completed"
	RejectTaskLocked          RejectionReason = "task_locked"
	RejectTaskCompleted       RejectionReason = "task_completed"
	RejectWrongAnswer         RejectionReason = "wrong_answer"
	RejectClueAlreadyOpened   RejectionReason = "clue_already_opened"
	RejectClueOutOfOrder      RejectionReason = "clue_out_of_order"
)

// RevealOutcome reports a clue reveal attempt.
type RevealOutcome struct {
	Revealed     bool
	Reason       RejectionReason
	Clue         model.Clue
	PointsEarned float64
}

// AnswerOutcome reports an answer submission.
type AnswerOutcome struct {
	Correct            bool
	Reason             RejectionReason
	TaskCompleted      bool
	ChallengeCompleted bool
	UnlockedTaskID     string
	PointsAwarded      float64
	TeamScore          float64
}

// ScoreSink receives the team's committed challenge score after a correct
// answer, for the leaderboard's direct-write path.
type ScoreSink func(eventID, teamID, challengeID string, teamScore float64, at time.Time)

// Machine drives per-team task state for a challenge.
type Machine struct {
	store storage.ProgressStore
	guard *locking.Guard

	scoreSink ScoreSink
	teamName  func(teamID string) string
	now       func() time.Time

	logger logger.Logger
}

// Option applies a configuration option to the Machine.
type Option func(*Machine)

// WithScoreSink sets the callback that publishes committed scores.
func WithScoreSink(sink ScoreSink) Option {
	return func(m *Machine) {
		if sink != nil {
			m.scoreSink = sink
		}
	}
}

// WithTeamNameResolver sets how team ids map to display names in the
// activity log.
func WithTeamNameResolver(resolve func(teamID string) string) Option {
	return func(m *Machine) {
		if resolve != nil {
			m.teamName = resolve
		}
	}
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets a custom logger for the machine.
func WithLogger(l logger.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Machine over the given store and guard.
func New(store storage.ProgressStore, guard *locking.Guard, opts ...Option) *Machine {
	m := &Machine{
		store:     store,
		guard:     guard,
		scoreSink: func(string, string, string, float64, time.Time) {},
		teamName:  func(teamID string) string { return teamID },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.Get().Named("progress")
	}
	return m
}

// RegisterTeam creates the per-task progress rows for a team: the first task
// unlocked, the rest locked, full points on the table.
func (m *Machine) RegisterTeam(ctx context.Context, challenge model.Challenge, teamID string) error {
	tasks := tasksByNumber(challenge)
	for i, task := range tasks {
		progress := model.TaskProgress{
			TeamID:         teamID,
			TaskID:         task.ID,
			Locked:         i > 0,
			PointsPossible: task.PointsPossible,
			PointsEarned:   task.PointsPossible,
		}
		if err := m.store.SaveTaskProgress(ctx, progress); err != nil {
			return fmt.Errorf("register team %s: %w", teamID, err)
		}
	}
	state := model.ChallengeState{TeamID: teamID, ChallengeID: challenge.ID}
	if err := m.store.SaveChallengeState(ctx, state); err != nil {
		return fmt.Errorf("register team %s: %w", teamID, err)
	}
	return nil
}

// RevealClue reveals one clue for a task, charging its penalty. Clues must be
// requested in strictly increasing order starting at 0; duplicates and skips
// are rejected with no state change.
func (m *Machine) RevealClue(ctx context.Context, eventID string, challenge model.Challenge, teamID, taskID string, clueOrder int) (RevealOutcome, error) {
	task, ok := findTask(challenge, taskID)
	if !ok {
		return RevealOutcome{}, fmt.Errorf("task %s: %w", taskID, ErrUnknownTask)
	}
	clue, ok := findClue(task, clueOrder)
	if !ok {
		return RevealOutcome{}, fmt.Errorf("clue %d on task %s: %w", clueOrder, taskID, ErrUnknownClue)
	}

	var outcome RevealOutcome
	err := m.guard.WithLock(ctx, teamID, challenge.ID, func(ctx context.Context) error {
		return m.guard.WithSerializableTransaction(ctx, func(ctx context.Context) error {
			state, err := m.store.ChallengeState(ctx, teamID, challenge.ID)
			if err != nil {
				return err
			}
			if reason := challengeGate(challenge, state); reason != RejectNone {
				outcome = RevealOutcome{Reason: reason}
				return nil
			}

			progress, err := m.store.TaskProgress(ctx, teamID, taskID)
			if err != nil {
				return err
			}
			used := len(progress.UsedClues)
			switch {
			case clueOrder < used:
				outcome = RevealOutcome{Reason: RejectClueAlreadyOpened}
				return nil
			case clueOrder > used:
				outcome = RevealOutcome{Reason: RejectClueOutOfOrder}
				return nil
			}

			progress.UsedClues = append(progress.UsedClues, clueOrder)
			progress.CluePenalties = append(progress.CluePenalties, clue.Penalty)
			progress.PointsEarned = progress.PointsPossible
			for _, p := range progress.CluePenalties {
				progress.PointsEarned -= p // may go negative; no floor
			}
			if err := m.store.SaveTaskProgress(ctx, progress); err != nil {
				return err
			}

			state.ClueRequests++
			if err := m.store.SaveChallengeState(ctx, state); err != nil {
				return err
			}

			entry := fmt.Sprintf("revealed clue %d for task %s (-%g points)", clueOrder, task.Title, clue.Penalty)
			if err := m.store.AppendActivity(ctx, eventID, m.teamName(teamID), entry); err != nil {
				return err
			}

			outcome = RevealOutcome{Revealed: true, Clue: clue, PointsEarned: progress.PointsEarned}
			return nil
		})
	})
	if err != nil {
		return RevealOutcome{}, err
	}
	if outcome.Revealed {
		metrics.RecordClueRevealed()
	}
	return outcome, nil
}

// SubmitAnswer validates a submission. Correct answers complete the task,
// bank its points on the team's challenge score and unlock the next task by
// number, or complete the challenge on the last one.
func (m *Machine) SubmitAnswer(ctx context.Context, eventID string, challenge model.Challenge, teamID, taskID, submission string) (AnswerOutcome, error) {
	task, ok := findTask(challenge, taskID)
	if !ok {
		return AnswerOutcome{}, fmt.Errorf("task %s: %w", taskID, ErrUnknownTask)
	}
	metrics.RecordAnswerSubmitted()

	var outcome AnswerOutcome
	var committedAt time.Time
	err := m.guard.WithLock(ctx, teamID, challenge.ID, func(ctx context.Context) error {
		return m.guard.WithSerializableTransaction(ctx, func(ctx context.Context) error {
			state, err := m.store.ChallengeState(ctx, teamID, challenge.ID)
			if err != nil {
				return err
			}
			if reason := challengeGate(challenge, state); reason != RejectNone {
				outcome = AnswerOutcome{Reason: reason}
				return nil
			}

			progress, err := m.store.TaskProgress(ctx, teamID, taskID)
			if err != nil {
				return err
			}
			if progress.Completed {
				outcome = AnswerOutcome{Reason: RejectTaskCompleted}
				return nil
			}
			if progress.Locked {
				outcome = AnswerOutcome{Reason: RejectTaskLocked}
				return nil
			}

			if !answer.Check(task, submission) {
				outcome = AnswerOutcome{Reason: RejectWrongAnswer}
				return nil
			}

			now := m.now()
			progress.Completed = true
			if err := m.store.SaveTaskProgress(ctx, progress); err != nil {
				return err
			}

			state.Score += progress.PointsEarned
			if err := m.store.AppendScoreRecord(ctx, model.ScoreRecord{
				EventID:     eventID,
				TeamID:      teamID,
				ChallengeID: challenge.ID,
				TaskID:      taskID,
				Points:      progress.PointsEarned,
				RecordedAt:  now,
			}); err != nil {
				return err
			}

			outcome = AnswerOutcome{
				Correct:       true,
				TaskCompleted: true,
				PointsAwarded: progress.PointsEarned,
			}

			next, hasNext := nextTask(challenge, task)
			if hasNext {
				nextProgress, err := m.store.TaskProgress(ctx, teamID, next.ID)
				if err != nil {
					return err
				}
				nextProgress.Locked = false
				if err := m.store.SaveTaskProgress(ctx, nextProgress); err != nil {
					return err
				}
				outcome.UnlockedTaskID = next.ID

				entry := fmt.Sprintf("task %s passed (+%g points)", task.Title, progress.PointsEarned)
				if err := m.store.AppendActivity(ctx, eventID, m.teamName(teamID), entry); err != nil {
					return err
				}
			} else {
				state.Completed = true
				state.CompletedAt = now
				outcome.ChallengeCompleted = true

				entry := fmt.Sprintf("challenge %s completed (+%g points)", challenge.Name, progress.PointsEarned)
				if err := m.store.AppendActivity(ctx, eventID, m.teamName(teamID), entry); err != nil {
					return err
				}
			}

			if err := m.store.SaveChallengeState(ctx, state); err != nil {
				return err
			}
			outcome.TeamScore = state.Score
			committedAt = now
			return nil
		})
	})
	if err != nil {
		return AnswerOutcome{}, err
	}

	if outcome.Correct {
		metrics.RecordAnswerCorrect()
		m.scoreSink(eventID, teamID, challenge.ID, outcome.TeamScore, committedAt)
	} else if outcome.Reason != RejectWrongAnswer && outcome.Reason != RejectNone {
		metrics.RecordAnswerRejected()
	}
	return outcome, nil
}

// challengeGate checks the preconditions shared by both player actions.
func challengeGate(challenge model.Challenge, state model.ChallengeState) RejectionReason {
	if !challenge.Started {
		return RejectChallengeNotStarted
	}
	if state.Completed {
		return RejectChallengeCompleted
	}
	return RejectNone
}

func tasksByNumber(challenge model.Challenge) []model.Task {
	tasks := append([]model.Task(nil), challenge.Tasks...)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Number < tasks[j].Number })
	return tasks
}

func findTask(challenge model.Challenge, taskID string) (model.Task, bool) {
	for _, t := range challenge.Tasks {
		if t.ID == taskID {
			return t, true
		}
	}
	return model.Task{}, false
}

func findClue(task model.Task, order int) (model.Clue, bool) {
	for _, c := range task.Clues {
		if c.Order == order {
			return c, true
		}
	}
	return model.Clue{}, false
}

// nextTask returns the successor of task in number order. The final task has
// no successor.
func nextTask(challenge model.Challenge, task model.Task) (model.Task, bool) {
	tasks := tasksByNumber(challenge)
	for i, t := range tasks {
		if t.ID == task.ID && i+1 < len(tasks) {
			return tasks[i+1], true
		}
	}
	return model.Task{}, false
}
