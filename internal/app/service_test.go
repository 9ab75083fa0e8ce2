package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gameday-live/arena/internal/domain/model"
	"github.com/gameday-live/arena/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	m.Run()
}

func startedService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{
		// Long interval so sweeps only happen when tests trigger them.
		WithScoringInterval(time.Hour),
		WithExecutorProfile(time.Millisecond, 2*time.Millisecond, 1.0),
		WithRetryPolicy(0, time.Millisecond),
	}, opts...)
	svc := New(opts...)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop(context.Background()) })
	return svc
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestService_LifecycleGuards(t *testing.T) {
	svc := New()

	if _, err := svc.Leaderboard("event-1"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := svc.TriggerScoring("event-1"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(context.Background())

	if err := svc.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestService_GameDayFlow(t *testing.T) {
	svc := startedService(t)

	event := model.Event{
		ID:      "gameday-1",
		Name:    "GameDay Finals",
		Type:    model.EventGameDay,
		EndTime: time.Now().Add(2 * time.Hour),
	}
	problems := []model.Problem{{
		ID:       "p1",
		Name:     "failover drill",
		Provider: "local",
		Criteria: []model.Criterion{{Name: "recovered", Weight: 1, MaxPoints: 100}},
	}}
	participants := []model.Participant{
		{AccountID: "acct-1", DisplayName: "Alice"},
		{AccountID: "acct-2", DisplayName: "Bob"},
	}

	if err := svc.StartSession(context.Background(), event, problems, participants); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	var boardUpdates int32
	unsub, err := svc.OnLeaderboardUpdate(func(model.Leaderboard) { atomic.AddInt32(&boardUpdates, 1) })
	if err != nil {
		t.Fatalf("OnLeaderboardUpdate: %v", err)
	}
	defer unsub()

	if err := svc.TriggerScoring("gameday-1"); err != nil {
		t.Fatalf("TriggerScoring: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&boardUpdates) >= 2 })

	board, err := svc.Leaderboard("gameday-1")
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(board.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(board.Entries))
	}
	if board.Entries[0].Rank != 1 || board.Entries[1].Rank != 2 {
		t.Fatalf("unexpected ranks %+v", board.Entries)
	}

	history, err := svc.ScoreHistory("gameday-1", "acct-1")
	if err != nil || len(history) != 1 {
		t.Fatalf("unexpected history %v %v", history, err)
	}

	if err := svc.StopSession("gameday-1"); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
}

func TestService_JAMFlowFeedsLeaderboard(t *testing.T) {
	svc := startedService(t)

	challenge := model.Challenge{
		ID:      "ch-1",
		EventID: "jam-1",
		Name:    "Crypto Gauntlet",
		Started: true,
		Tasks: []model.Task{
			{ID: "t1", Number: 1, Title: "warmup", PointsPossible: 100, Answer: "flag{one}", AnswerKind: model.AnswerExact},
			{ID: "t2", Number: 2, Title: "boss", PointsPossible: 200, Answer: "flag{two}", AnswerKind: model.AnswerExact},
		},
	}

	if err := svc.RegisterTeam(context.Background(), challenge, "team-7"); err != nil {
		t.Fatalf("RegisterTeam: %v", err)
	}

	outcome, err := svc.SubmitAnswer(context.Background(), "jam-1", challenge, "team-7", "t1", "flag{one}")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if !outcome.Correct || !outcome.TaskCompleted || outcome.UnlockedTaskID != "t2" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.TeamScore != 100 {
		t.Fatalf("expected team score 100, got %v", outcome.TeamScore)
	}

	// The committed score flows through the score sink into the board.
	entry, ok, err := svc.LeaderboardEntry("jam-1", "team-7")
	if err != nil || !ok {
		t.Fatalf("LeaderboardEntry: ok=%v err=%v", ok, err)
	}
	if entry.TotalScore != 100 {
		t.Fatalf("expected leaderboard score 100, got %v", entry.TotalScore)
	}

	// A rejection must not touch the board.
	rejected, err := svc.SubmitAnswer(context.Background(), "jam-1", challenge, "team-7", "t1", "flag{one}")
	if err != nil {
		t.Fatalf("SubmitAnswer rejected: %v", err)
	}
	if rejected.Correct || rejected.Reason == "" {
		t.Fatalf("expected rejection, got %+v", rejected)
	}
	entry, _, _ = svc.LeaderboardEntry("jam-1", "team-7")
	if entry.TotalScore != 100 {
		t.Fatalf("rejection changed the board: %v", entry.TotalScore)
	}
}
