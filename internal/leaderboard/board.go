// Package leaderboard maintains per-event ranked leaderboards fed by both
// scoring paths, with dense ranks, earliest-wins tie-breaks and an
// anti-sniping freeze window.
package leaderboard

import (
	"sort"
	"sync"
	"time"

	"github.com/gameday-live/arena/internal/domain/model"
	"github.com/gameday-live/arena/pkg/metrics"
)

// board is the mutable state of one event's leaderboard.
type board struct {
	eventID   string
	entries   map[string]*model.LeaderboardEntry
	order     []string // entry keys in rank order
	updatedAt time.Time
	frozen    bool
}

// Aggregator merges scoring results into ranked leaderboards.
type Aggregator struct {
	mu     sync.RWMutex
	boards map[string]*board
	now    func() time.Time

	displayNames map[string]string // entry key -> display name
}

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an empty aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		boards:       make(map[string]*board),
		displayNames: make(map[string]string),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterDisplayName records the name rendered for an entry key.
func (a *Aggregator) RegisterDisplayName(key, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.displayNames[key] = name
}

// UpdateScore applies one scoring result to the event's board. Re-scoring a
// problem replaces that problem's contribution rather than accumulating it.
// While frozen the totals still move but ordering and ranks do not.
func (a *Aggregator) UpdateScore(eventID string, result model.ScoringResult) model.LeaderboardEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.boards[eventID]
	if b == nil {
		b = &board{
			eventID: eventID,
			entries: make(map[string]*model.LeaderboardEntry),
		}
		a.boards[eventID] = b
	}

	key := result.EntryKey()
	entry := b.entries[key]
	if entry == nil {
		entry = &model.LeaderboardEntry{
			Key:           key,
			DisplayName:   a.displayNames[key],
			ProblemScores: make(map[string]float64),
			Trend:         model.TrendSame,
			// While frozen a new entry takes the next rank at the bottom so
			// existing ordering is untouched.
			Rank: len(b.order) + 1,
		}
		b.entries[key] = entry
		b.order = append(b.order, key)
	}

	previous := entry.TotalScore
	entry.ProblemScores[result.ProblemID] = result.TotalScore
	entry.TotalScore = 0
	for _, s := range entry.ProblemScores {
		entry.TotalScore += s
	}

	switch {
	case entry.TotalScore > previous:
		entry.Trend = model.TrendUp
	case entry.TotalScore < previous:
		entry.Trend = model.TrendDown
	default:
		entry.Trend = model.TrendSame
	}

	scoredAt := result.ScoredAt
	if scoredAt.IsZero() {
		scoredAt = a.now()
	}
	entry.LastScoredAt = scoredAt
	b.updatedAt = a.now()

	if !b.frozen {
		a.resort(b)
	}

	metrics.RecordLeaderboardUpdate()
	metrics.UpdateLeaderboardEntries(eventID, len(b.entries))
	return *copyEntry(entry)
}

// Freeze locks the ranking order of an event's board.
func (a *Aggregator) Freeze(eventID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b := a.boards[eventID]; b != nil {
		b.frozen = true
	}
}

// Unfreeze unlocks ordering and immediately recomputes ranks from the
// latest totals.
func (a *Aggregator) Unfreeze(eventID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b := a.boards[eventID]; b != nil && b.frozen {
		b.frozen = false
		a.resort(b)
		b.updatedAt = a.now()
	}
}

// SetFrozen reconciles the freeze flag to the given state. Sessions derive
// the state from the event clock each tick.
func (a *Aggregator) SetFrozen(eventID string, frozen bool) {
	if frozen {
		a.Freeze(eventID)
	} else {
		a.Unfreeze(eventID)
	}
}

// IsFrozen reports whether the event's board is frozen.
func (a *Aggregator) IsFrozen(eventID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b := a.boards[eventID]
	return b != nil && b.frozen
}

// Reset discards the event's leaderboard entirely.
func (a *Aggregator) Reset(eventID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.boards, eventID)
	metrics.UpdateLeaderboardEntries(eventID, 0)
}

// Entry returns a copy of one entry.
func (a *Aggregator) Entry(eventID, key string) (model.LeaderboardEntry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b := a.boards[eventID]
	if b == nil {
		return model.LeaderboardEntry{}, false
	}
	entry, ok := b.entries[key]
	if !ok {
		return model.LeaderboardEntry{}, false
	}
	return *copyEntry(entry), true
}

// Snapshot renders the event's board in rank order. Unknown events yield an
// empty board rather than an error.
func (a *Aggregator) Snapshot(eventID string) model.Leaderboard {
	a.mu.RLock()
	defer a.mu.RUnlock()

	b := a.boards[eventID]
	if b == nil {
		return model.Leaderboard{EventID: eventID}
	}

	entries := make([]model.LeaderboardEntry, 0, len(b.order))
	for _, key := range b.order {
		entries = append(entries, *copyEntry(b.entries[key]))
	}
	return model.Leaderboard{
		EventID:   eventID,
		Entries:   entries,
		UpdatedAt: b.updatedAt,
		IsFrozen:  b.frozen,
	}
}

// resort orders entries by total score descending, ties broken by earliest
// lastScoredAt (first to reach the score wins), then key for determinism,
// and reassigns dense ranks 1..N. Caller holds the write lock.
func (a *Aggregator) resort(b *board) {
	sort.SliceStable(b.order, func(i, j int) bool {
		ei, ej := b.entries[b.order[i]], b.entries[b.order[j]]
		if ei.TotalScore != ej.TotalScore {
			return ei.TotalScore > ej.TotalScore
		}
		if !ei.LastScoredAt.Equal(ej.LastScoredAt) {
			return ei.LastScoredAt.Before(ej.LastScoredAt)
		}
		return ei.Key < ej.Key
	})
	for i, key := range b.order {
		b.entries[key].Rank = i + 1
	}
	metrics.RecordLeaderboardResort()
}

func copyEntry(e *model.LeaderboardEntry) *model.LeaderboardEntry {
	cp := *e
	cp.ProblemScores = make(map[string]float64, len(e.ProblemScores))
	for k, v := range e.ProblemScores {
		cp.ProblemScores[k] = v
	}
	return &cp
}
