package results

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [Store] and makes all operations non-fatal. If the
// underlying store fails, writes are dropped and reads return empty results;
// the failure is logged and the guard is marked degraded.
//
// Verification keeps running while the database is down; only the audit
// trail has gaps. [Guard.Ping] is not guarded so readiness checks still see
// the outage.
//
// All methods are safe for concurrent use.
type Guard struct {
	store    Store
	degraded atomic.Bool
	dropped  atomic.Int64
}

var _ Store = (*Guard)(nil)

// NewGuard wraps store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// RecordStep writes through to the store. On failure the error is logged
// and swallowed.
func (g *Guard) RecordStep(ctx context.Context, s Step) error {
	if err := g.store.RecordStep(ctx, s); err != nil {
		g.fail()
		slog.Warn("results guard: RecordStep failed, dropping",
			"session_id", s.SessionID,
			"step", s.Step,
			"err", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// RecordOutcome writes through to the store. On failure the error is logged
// and swallowed.
func (g *Guard) RecordOutcome(ctx context.Context, o Outcome) error {
	if err := g.store.RecordOutcome(ctx, o); err != nil {
		g.fail()
		slog.Warn("results guard: RecordOutcome failed, dropping",
			"session_id", o.SessionID,
			"status", o.Status,
			"err", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// History reads from the store. On failure an empty slice is returned.
func (g *Guard) History(ctx context.Context, participantID string, limit int) ([]Outcome, error) {
	out, err := g.store.History(ctx, participantID, limit)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("results guard: History failed, returning empty", "participant_id", participantID, "err", err)
		return []Outcome{}, nil
	}
	g.degraded.Store(false)
	return out, nil
}

// SessionSteps reads from the store. On failure an empty slice is returned.
func (g *Guard) SessionSteps(ctx context.Context, sessionID string) ([]Step, error) {
	out, err := g.store.SessionSteps(ctx, sessionID)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("results guard: SessionSteps failed, returning empty", "session_id", sessionID, "err", err)
		return []Step{}, nil
	}
	g.degraded.Store(false)
	return out, nil
}

// Ping delegates to the store and returns its error unchanged.
func (g *Guard) Ping(ctx context.Context) error {
	return g.store.Ping(ctx)
}

// Close closes the store.
func (g *Guard) Close() error {
	return g.store.Close()
}

// IsDegraded reports whether the most recent operation failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}

// Dropped returns how many writes were lost.
func (g *Guard) Dropped() int64 {
	return g.dropped.Load()
}

func (g *Guard) fail() {
	g.degraded.Store(true)
	g.dropped.Add(1)
}
