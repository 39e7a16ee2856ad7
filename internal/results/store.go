// Package results keeps an audit log of verification answers and outcomes.
//
// Two backends are provided: [SQLiteStore] (the default, a single local
// file) and [PostgresStore]. [Guard] wraps either and keeps the bot running
// when the database is unavailable.
package results

import (
	"context"
	"time"
)

// Step is the stored summary of one scored answer.
type Step struct {
	SessionID     string
	ParticipantID string
	GuildID       string
	Step          int
	Prompt        string
	Score         int
	Tier          string
	Method        string
	Duration      time.Duration
	RMS           float64
	FileSize      int64
	RecordedAt    time.Time
}

// Outcome is the stored end state of a session.
type Outcome struct {
	SessionID     string
	ParticipantID string
	GuildID       string

	// Status is "completed", "failed" or "cancelled".
	Status string
	Reason string

	Steps        int
	AverageScore int
	StartedAt    time.Time
	EndedAt      time.Time
}

// Elapsed is how long the session ran.
func (o Outcome) Elapsed() time.Duration {
	return o.EndedAt.Sub(o.StartedAt)
}

// Store persists steps and outcomes. Implementations must be safe for
// concurrent use.
type Store interface {
	RecordStep(ctx context.Context, s Step) error
	RecordOutcome(ctx context.Context, o Outcome) error

	// History returns the participant's most recent outcomes, newest first.
	// limit <= 0 means DefaultHistoryLimit.
	History(ctx context.Context, participantID string, limit int) ([]Outcome, error)

	// SessionSteps returns the recorded steps of one session in order.
	SessionSteps(ctx context.Context, sessionID string) ([]Step, error)

	Ping(ctx context.Context) error
	Close() error
}

// DefaultHistoryLimit caps [Store.History] when no limit is given.
const DefaultHistoryLimit = 10

func historyLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}
