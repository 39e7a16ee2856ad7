// Package report turns verification progress into structured events and
// fans them out to whoever is listening: a Discord channel, the log, or
// both.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shzanya/verificationBot/internal/quality"
	"github.com/shzanya/verificationBot/internal/verification"
)

// Kind identifies what happened.
type Kind int

const (
	SessionStarted Kind = iota + 1
	StepStarted
	StepScored
	SessionCompleted
	SessionFailed

	// ManualActionRequired is sent when the bot could not finish something
	// a moderator now has to do by hand, such as removing a verified member
	// from the voice channel.
	ManualActionRequired
)

// String returns the snake_case event name.
func (k Kind) String() string {
	switch k {
	case SessionStarted:
		return "session_started"
	case StepStarted:
		return "step_started"
	case StepScored:
		return "step_scored"
	case SessionCompleted:
		return "session_completed"
	case SessionFailed:
		return "session_failed"
	case ManualActionRequired:
		return "manual_action_required"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one progress notification. Fields that do not apply to a kind are
// left zero.
type Event struct {
	Kind Kind
	At   time.Time

	SessionID       string
	ParticipantID   string
	ParticipantName string
	GuildID         string

	// Step is zero-based; Steps is the total.
	Step  int
	Steps int

	Prompt   string
	Expected time.Duration

	// Assessment is set for StepScored.
	Assessment *quality.Assessment

	// Elapsed is the session run time for terminal events.
	Elapsed time.Duration

	// Reason explains SessionFailed and ManualActionRequired.
	Reason string
	Err    error

	// Records holds the per-step summaries for SessionCompleted.
	Records []verification.StepRecord
}

// Reporter receives events. Implementations must not block the flow for
// long; delivery failures are logged, not returned.
type Reporter interface {
	Report(ctx context.Context, e Event)
}

// ReporterFunc adapts a function to [Reporter].
type ReporterFunc func(ctx context.Context, e Event)

// Report implements [Reporter].
func (f ReporterFunc) Report(ctx context.Context, e Event) { f(ctx, e) }

// Multi delivers every event to each reporter in order.
type Multi []Reporter

// Report implements [Reporter].
func (m Multi) Report(ctx context.Context, e Event) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, e)
		}
	}
}

// Nop drops every event.
var Nop Reporter = ReporterFunc(func(context.Context, Event) {})

// LogReporter writes events to a slog logger.
type LogReporter struct {
	Logger *slog.Logger
}

// Report implements [Reporter].
func (l LogReporter) Report(ctx context.Context, e Event) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{
		"event", e.Kind.String(),
		"session_id", e.SessionID,
		"participant_id", e.ParticipantID,
	}
	if e.Steps > 0 {
		attrs = append(attrs, "step", e.Step+1, "steps", e.Steps)
	}
	level := slog.LevelInfo
	switch e.Kind {
	case StepScored:
		if a := e.Assessment; a != nil {
			attrs = append(attrs,
				"score", a.Score.Value,
				"tier", a.Score.Tier.String(),
				"method", string(a.Result.Method),
				"duration", a.Result.Duration.Round(time.Millisecond),
				"rms", fmt.Sprintf("%.4f", a.Result.RMS),
			)
		}
	case SessionCompleted:
		attrs = append(attrs, "elapsed", e.Elapsed.Round(time.Millisecond))
	case SessionFailed:
		level = slog.LevelWarn
		attrs = append(attrs, "reason", e.Reason)
		if e.Err != nil {
			attrs = append(attrs, "err", e.Err)
		}
	case ManualActionRequired:
		level = slog.LevelWarn
		attrs = append(attrs, "reason", e.Reason)
	}
	log.Log(ctx, level, "verification event", attrs...)
}

const (
	barFull  = "▰"
	barEmpty = "▱"
)

// ProgressBar renders done out of total as a fixed-width bar, e.g.
// "▰▰▰▱▱▱" for 1 of 2 with width 6.
func ProgressBar(done, total, width int) string {
	if width <= 0 {
		return ""
	}
	if total <= 0 {
		return strings.Repeat(barEmpty, width)
	}
	done = min(max(done, 0), total)
	filled := done * width / total
	return strings.Repeat(barFull, filled) + strings.Repeat(barEmpty, width-filled)
}

// ScoreBar renders a 0–100 score as a ten-segment bar.
func ScoreBar(score int) string {
	return ProgressBar(score, quality.ScoreMax, 10)
}

// Summary is the aggregate of a completed session's step records.
type Summary struct {
	Steps        int
	AverageScore int
	Total        time.Duration
	Worst        quality.Tier
}

// Summarize aggregates records.
func Summarize(records []verification.StepRecord) Summary {
	if len(records) == 0 {
		return Summary{}
	}
	s := Summary{Steps: len(records), Worst: quality.TierGreen}
	sum := 0
	for _, r := range records {
		sum += r.Score
		s.Total += r.Duration
		if t := tierFromName(r.Tier); t < s.Worst {
			s.Worst = t
		}
	}
	s.AverageScore = (sum + len(records)/2) / len(records)
	return s
}

func tierFromName(name string) quality.Tier {
	for _, t := range []quality.Tier{quality.TierGreen, quality.TierYellow, quality.TierOrange} {
		if t.String() == name {
			return t
		}
	}
	return quality.TierRed
}
