package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/shzanya/verificationBot"

// Tracer returns the bot's [trace.Tracer] from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller must call span.End().
// Participant attributes stored with [WithParticipant] are copied onto the
// span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if p, ok := participantFrom(ctx); ok {
		opts = append(opts, trace.WithAttributes(
			attribute.String("verifybot.guild_id", p.guildID),
			attribute.String("verifybot.user_id", p.userID),
		))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the active span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type participantKey struct{}

type participant struct {
	guildID string
	userID  string
}

// WithParticipant tags ctx with the guild and user a verification runs for.
// [Logger] and [StartSpan] pick the tags up.
func WithParticipant(ctx context.Context, guildID, userID string) context.Context {
	return context.WithValue(ctx, participantKey{}, participant{guildID: guildID, userID: userID})
}

func participantFrom(ctx context.Context) (participant, bool) {
	p, ok := ctx.Value(participantKey{}).(participant)
	return p, ok
}

// Logger returns the default [slog.Logger] enriched with trace_id and span_id
// from the active span and guild_id and user_id from [WithParticipant].
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if p, ok := participantFrom(ctx); ok {
		l = l.With(slog.String("guild_id", p.guildID), slog.String("user_id", p.userID))
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
