package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/shzanya/verificationBot/internal/observe"
	"github.com/shzanya/verificationBot/internal/resilience"
	"github.com/shzanya/verificationBot/pkg/audio/ffmpeg"
)

// Config tunes an [Analyzer].
type Config struct {
	// MinFileBytes is the smallest recording worth decoding. Default: 1024.
	MinFileBytes int64

	// ShortAnswerThreshold selects the short-answer scoring band.
	// Default: [DefaultShortAnswerThreshold].
	ShortAnswerThreshold time.Duration

	// AttemptTimeout bounds each measurement strategy. Default: 15s.
	AttemptTimeout time.Duration

	// CircuitBreaker guards each strategy so a missing tool is not retried
	// for every answer.
	CircuitBreaker resilience.CircuitBreakerConfig
}

func (c *Config) applyDefaults() {
	if c.MinFileBytes <= 0 {
		c.MinFileBytes = 1024
	}
	if c.ShortAnswerThreshold <= 0 {
		c.ShortAnswerThreshold = DefaultShortAnswerThreshold
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 15 * time.Second
	}
}

// Option customises an [Analyzer].
type Option func(*Analyzer)

// WithToolchain sets the ffmpeg-backed tools used by the default strategies.
func WithToolchain(t Toolchain) Option {
	return func(a *Analyzer) { a.tools = t }
}

// WithStrategies replaces the default cascade. Strategies are tried in the
// given order.
func WithStrategies(named ...NamedStrategy) Option {
	return func(a *Analyzer) { a.strategies = named }
}

// WithMetrics records analysis metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithTempDir sets where transcoded copies are written.
func WithTempDir(dir string) Option {
	return func(a *Analyzer) { a.tempDir = dir }
}

// NamedStrategy pairs a strategy with the method it reports.
type NamedStrategy struct {
	Method   Method
	Strategy Strategy
}

// Analyzer measures and scores recordings. It is safe for concurrent use.
type Analyzer struct {
	cfg        Config
	tools      Toolchain
	tempDir    string
	strategies []NamedStrategy
	cascade    *resilience.Cascade[Strategy]
	metrics    *observe.Metrics
}

// New creates an Analyzer. Without options it runs the spectral, segment and
// probe strategies against ffmpeg/ffprobe on PATH.
func New(cfg Config, opts ...Option) *Analyzer {
	cfg.applyDefaults()
	a := &Analyzer{cfg: cfg, tools: ffmpeg.Tool{}}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.strategies == nil {
		a.strategies = []NamedStrategy{
			{Method: MethodSpectral, Strategy: Spectral{Tools: a.tools}},
			{Method: MethodSegment, Strategy: Segment{Tools: a.tools, TempDir: a.tempDir}},
			{Method: MethodProbe, Strategy: Probe{Tools: a.tools}},
		}
	}

	a.cascade = resilience.NewCascade[Strategy](resilience.CascadeConfig{
		CircuitBreaker: cfg.CircuitBreaker,
		AttemptTimeout: cfg.AttemptTimeout,
		OnAttempt:      a.recordAttempt,
	})
	for _, ns := range a.strategies {
		a.cascade.Add(string(ns.Method), ns.Strategy)
	}
	return a
}

// ShortAnswerThreshold returns the configured short-answer cutoff.
func (a *Analyzer) ShortAnswerThreshold() time.Duration {
	return a.cfg.ShortAnswerThreshold
}

// Analyze measures the recording at path. It never fails: a missing or tiny
// file yields a fallback result and a file no strategy can read yields a
// size-based estimate. A strategy that panics counts as failed and the next
// one is tried; a panic anywhere else yields an emergency result.
func (a *Analyzer) Analyze(ctx context.Context, path string, expected time.Duration) (res AnalysisResult) {
	ctx, span := observe.StartSpan(ctx, "quality.analyze")
	defer span.End()
	start := time.Now()
	log := observe.Logger(ctx).With("path", path, "expected", expected)

	defer func() {
		if p := recover(); p != nil {
			log.Error("quality: analysis panicked, using emergency result", "panic", p)
			res = emergencyResult(expected)
		}
		span.SetAttributes(attribute.String("quality.method", string(res.Method)))
		a.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("method", string(res.Method))))
	}()

	info, err := os.Stat(path)
	if err != nil {
		log.Warn("quality: recording not found", "err", err)
		return fallbackResult(0, expected, fmt.Errorf("%w: %w", ErrArtifactMissing, err))
	}
	size := info.Size()
	if size < a.cfg.MinFileBytes {
		log.Warn("quality: recording too small", "bytes", size)
		return fallbackResult(size, expected, fmt.Errorf("%w: %d bytes", ErrArtifactTooSmall, size))
	}

	r, method, err := resilience.Run(ctx, a.cascade, func(ctx context.Context, s Strategy) (AnalysisResult, error) {
		return s.Measure(ctx, Input{Path: path, FileSize: size})
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Warn("quality: analysis interrupted, estimating from size", "err", ctxErr)
		} else {
			log.Warn("quality: all analysis methods failed, estimating from size", "err", err)
		}
		return Estimate(size, expected, a.cfg.ShortAnswerThreshold)
	}

	r.Method = Method(method)
	r.Volume = int(r.RMS * 10000)
	log.Debug("quality: analysis complete", "method", r.Method, "duration", r.Duration, "rms", r.RMS)
	return r
}

// Score applies the adaptive formula to r.
func (a *Analyzer) Score(ctx context.Context, r AnalysisResult, expected time.Duration) Score {
	s := ScoreResult(r, expected, a.cfg.ShortAnswerThreshold)
	a.metrics.QualityScore.Record(ctx, float64(s.Value), metric.WithAttributes(
		attribute.Bool("short", s.Short),
		attribute.String("method", string(r.Method)),
	))
	return s
}

// Assess is Analyze followed by Score.
func (a *Analyzer) Assess(ctx context.Context, path string, expected time.Duration) Assessment {
	r := a.Analyze(ctx, path, expected)
	return Assessment{Result: r, Score: a.Score(ctx, r, expected)}
}

func (a *Analyzer) recordAttempt(stage string, err error, _ time.Duration) {
	status := "ok"
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = "skipped"
	case err != nil:
		status = "error"
		slog.Debug("quality: method failed", "method", stage, "err", err)
	}
	a.metrics.AnalysisAttempts.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("method", stage),
		attribute.String("status", status),
	))
}

func fallbackResult(size int64, expected time.Duration, reason error) AnalysisResult {
	r := defaultResult()
	r.FileSize = size
	r.Duration = max(time.Second, expected/2)
	r.Reason = reason
	return r
}

func emergencyResult(expected time.Duration) AnalysisResult {
	r := defaultResult()
	r.Method = MethodEmergency
	r.Duration = max(time.Second, expected/2)
	return r
}
