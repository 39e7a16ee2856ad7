// Package app wires the verification subsystems into a running bot.
//
// App owns the session registry, the capture coordinator and the voice
// link. Voice state changes are queued by [App.HandleVoiceState] and handled
// one at a time by [App.Run]; each joiner gets a session driven by a [Flow]
// on its own goroutine. [App.Shutdown] tears everything down in order.
//
// For testing, inject test doubles through [Deps] and the functional options
// (WithSinkFactory, WithClock).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shzanya/verificationBot/internal/capture"
	"github.com/shzanya/verificationBot/internal/config"
	"github.com/shzanya/verificationBot/internal/discord"
	"github.com/shzanya/verificationBot/internal/observe"
	"github.com/shzanya/verificationBot/internal/quality"
	"github.com/shzanya/verificationBot/internal/report"
	"github.com/shzanya/verificationBot/internal/results"
	"github.com/shzanya/verificationBot/internal/verification"
	"github.com/shzanya/verificationBot/pkg/audio"
)

// eventQueueSize bounds the voice state events waiting for [App.Run].
const eventQueueSize = 256

// Config is the static part of the App configuration.
type Config struct {
	GuildID        string
	VoiceChannelID string
	Plan           Plan
}

// ConfigFrom maps the file configuration onto an App Config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		GuildID:        cfg.Discord.GuildID,
		VoiceChannelID: cfg.Discord.VoiceChannelID,
		Plan:           PlanFrom(cfg),
	}
}

// PlanFrom builds the step plan described by cfg.
func PlanFrom(cfg *config.Config) Plan {
	v := cfg.Verification
	steps := make([]Step, len(v.Steps))
	for i, s := range v.Steps {
		steps[i] = Step{Prompt: s.Prompt, AudioFile: s.AudioFile, Duration: s.Duration}
	}
	return Plan{
		Steps:                 steps,
		CompletionAudio:       v.CompletionAudio,
		StepPause:             v.StepPause,
		PlaybackTimeout:       v.PlaybackTimeout,
		CaptureSlack:          v.CaptureSlack,
		VerifiedRoleID:        cfg.Discord.VerifiedRoleID,
		UnverifiedRoleID:      cfg.Discord.UnverifiedRoleID,
		KickAfterVerification: cfg.Discord.KickAfterVerification,
		KeepRecordings:        v.KeepRecordings,
	}
}

// Deps holds the collaborators main.go builds.
type Deps struct {
	// Platform opens the voice connection.
	Platform audio.Platform

	// Presence tells when the verification channel has emptied. Nil keeps
	// the voice connection open until Shutdown.
	Presence Presence

	Analyzer  *quality.Analyzer
	Artifacts *capture.ArtifactWriter
	Player    Player
	Roles     RoleDirectory
	Reporter  report.Reporter
	Store     results.Store
	Metrics   *observe.Metrics
}

// App is the verification bot's core. Its exported methods are safe for
// concurrent use.
type App struct {
	cfg      Config
	registry *verification.Registry
	coord    *capture.Coordinator
	flow     *Flow
	voice    *voiceLink
	presence Presence
	store    results.Store

	planMu sync.RWMutex
	plan   Plan

	events  chan discord.VoiceState
	now     func() time.Time
	newSink func(participantID string) capture.Sink
	tapOpts []capture.TapOption

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithSinkFactory replaces the voice tap as the source of capture sinks.
func WithSinkFactory(fn func(participantID string) capture.Sink) Option {
	return func(a *App) { a.newSink = fn }
}

// WithClock sets the clock used for sessions and captures.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithTapOptions configures the voice tap created on connect.
func WithTapOptions(opts ...capture.TapOption) Option {
	return func(a *App) { a.tapOpts = opts }
}

// New creates an App. Call [App.Run] to start handling voice events.
func New(cfg Config, deps Deps, opts ...Option) *App {
	a := &App{
		cfg:      cfg,
		plan:     cfg.Plan,
		presence: deps.Presence,
		store:    deps.Store,
		events:   make(chan discord.VoiceState, eventQueueSize),
		now:      time.Now,
	}
	for _, o := range opts {
		o(a)
	}

	m := deps.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	a.coord = capture.NewCoordinator(capture.WithMetrics(m), capture.WithClock(a.now))
	a.registry = verification.NewRegistry(
		verification.WithCanceller(a.coord),
		verification.WithMetrics(m),
		verification.WithClock(a.now),
	)
	a.voice = newVoiceLink(deps.Platform, cfg.VoiceChannelID, a.tapOpts...)
	a.flow = NewFlow(FlowDeps{
		Registry:    a.registry,
		Coordinator: a.coord,
		Analyzer:    deps.Analyzer,
		Artifacts:   deps.Artifacts,
		Player:      deps.Player,
		Roles:       deps.Roles,
		Reporter:    deps.Reporter,
		Store:       deps.Store,
		Metrics:     m,
	})
	return a
}

// Plan returns the plan new sessions start with.
func (a *App) Plan() Plan {
	a.planMu.RLock()
	defer a.planMu.RUnlock()
	return a.plan
}

// SetPlan replaces the plan for sessions started from now on. Running
// sessions keep theirs.
func (a *App) SetPlan(p Plan) {
	a.planMu.Lock()
	a.plan = p
	a.planMu.Unlock()
	slog.Info("app: verification plan updated", "steps", len(p.Steps))
}

// HandleVoiceState queues a voice state change for [App.Run]. It never
// blocks; events arriving while the queue is full are dropped.
func (a *App) HandleVoiceState(vs discord.VoiceState) {
	select {
	case a.events <- vs:
	default:
		slog.Warn("app: voice event queue full, dropping event", "user_id", vs.UserID, "channel_id", vs.ChannelID)
	}
}

// Run handles queued voice events until ctx is cancelled. Sessions run
// under ctx. Run always returns nil.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running", "voice_channel_id", a.cfg.VoiceChannelID, "steps", len(a.Plan().Steps))
	for {
		select {
		case <-ctx.Done():
			return nil
		case vs := <-a.events:
			a.handle(ctx, vs)
		}
	}
}

func (a *App) handle(ctx context.Context, vs discord.VoiceState) {
	if vs.Bot || vs.GuildID != a.cfg.GuildID {
		return
	}
	target := a.cfg.VoiceChannelID
	switch {
	case vs.ChannelID == target && vs.BeforeChannelID != target:
		a.join(ctx, vs)
	case vs.BeforeChannelID == target && vs.ChannelID != target:
		a.leave(vs)
	}
}

// join starts a session for a member entering the verification channel.
func (a *App) join(ctx context.Context, vs discord.VoiceState) {
	plan := a.Plan()
	sess, err := a.registry.Start(vs.UserID, vs.GuildID, len(plan.Steps))
	if errors.Is(err, verification.ErrAlreadyActive) {
		slog.Info("app: member already verifying, ignoring join", "user_id", vs.UserID)
		return
	}
	if err != nil {
		slog.Error("app: failed to start session", "user_id", vs.UserID, "err", err)
		return
	}

	run := Run{
		Session:     sess,
		Participant: Participant{ID: vs.UserID, Name: vs.DisplayName, GuildID: vs.GuildID},
		Plan:        plan,
	}

	conn, tap, err := a.voice.Ensure(ctx)
	if err != nil {
		_ = a.flow.fail(ctx, run, "could not join the voice channel", err)
		slog.Error("app: verification aborted", "user_id", vs.UserID, "err", err)
		return
	}
	run.Conn = conn
	if a.newSink != nil {
		run.NewSink = func() capture.Sink { return a.newSink(vs.UserID) }
	} else {
		run.NewSink = func() capture.Sink { return tap.Sink(vs.UserID) }
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.flow.Run(ctx, run); err != nil {
			slog.Warn("app: verification failed", "session_id", sess.ID, "user_id", vs.UserID, "err", err)
		}
	}()
}

// leave drops the member's session and disconnects once the channel is
// empty.
func (a *App) leave(vs discord.VoiceState) {
	if a.registry.Cleanup(vs.UserID) {
		slog.Info("app: member left during verification", "user_id", vs.UserID)
	}
	if a.presence == nil || a.presence.Humans(a.cfg.VoiceChannelID) > 0 {
		return
	}
	if err := a.voice.Close(); err != nil {
		slog.Warn("app: voice disconnect error", "err", err)
	}
}

// Sessions returns a snapshot of every registered session, oldest first.
func (a *App) Sessions() []verification.Info {
	active := a.registry.Active()
	out := make([]verification.Info, len(active))
	for i, s := range active {
		out[i] = s.Snapshot()
	}
	return out
}

// Captures returns the in-flight recordings.
func (a *App) Captures() []capture.Status {
	return a.coord.Snapshot()
}

// Cancel drops the participant's session. It reports whether one existed.
func (a *App) Cancel(participantID string) bool {
	return a.registry.Cleanup(participantID)
}

// History returns the participant's recorded outcomes, newest first.
func (a *App) History(ctx context.Context, participantID string, limit int) ([]results.Outcome, error) {
	if a.store == nil {
		return nil, nil
	}
	out, err := a.store.History(ctx, participantID, limit)
	if err != nil {
		return nil, fmt.Errorf("app: history of %s: %w", participantID, err)
	}
	return slices.Clip(out), nil
}

// Shutdown cancels every session, waits for their flows to finish and
// leaves the voice channel. Call it after the context passed to Run is
// cancelled. Only the first call does any work.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		n := a.registry.CleanupAll()
		if cerr := a.coord.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("app: close captures: %w", cerr))
		}

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = errors.Join(err, fmt.Errorf("app: waiting for sessions: %w", ctx.Err()))
		}

		if verr := a.voice.Close(); verr != nil {
			err = errors.Join(err, verr)
		}
		slog.Info("app shut down", "cancelled_sessions", n)
	})
	return err
}
