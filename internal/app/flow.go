package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shzanya/verificationBot/internal/capture"
	"github.com/shzanya/verificationBot/internal/discord"
	"github.com/shzanya/verificationBot/internal/observe"
	"github.com/shzanya/verificationBot/internal/quality"
	"github.com/shzanya/verificationBot/internal/report"
	"github.com/shzanya/verificationBot/internal/results"
	"github.com/shzanya/verificationBot/internal/verification"
	"github.com/shzanya/verificationBot/pkg/audio"
)

// errSessionGone means the registry dropped the session while the flow was
// running, e.g. because the member left the channel or a moderator
// cancelled it.
var errSessionGone = errors.New("app: session cleaned up")

// Step is one prompt of a [Plan].
type Step struct {
	Prompt    string
	AudioFile string
	Duration  time.Duration
}

// Plan is the step sequence and policy one session runs with. Each session
// keeps the plan it started with.
type Plan struct {
	Steps           []Step
	CompletionAudio string

	StepPause       time.Duration
	PlaybackTimeout time.Duration

	// CaptureSlack is added to a step's duration when waiting for its
	// capture to resolve.
	CaptureSlack time.Duration

	VerifiedRoleID   string
	UnverifiedRoleID string

	KickAfterVerification bool
	KeepRecordings        bool
}

// FlowDeps holds the collaborators of a [Flow].
type FlowDeps struct {
	Registry    *verification.Registry
	Coordinator *capture.Coordinator
	Analyzer    *quality.Analyzer
	Artifacts   *capture.ArtifactWriter
	Player      Player
	Roles       RoleDirectory

	// Reporter defaults to [report.Nop].
	Reporter report.Reporter

	// Store is optional.
	Store   results.Store
	Metrics *observe.Metrics
}

// Flow drives sessions through their steps. One Flow serves every session;
// each [Flow.Run] call owns one session.
type Flow struct {
	FlowDeps
}

// NewFlow creates a Flow.
func NewFlow(d FlowDeps) *Flow {
	if d.Reporter == nil {
		d.Reporter = report.Nop
	}
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	return &Flow{FlowDeps: d}
}

// Run is one session's input to [Flow.Run].
type Run struct {
	Session     *verification.Session
	Participant Participant
	Plan        Plan

	// Conn carries prompt playback. Nil skips playback.
	Conn audio.Connection

	// NewSink returns a fresh sink recording the participant.
	NewSink func() capture.Sink
}

// Run drives r.Session from pending to a terminal state. Steps run strictly
// in order: announce, play the prompt, record, persist, score, report,
// pause. After the last step the verified role is granted and the
// unverified role revoked.
//
// The roles are handed out while the session is still in progress, so a
// failed grant can still fail it; Complete follows a successful hand-off.
//
// Run returns nil when the session completed or was cleaned up by someone
// else, and the cause when it failed. Role failures wrap
// [ErrRoleAssignment].
func (f *Flow) Run(ctx context.Context, r Run) error {
	sess, p := r.Session, r.Participant
	ctx = observe.WithParticipant(ctx, p.GuildID, p.ID)
	ctx, span := observe.StartSpan(ctx, "verification.session",
		trace.WithAttributes(attribute.String("verifybot.session_id", sess.ID)))
	defer span.End()

	if len(r.Plan.Steps) != sess.Steps() {
		err := fmt.Errorf("app: plan has %d steps, session expects %d", len(r.Plan.Steps), sess.Steps())
		return f.fail(ctx, r, "invalid plan", err)
	}
	if err := sess.Begin(); err != nil {
		return f.abort(ctx, r, fmt.Errorf("app: begin session: %w", err))
	}
	f.report(ctx, r, report.Event{Kind: report.SessionStarted})

	for {
		if err := f.runStep(ctx, r); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return f.abort(ctx, r, err)
		}
		if sess.IsLastStep() {
			break
		}
		if !f.pause(ctx, r) {
			return f.abort(ctx, r, errSessionGone)
		}
		if err := sess.NextStep(); err != nil {
			return f.abort(ctx, r, fmt.Errorf("app: advance step: %w", err))
		}
	}
	return f.complete(ctx, r)
}

// runStep plays, records and scores the session's current step.
func (f *Flow) runStep(ctx context.Context, r Run) error {
	sess, p := r.Session, r.Participant
	i := sess.Step()
	step := r.Plan.Steps[i]

	ctx, span := observe.StartSpan(ctx, "verification.step", trace.WithAttributes(attribute.Int("verifybot.step", i+1)))
	defer span.End()
	log := observe.Logger(ctx).With("session_id", sess.ID, "step", i+1)

	f.report(ctx, r, report.Event{Kind: report.StepStarted, Step: i, Prompt: step.Prompt, Expected: step.Duration})
	playCtx, stop := untilDone(ctx, sess)
	f.play(playCtx, r, step.AudioFile)
	stop()
	if !f.Registry.Holds(sess) {
		return errSessionGone
	}

	key := capture.Key{ParticipantID: p.ID, Step: i}
	task, err := f.Coordinator.Start(ctx, key, step.Duration, r.NewSink())
	if err != nil {
		return fmt.Errorf("app: start capture for step %d: %w", i+1, err)
	}
	// A cleanup between the check above and Start finds no capture to cancel.
	if !f.Registry.Holds(sess) {
		f.Coordinator.Cancel(key)
		return errSessionGone
	}
	res, err := f.await(ctx, task, step.Duration+r.Plan.CaptureSlack)
	if err != nil {
		return err
	}
	if res.Cancelled() || !f.Registry.Holds(sess) {
		return errSessionGone
	}
	if res.Err != nil {
		log.Warn("app: capture sink failed, scoring what was recorded", "err", res.Err)
	}

	path := ""
	art, saved, err := f.Artifacts.WriteTrack(ctx, res.Recording, p.ID, p.Name, i)
	switch {
	case err != nil:
		log.Warn("app: failed to save recording", "err", err)
	case saved:
		path = art.Path
	default:
		log.Warn("app: recording holds no track for participant")
	}

	a := f.Analyzer.Assess(ctx, path, step.Duration)
	if saved && !r.Plan.KeepRecordings {
		if err := f.Artifacts.Remove(art); err != nil {
			log.Warn("app: failed to remove recording", "path", art.Path, "err", err)
		}
	}

	rec := verification.StepRecord{
		Step:     i,
		Prompt:   step.Prompt,
		Score:    a.Score.Value,
		Tier:     a.Score.Tier.String(),
		Method:   string(a.Result.Method),
		Duration: a.Result.Duration,
		At:       f.Registry.Now(),
	}
	sess.RecordStep(rec)
	span.SetAttributes(attribute.Int("verifybot.score", rec.Score), attribute.String("verifybot.method", rec.Method))

	f.report(ctx, r, report.Event{Kind: report.StepScored, Step: i, Prompt: step.Prompt, Expected: step.Duration, Assessment: &a})
	if f.Store != nil {
		err := f.Store.RecordStep(context.WithoutCancel(ctx), results.Step{
			SessionID:     sess.ID,
			ParticipantID: p.ID,
			GuildID:       p.GuildID,
			Step:          i,
			Prompt:        step.Prompt,
			Score:         rec.Score,
			Tier:          rec.Tier,
			Method:        rec.Method,
			Duration:      rec.Duration,
			RMS:           a.Result.RMS,
			FileSize:      a.Result.FileSize,
			RecordedAt:    rec.At,
		})
		if err != nil {
			log.Warn("app: failed to record step", "err", err)
		}
	}
	return nil
}

// await waits for task, giving it limit before forcing a manual stop.
func (f *Flow) await(ctx context.Context, task *capture.Task, limit time.Duration) (capture.Result, error) {
	waitCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	res, err := task.Wait(waitCtx)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		f.Coordinator.Cancel(task.Key())
		return capture.Result{}, ctx.Err()
	}

	observe.Logger(ctx).Warn("app: capture overran its window, stopping it", "key", task.Key().String(), "limit", limit)
	f.Coordinator.Stop(task.Key())
	<-task.Done()
	res, _ = task.Result()
	return res, nil
}

// pause waits out the step pause. It reports false if the session was
// cleaned up or ctx ended meanwhile.
func (f *Flow) pause(ctx context.Context, r Run) bool {
	if d := r.Plan.StepPause; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-r.Session.Done():
			return false
		case <-t.C:
		}
	}
	return f.Registry.Holds(r.Session)
}

// complete hands out the roles and finishes the session. A session the
// registry no longer holds is not completed.
func (f *Flow) complete(ctx context.Context, r Run) error {
	sess, p, plan := r.Session, r.Participant, r.Plan
	if !f.Registry.Holds(sess) {
		return f.abort(ctx, r, errSessionGone)
	}

	if err := f.Roles.Grant(ctx, p.ID, plan.VerifiedRoleID, "voice verification passed"); err != nil {
		f.Metrics.RecordRoleError(ctx, "grant")
		return f.fail(ctx, r, "could not grant the verified role", fmt.Errorf("%w: grant: %w", ErrRoleAssignment, err))
	}
	if plan.UnverifiedRoleID != "" {
		if err := f.Roles.Revoke(ctx, p.ID, plan.UnverifiedRoleID, "voice verification passed"); err != nil {
			f.Metrics.RecordRoleError(ctx, "revoke")
			return f.fail(ctx, r, "could not revoke the unverified role", fmt.Errorf("%w: revoke: %w", ErrRoleAssignment, err))
		}
	}

	if err := sess.Complete(f.Registry.Now()); err != nil {
		return f.abort(ctx, r, fmt.Errorf("app: complete session: %w", err))
	}
	// Released before the kick so the resulting leave finds nothing to
	// clean up.
	f.Registry.Remove(p.ID, sess)

	info := sess.Snapshot()
	f.report(ctx, r, report.Event{
		Kind:    report.SessionCompleted,
		Step:    info.Step,
		Elapsed: info.Elapsed(f.Registry.Now()),
		Records: info.Records,
	})
	f.recordOutcome(ctx, r, "completed", "")
	observe.Logger(ctx).Info("app: verification completed", "session_id", sess.ID, "elapsed", info.Elapsed(f.Registry.Now()).Round(time.Millisecond))

	f.play(ctx, r, plan.CompletionAudio)
	if plan.KickAfterVerification {
		f.kick(ctx, r)
	}
	return nil
}

func (f *Flow) kick(ctx context.Context, r Run) {
	err := f.Roles.Remove(ctx, r.Participant.ID, "voice verification complete")
	switch {
	case err == nil:
	case errors.Is(err, discord.ErrMissingPermission):
		f.report(ctx, r, report.Event{
			Kind:   report.ManualActionRequired,
			Reason: "the bot may not disconnect members; please disconnect them manually",
			Err:    err,
		})
	default:
		f.Metrics.RecordRoleError(ctx, "remove")
		observe.Logger(ctx).Warn("app: failed to disconnect verified member", "err", err)
	}
}

// abort ends the session after cause interrupted it. Sessions that were
// cleaned up elsewhere, or whose context ended, are recorded as cancelled
// and nil is returned. Anything else fails the session.
func (f *Flow) abort(ctx context.Context, r Run, cause error) error {
	gone := errors.Is(cause, errSessionGone) ||
		errors.Is(cause, context.Canceled) ||
		!f.Registry.Holds(r.Session)
	if !gone {
		reason := "verification error"
		if errors.Is(cause, capture.ErrCaptureRejected) || errors.Is(cause, capture.ErrTapClosed) {
			reason = "recording could not start"
		}
		return f.fail(ctx, r, reason, cause)
	}

	if f.Registry.Remove(r.Participant.ID, r.Session) {
		f.Coordinator.CancelParticipant(r.Participant.ID)
	}
	f.report(ctx, r, report.Event{Kind: report.SessionFailed, Step: r.Session.Step(), Reason: "verification cancelled"})
	f.recordOutcome(ctx, r, "cancelled", "verification cancelled")
	observe.Logger(ctx).Info("app: verification cancelled", "session_id", r.Session.ID)
	return nil
}

// fail moves the session to failed, releases it and reports cause.
func (f *Flow) fail(ctx context.Context, r Run, reason string, cause error) error {
	sess, p := r.Session, r.Participant
	if err := sess.Fail(reason, f.Registry.Now()); err != nil {
		observe.Logger(ctx).Debug("app: session already terminal", "err", err)
	}
	if f.Registry.Remove(p.ID, sess) {
		f.Coordinator.CancelParticipant(p.ID)
	}
	f.report(ctx, r, report.Event{Kind: report.SessionFailed, Step: sess.Step(), Reason: reason, Err: cause})
	f.recordOutcome(ctx, r, "failed", reason)
	return cause
}

func (f *Flow) recordOutcome(ctx context.Context, r Run, status, reason string) {
	if f.Store == nil {
		return
	}
	info := r.Session.Snapshot()
	ended := info.EndedAt
	if ended.IsZero() {
		ended = f.Registry.Now()
	}
	err := f.Store.RecordOutcome(context.WithoutCancel(ctx), results.Outcome{
		SessionID:     info.ID,
		ParticipantID: info.ParticipantID,
		GuildID:       info.GroupID,
		Status:        status,
		Reason:        reason,
		Steps:         len(info.Records),
		AverageScore:  report.Summarize(info.Records).AverageScore,
		StartedAt:     info.StartedAt,
		EndedAt:       ended,
	})
	if err != nil {
		observe.Logger(ctx).Warn("app: failed to record outcome", "status", status, "err", err)
	}
}

// untilDone returns a context that is also cancelled when s is done, so a
// cleanup cuts the running prompt short.
func untilDone(ctx context.Context, s *verification.Session) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// play runs a prompt. Failures are logged and the flow continues.
func (f *Flow) play(ctx context.Context, r Run, path string) {
	if path == "" || r.Conn == nil || f.Player == nil {
		return
	}
	if d := r.Plan.PlaybackTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	if err := f.Player.Play(ctx, r.Conn, path); err != nil {
		observe.Logger(ctx).Warn("app: prompt playback failed, continuing", "path", path, "err", err)
	}
}

// report fills the session fields of e and delivers it. Delivery outlives
// ctx so terminal events still go out during shutdown.
func (f *Flow) report(ctx context.Context, r Run, e report.Event) {
	e.At = f.Registry.Now()
	e.SessionID = r.Session.ID
	e.ParticipantID = r.Participant.ID
	e.ParticipantName = r.Participant.Name
	e.GuildID = r.Participant.GuildID
	e.Steps = len(r.Plan.Steps)
	f.Reporter.Report(context.WithoutCancel(ctx), e)
}
