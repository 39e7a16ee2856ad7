// Package capture runs time-boxed voice recordings.
//
// A [Coordinator] owns at most one [Task] per [Key]. Each task starts a
// [Sink], arms an auto-stop timer for the expected answer length and resolves
// exactly once, whichever of the timer, [Coordinator.Stop],
// [Coordinator.Cancel] or [Coordinator.Close] gets there first. Callers wait
// on [Task.Done] and read the [Result].
//
// [Tap] and [StreamSink] implement the sink side on top of an
// [audio.Connection]; [ArtifactWriter] persists the resulting tracks.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shzanya/verificationBot/pkg/audio"
)

// ErrCaptureRejected is returned by [Coordinator.Start] when the key already
// has a task in flight.
var ErrCaptureRejected = errors.New("capture: capture already active for key")

// Key identifies one recording: a participant answering one step.
type Key struct {
	ParticipantID string
	Step          int
}

// String returns "<participant>_<step>".
func (k Key) String() string {
	return fmt.Sprintf("%s_%d", k.ParticipantID, k.Step)
}

// Reason records what resolved a task.
type Reason string

const (
	ReasonAuto      Reason = "auto"
	ReasonManual    Reason = "manual"
	ReasonCancelled Reason = "cancelled"
)

// Recording is what a sink captured. Tracks maps participant ID to a complete
// WAV file.
type Recording struct {
	Tracks map[string][]byte
	Format audio.Format
}

// Track returns the WAV bytes for participantID.
func (r Recording) Track(participantID string) ([]byte, bool) {
	b, ok := r.Tracks[participantID]
	return b, ok
}

// Sink records audio between Start and Stop.
//
// Implementations must tolerate Stop being called without any audio having
// arrived; they return an empty recording in that case.
type Sink interface {
	Start(ctx context.Context) error
	Stop() (Recording, error)
}

// Result is the outcome of a resolved [Task].
type Result struct {
	Key       Key
	Reason    Reason
	Recording Recording

	// Err is the error returned by the sink's Stop, if any.
	Err error

	StartedAt time.Time
	StoppedAt time.Time
}

// Elapsed is how long the capture ran.
func (r Result) Elapsed() time.Duration {
	return r.StoppedAt.Sub(r.StartedAt)
}

// Cancelled reports whether the task was torn down rather than completed.
func (r Result) Cancelled() bool {
	return r.Reason == ReasonCancelled
}
