// Package verification holds the per-participant verification state machine
// and the registry that keeps at most one live session per participant.
package verification

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyActive is returned by [Registry.Start] when the participant
	// already has a pending or in-progress session.
	ErrAlreadyActive = errors.New("verification: session already active")

	// ErrOutOfRange is returned by [Session.NextStep] on the last step.
	ErrOutOfRange = errors.New("verification: no further steps")

	// ErrInvalidTransition is returned when an operation is not allowed in
	// the session's current status.
	ErrInvalidTransition = errors.New("verification: invalid state transition")
)

// Status is the lifecycle state of a [Session].
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusCompleted
	StatusFailed
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepRecord summarises one answered step.
type StepRecord struct {
	Step     int
	Prompt   string
	Score    int
	Tier     string
	Method   string
	Duration time.Duration
	At       time.Time
}

// Session tracks one participant's progress through the verification steps.
// All methods are safe for concurrent use.
type Session struct {
	ID            string
	ParticipantID string
	GroupID       string
	StartedAt     time.Time

	steps int

	mu         sync.RWMutex
	stepIndex  int
	status     Status
	failReason string
	endedAt    time.Time
	records    []StepRecord

	done     chan struct{}
	doneOnce sync.Once
}

// NewSession returns a pending session with the given number of steps.
func NewSession(participantID, groupID string, steps int, now time.Time) *Session {
	return &Session{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		GroupID:       groupID,
		StartedAt:     now,
		steps:         steps,
		status:        StatusPending,
		done:          make(chan struct{}),
	}
}

// Begin moves a pending session to in progress.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPending {
		return fmt.Errorf("%w: begin from %s", ErrInvalidTransition, s.status)
	}
	if s.steps <= 0 {
		return fmt.Errorf("%w: session has no steps", ErrOutOfRange)
	}
	s.status = StatusInProgress
	return nil
}

// NextStep advances to the following step.
func (s *Session) NextStep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInProgress {
		return fmt.Errorf("%w: next step from %s", ErrInvalidTransition, s.status)
	}
	if s.stepIndex+1 >= s.steps {
		return fmt.Errorf("%w: step %d of %d", ErrOutOfRange, s.stepIndex+1, s.steps)
	}
	s.stepIndex++
	return nil
}

// Complete finishes the session. It is only valid on the last step.
func (s *Session) Complete(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInProgress {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, s.status)
	}
	if s.stepIndex != s.steps-1 {
		return fmt.Errorf("%w: complete on step %d of %d", ErrInvalidTransition, s.stepIndex+1, s.steps)
	}
	s.status = StatusCompleted
	s.endedAt = now
	s.closeDone()
	return nil
}

// Fail ends a non-terminal session with reason.
func (s *Session) Fail(reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, s.status)
	}
	s.status = StatusFailed
	s.failReason = reason
	s.endedAt = now
	s.closeDone()
	return nil
}

// RecordStep appends the summary of an answered step.
func (s *Session) RecordStep(r StepRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

// Done is closed when the session reaches a terminal state or is removed
// from its registry.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Step returns the zero-based index of the current step.
func (s *Session) Step() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stepIndex
}

// Steps returns the total number of steps.
func (s *Session) Steps() int {
	return s.steps
}

// IsLastStep reports whether the current step is the final one.
func (s *Session) IsLastStep() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stepIndex == s.steps-1
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Info is an immutable copy of a session's state.
type Info struct {
	ID            string
	ParticipantID string
	GroupID       string
	Status        Status
	Step          int
	Steps         int
	StartedAt     time.Time
	EndedAt       time.Time
	FailReason    string
	Records       []StepRecord
}

// Elapsed returns how long the session ran, or has run so far.
func (i Info) Elapsed(now time.Time) time.Duration {
	if !i.EndedAt.IsZero() {
		return i.EndedAt.Sub(i.StartedAt)
	}
	return now.Sub(i.StartedAt)
}

// Snapshot returns a copy of the session's state.
func (s *Session) Snapshot() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:            s.ID,
		ParticipantID: s.ParticipantID,
		GroupID:       s.GroupID,
		Status:        s.status,
		Step:          s.stepIndex,
		Steps:         s.steps,
		StartedAt:     s.StartedAt,
		EndedAt:       s.endedAt,
		FailReason:    s.failReason,
		Records:       append([]StepRecord(nil), s.records...),
	}
}
