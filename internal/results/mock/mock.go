// Package mock provides an in-memory results.Store for tests.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/shzanya/verificationBot/internal/results"
)

var _ results.Store = (*Store)(nil)

// Store keeps steps and outcomes in memory. Set the Err fields to inject
// failures. It is safe for concurrent use.
type Store struct {
	StepErr    error
	OutcomeErr error
	ReadErr    error
	PingErr    error

	mu       sync.Mutex
	steps    []results.Step
	outcomes []results.Outcome
	closed   bool
}

// RecordStep implements results.Store.
func (s *Store) RecordStep(_ context.Context, st results.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StepErr != nil {
		return s.StepErr
	}
	s.steps = append(s.steps, st)
	return nil
}

// RecordOutcome implements results.Store.
func (s *Store) RecordOutcome(_ context.Context, o results.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OutcomeErr != nil {
		return s.OutcomeErr
	}
	s.outcomes = append(s.outcomes, o)
	return nil
}

// History implements results.Store.
func (s *Store) History(_ context.Context, participantID string, limit int) ([]results.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	var out []results.Outcome
	for _, o := range slices.Backward(s.outcomes) {
		if o.ParticipantID == participantID {
			out = append(out, o)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SessionSteps implements results.Store.
func (s *Store) SessionSteps(_ context.Context, sessionID string) ([]results.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	var out []results.Step
	for _, st := range s.steps {
		if st.SessionID == sessionID {
			out = append(out, st)
		}
	}
	return out, nil
}

// Ping implements results.Store.
func (s *Store) Ping(context.Context) error { return s.PingErr }

// Close implements results.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Steps returns every recorded step.
func (s *Store) Steps() []results.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.steps)
}

// Outcomes returns every recorded outcome.
func (s *Store) Outcomes() []results.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.outcomes)
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
