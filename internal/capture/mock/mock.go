// Package mock provides a test double for [capture.Sink].
package mock

import (
	"context"
	"sync"

	"github.com/shzanya/verificationBot/internal/capture"
)

var _ capture.Sink = (*Sink)(nil)

// Sink is a mock [capture.Sink].
type Sink struct {
	mu sync.Mutex

	// StartErr is returned by Start.
	StartErr error

	// Recording and StopErr are returned by Stop.
	Recording capture.Recording
	StopErr   error

	// StopDelay, when non-nil, is waited on inside Stop. Tests use it to hold
	// a resolution open while racing another trigger.
	StopDelay chan struct{}

	StartCalls int
	StopCalls  int
}

// Start implements [capture.Sink].
func (s *Sink) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	return s.StartErr
}

// Stop implements [capture.Sink].
func (s *Sink) Stop() (capture.Recording, error) {
	s.mu.Lock()
	s.StopCalls++
	delay := s.StopDelay
	rec, err := s.Recording, s.StopErr
	s.mu.Unlock()
	if delay != nil {
		<-delay
	}
	return rec, err
}

// Calls returns the Start and Stop call counts.
func (s *Sink) Calls() (start, stop int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StartCalls, s.StopCalls
}
