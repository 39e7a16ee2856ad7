package verification

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shzanya/verificationBot/internal/observe"
)

// Canceller stops in-flight work for a participant when their session is
// cleaned up. [capture.Coordinator] satisfies it.
type Canceller interface {
	CancelParticipant(participantID string) int
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithCanceller sets what [Registry.Cleanup] calls to cancel captures.
func WithCanceller(c Canceller) RegistryOption {
	return func(r *Registry) { r.canceller = c }
}

// WithMetrics records session metrics on m.
func WithMetrics(m *observe.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// Registry maps participants to their live session. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	canceller Canceller
	metrics   *observe.Metrics
	now       func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Now returns the registry's clock reading.
func (r *Registry) Now() time.Time {
	return r.now()
}

// Start creates a pending session for participantID. It returns
// [ErrAlreadyActive], leaving the existing session untouched, if a
// non-terminal one exists. A terminal session still in the map is replaced.
func (r *Registry) Start(participantID, groupID string, steps int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[participantID]; ok {
		st := old.Status()
		if !st.Terminal() {
			return nil, fmt.Errorf("%w: participant %s is %s", ErrAlreadyActive, participantID, st)
		}
		r.retire(old)
	}

	s := NewSession(participantID, groupID, steps, r.now())
	r.sessions[participantID] = s
	r.metrics.SessionsActive.Add(context.Background(), 1)
	slog.Info("verification: session created", "session_id", s.ID, "participant_id", participantID, "guild_id", groupID, "steps", steps)
	return s, nil
}

// Get returns the session for participantID.
func (r *Registry) Get(participantID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[participantID]
	return s, ok
}

// Cleanup removes the participant's session whatever its state and cancels
// their in-flight captures. It reports whether a session was removed.
func (r *Registry) Cleanup(participantID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[participantID]
	if ok {
		delete(r.sessions, participantID)
		r.retire(s)
	}
	r.mu.Unlock()

	if r.canceller != nil {
		if n := r.canceller.CancelParticipant(participantID); n > 0 {
			slog.Info("verification: cancelled in-flight captures", "participant_id", participantID, "count", n)
		}
	}
	if ok {
		slog.Info("verification: session cleaned up", "session_id", s.ID, "participant_id", participantID, "status", s.Status())
	}
	return ok
}

// Remove deletes s only if it is still the participant's registered session.
func (r *Registry) Remove(participantID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[participantID]; !ok || cur != s {
		return false
	}
	delete(r.sessions, participantID)
	r.retire(s)
	return true
}

// Holds reports whether s is the participant's registered session.
func (r *Registry) Holds(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[s.ParticipantID] == s
}

// CleanupAll removes every session and returns how many there were.
func (r *Registry) CleanupAll() int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	n := 0
	for _, id := range ids {
		if r.Cleanup(id) {
			n++
		}
	}
	return n
}

// Active returns the registered sessions ordered by start time.
func (r *Registry) Active() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b *Session) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// retire accounts for a session leaving the registry. Sessions removed
// before reaching a terminal state count as cancelled. Called with r.mu held.
func (r *Registry) retire(s *Session) {
	outcome := "cancelled"
	if st := s.Status(); st.Terminal() {
		outcome = st.String()
	}
	s.closeDone()
	r.metrics.RecordSessionOutcome(context.Background(), outcome)
}
