package verification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/shzanya/verificationBot/internal/observe"
)

type fakeCanceller struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeCanceller) CancelParticipant(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return 1
}

func newRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return NewRegistry(append([]RegistryOption{WithMetrics(m)}, opts...)...)
}

func TestRegistry_AlreadyActiveLeavesFirstUntouched(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)
	first, err := r.Start("u1", "g1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Begin(); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Start("u1", "g1", 2); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Start err = %v, want ErrAlreadyActive", err)
	}
	got, ok := r.Get("u1")
	if !ok || got != first {
		t.Fatal("first session was replaced")
	}
	if got.Status() != StatusInProgress || got.Step() != 0 {
		t.Errorf("first session mutated: %s step %d", got.Status(), got.Step())
	}
}

func TestRegistry_TerminalSessionReplaced(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)
	first, _ := r.Start("u1", "g1", 1)
	_ = first.Begin()
	_ = first.Complete(r.Now())

	second, err := r.Start("u1", "g1", 1)
	if err != nil {
		t.Fatalf("Start after completion: %v", err)
	}
	if second == first || second.Status() != StatusPending {
		t.Error("expected a fresh pending session")
	}
}

func TestRegistry_CleanupCancelsCaptures(t *testing.T) {
	t.Parallel()

	c := &fakeCanceller{}
	r := newRegistry(t, WithCanceller(c))
	s, _ := r.Start("u1", "g1", 2)

	if !r.Cleanup("u1") {
		t.Fatal("Cleanup returned false")
	}
	if _, ok := r.Get("u1"); ok {
		t.Error("session still registered")
	}
	select {
	case <-s.Done():
	default:
		t.Error("cleaned up session's Done not closed")
	}
	if r.Cleanup("u1") {
		t.Error("second Cleanup returned true")
	}
	if len(c.calls) != 2 || c.calls[0] != "u1" {
		t.Errorf("canceller calls = %v", c.calls)
	}
}

func TestRegistry_RemoveIsCompareAndDelete(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)
	stale, _ := r.Start("u1", "g1", 1)
	r.Cleanup("u1")
	fresh, _ := r.Start("u1", "g1", 1)

	if r.Remove("u1", stale) {
		t.Error("stale Remove deleted the fresh session")
	}
	if !r.Holds(fresh) || r.Holds(stale) {
		t.Error("Holds disagrees with registry contents")
	}
	if !r.Remove("u1", fresh) {
		t.Error("Remove of current session returned false")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRegistry_ConcurrentStartSingleFlight(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Go(func() {
			if _, err := r.Start("u1", "g1", 2); err == nil {
				wins.Add(1)
			} else if !errors.Is(err, ErrAlreadyActive) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("successful starts = %d, want 1", wins.Load())
	}
}

func TestRegistry_ActiveAndCleanupAll(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := r.Start(id, "g1", 2); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(r.Active()); got != 3 {
		t.Fatalf("Active = %d, want 3", got)
	}
	if n := r.CleanupAll(); n != 3 {
		t.Errorf("CleanupAll = %d, want 3", n)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after CleanupAll", r.Len())
	}
}
