package capture

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/shzanya/verificationBot/internal/observe"
)

// Task is one in-flight recording. It resolves exactly once.
type Task struct {
	key       Key
	expected  time.Duration
	startedAt time.Time
	sink      Sink

	mu       sync.Mutex
	timer    *time.Timer
	started  bool
	resolved bool

	once   sync.Once
	done   chan struct{}
	result Result
}

// Key returns the task's key.
func (t *Task) Key() Key { return t.key }

// Expected returns the auto-stop delay.
func (t *Task) Expected() time.Duration { return t.expected }

// StartedAt returns when the task was registered.
func (t *Task) StartedAt() time.Time { return t.startedAt }

// Done is closed once the task has resolved.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns the outcome. ok is false while the task is still running.
func (t *Task) Result() (res Result, ok bool) {
	select {
	case <-t.done:
		return t.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the task resolves or ctx is done.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// arm marks the sink as running and schedules fn after the expected
// duration. It returns false if the task was resolved while the sink was
// starting, in which case the caller owns stopping the sink.
func (t *Task) arm(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolved {
		return false
	}
	t.started = true
	t.timer = time.AfterFunc(t.expected, fn)
	return true
}

// settle disarms the timer and reports whether the sink needs stopping.
func (t *Task) settle() (started bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolved = true
	if t.timer != nil {
		t.timer.Stop()
	}
	return t.started
}

// Status is a point-in-time view of a task for status reports.
type Status struct {
	Key       Key
	Expected  time.Duration
	Elapsed   time.Duration
	Remaining time.Duration

	// State is "active" until the expected duration has passed, then
	// "finishing".
	State string
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithCompletionHook registers fn to run for every resolved task, inside the
// same once that resolves it and before [Task.Done] is closed.
func WithCompletionHook(fn func(Result)) Option {
	return func(c *Coordinator) { c.hook = fn }
}

// WithMetrics records capture metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock overrides time.Now for elapsed/remaining calculations.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator owns the set of in-flight captures. It is safe for concurrent
// use.
type Coordinator struct {
	mu    sync.Mutex
	tasks map[Key]*Task

	hook    func(Result)
	metrics *observe.Metrics
	now     func() time.Time
}

// NewCoordinator returns an empty coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		tasks: make(map[Key]*Task),
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Start registers a task for key, starts sink and arms the auto-stop timer.
// It returns [ErrCaptureRejected] if key already has a task. If the sink
// fails to start the task is dropped and the error returned.
func (c *Coordinator) Start(ctx context.Context, key Key, expected time.Duration, sink Sink) (*Task, error) {
	t := &Task{
		key:       key,
		expected:  expected,
		startedAt: c.now(),
		sink:      sink,
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	if _, exists := c.tasks[key]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrCaptureRejected, key)
	}
	c.tasks[key] = t
	c.mu.Unlock()
	c.metrics.CapturesActive.Add(ctx, 1)

	if err := sink.Start(ctx); err != nil {
		c.mu.Lock()
		owned := c.tasks[key] == t
		if owned {
			delete(c.tasks, key)
		}
		c.mu.Unlock()
		if owned {
			c.metrics.CapturesActive.Add(ctx, -1)
		}
		return nil, fmt.Errorf("capture: start sink for %s: %w", key, err)
	}

	if !t.arm(func() { c.resolve(t, ReasonAuto) }) {
		// Cancelled while the sink was starting.
		_, _ = sink.Stop()
		return t, nil
	}
	slog.Info("capture: recording started", "key", key.String(), "expected", expected)
	return t, nil
}

// Stop ends the capture for key early. It returns false if there is no such
// task or it has already resolved.
func (c *Coordinator) Stop(key Key) bool {
	t := c.lookup(key)
	if t == nil {
		return false
	}
	return c.resolve(t, ReasonManual)
}

// Cancel tears down the capture for key. The task resolves with
// [ReasonCancelled].
func (c *Coordinator) Cancel(key Key) bool {
	t := c.lookup(key)
	if t == nil {
		return false
	}
	return c.resolve(t, ReasonCancelled)
}

// CancelParticipant cancels every capture belonging to participantID and
// returns how many it resolved.
func (c *Coordinator) CancelParticipant(participantID string) int {
	c.mu.Lock()
	var victims []*Task
	for k, t := range c.tasks {
		if k.ParticipantID == participantID {
			victims = append(victims, t)
		}
	}
	c.mu.Unlock()

	n := 0
	for _, t := range victims {
		if c.resolve(t, ReasonCancelled) {
			n++
		}
	}
	return n
}

// Close cancels every capture.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	victims := make([]*Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		victims = append(victims, t)
	}
	c.mu.Unlock()

	for _, t := range victims {
		c.resolve(t, ReasonCancelled)
	}
	return nil
}

// ActiveCount returns the number of unresolved captures.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// StatusOf returns the status of the capture for key.
func (c *Coordinator) StatusOf(key Key) (Status, bool) {
	t := c.lookup(key)
	if t == nil {
		return Status{}, false
	}
	return c.statusOf(t, c.now()), true
}

// Snapshot returns the status of every capture, ordered by key.
func (c *Coordinator) Snapshot() []Status {
	c.mu.Lock()
	tasks := make([]*Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		tasks = append(tasks, t)
	}
	c.mu.Unlock()

	now := c.now()
	out := make([]Status, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, c.statusOf(t, now))
	}
	slices.SortFunc(out, func(a, b Status) int {
		return strings.Compare(a.Key.String(), b.Key.String())
	})
	return out
}

func (c *Coordinator) statusOf(t *Task, now time.Time) Status {
	elapsed := now.Sub(t.startedAt)
	s := Status{
		Key:       t.key,
		Expected:  t.expected,
		Elapsed:   elapsed,
		Remaining: max(0, t.expected-elapsed),
		State:     "active",
	}
	if s.Remaining == 0 {
		s.State = "finishing"
	}
	return s
}

func (c *Coordinator) lookup(key Key) *Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tasks[key]
}

// resolve finishes t for reason. Only the first caller does any work; it
// reports whether this call was that caller.
func (c *Coordinator) resolve(t *Task, reason Reason) bool {
	won := false
	t.once.Do(func() {
		won = true

		c.mu.Lock()
		if c.tasks[t.key] == t {
			delete(c.tasks, t.key)
		}
		c.mu.Unlock()

		var (
			rec Recording
			err error
		)
		if t.settle() {
			rec, err = t.sink.Stop()
		}
		t.result = Result{
			Key:       t.key,
			Reason:    reason,
			Recording: rec,
			Err:       err,
			StartedAt: t.startedAt,
			StoppedAt: c.now(),
		}

		ctx := context.Background()
		c.metrics.CapturesActive.Add(ctx, -1)
		c.metrics.CapturesCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))

		log := slog.With("key", t.key.String(), "reason", reason, "elapsed", t.result.Elapsed().Round(time.Millisecond))
		if err != nil {
			log.Warn("capture: sink stop failed", "err", err)
		} else {
			log.Info("capture: recording finished", "tracks", len(rec.Tracks))
		}

		if c.hook != nil {
			c.hook(t.result)
		}
		close(t.done)
	})
	return won
}
