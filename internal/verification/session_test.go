package verification

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func TestSession_HappyPath(t *testing.T) {
	t.Parallel()

	s := NewSession("u1", "g1", 2, t0)
	if s.Status() != StatusPending {
		t.Fatalf("initial status = %s", s.Status())
	}
	if s.ID == "" {
		t.Error("session has no ID")
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if s.IsLastStep() {
		t.Fatal("step 0 of 2 reported as last")
	}
	if err := s.NextStep(); err != nil {
		t.Fatalf("NextStep: %v", err)
	}
	if !s.IsLastStep() || s.Step() != 1 {
		t.Fatalf("Step = %d, IsLastStep = %v", s.Step(), s.IsLastStep())
	}
	if err := s.NextStep(); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("NextStep past end err = %v, want ErrOutOfRange", err)
	}
	if err := s.Complete(t0.Add(time.Minute)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed after Complete")
	}
	info := s.Snapshot()
	if info.Status != StatusCompleted || info.Elapsed(t0.Add(time.Hour)) != time.Minute {
		t.Errorf("snapshot = %+v", info)
	}
}

func TestSession_InvalidTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		prep func(*Session)
		op   func(*Session) error
		want error
	}{
		{"next before begin", func(*Session) {}, (*Session).NextStep, ErrInvalidTransition},
		{"complete before begin", func(*Session) {}, func(s *Session) error { return s.Complete(t0) }, ErrInvalidTransition},
		{"begin twice", func(s *Session) { _ = s.Begin() }, (*Session).Begin, ErrInvalidTransition},
		{"complete before last step", func(s *Session) { _ = s.Begin() }, func(s *Session) error { return s.Complete(t0) }, ErrInvalidTransition},
		{"fail after complete", func(s *Session) {
			_ = s.Begin()
			_ = s.NextStep()
			_ = s.Complete(t0)
		}, func(s *Session) error { return s.Fail("late", t0) }, ErrInvalidTransition},
		{"complete after fail", func(s *Session) {
			_ = s.Begin()
			_ = s.Fail("role error", t0)
		}, func(s *Session) error { return s.Complete(t0) }, ErrInvalidTransition},
		{"next after fail", func(s *Session) {
			_ = s.Begin()
			_ = s.Fail("x", t0)
		}, (*Session).NextStep, ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewSession("u1", "g1", 2, t0)
			tt.prep(s)
			before := s.Snapshot()
			if err := tt.op(s); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			after := s.Snapshot()
			if before.Status != after.Status || before.Step != after.Step {
				t.Errorf("rejected op changed state: %+v -> %+v", before, after)
			}
		})
	}
}

func TestSession_FailFromPending(t *testing.T) {
	t.Parallel()

	s := NewSession("u1", "g1", 2, t0)
	if err := s.Fail("left channel", t0); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	info := s.Snapshot()
	if info.Status != StatusFailed || info.FailReason != "left channel" {
		t.Errorf("snapshot = %+v", info)
	}
}

func TestSession_NoSteps(t *testing.T) {
	t.Parallel()
	if err := NewSession("u1", "g1", 0, t0).Begin(); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Begin err = %v, want ErrOutOfRange", err)
	}
}

func TestSession_RecordsAreCopied(t *testing.T) {
	t.Parallel()

	s := NewSession("u1", "g1", 1, t0)
	s.RecordStep(StepRecord{Step: 0, Score: 80})
	info := s.Snapshot()
	info.Records[0].Score = 1
	if got := s.Snapshot().Records[0].Score; got != 80 {
		t.Errorf("snapshot aliased internal records: score = %d", got)
	}
}

func TestStatus_String(t *testing.T) {
	t.Parallel()
	for st, want := range map[Status]string{
		StatusPending:    "pending",
		StatusInProgress: "in_progress",
		StatusCompleted:  "completed",
		StatusFailed:     "failed",
		Status(9):        "status(9)",
	} {
		if got := st.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(st), got, want)
		}
	}
}
