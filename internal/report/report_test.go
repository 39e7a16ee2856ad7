package report

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shzanya/verificationBot/internal/quality"
	"github.com/shzanya/verificationBot/internal/verification"
)

func TestProgressBar(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name               string
		done, total, width int
		want               string
	}{
		{"empty", 0, 2, 6, "▱▱▱▱▱▱"},
		{"half", 1, 2, 6, "▰▰▰▱▱▱"},
		{"full", 2, 2, 6, "▰▰▰▰▰▰"},
		{"over", 5, 2, 4, "▰▰▰▰"},
		{"negative", -1, 2, 4, "▱▱▱▱"},
		{"no total", 1, 0, 3, "▱▱▱"},
		{"no width", 1, 2, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ProgressBar(tt.done, tt.total, tt.width); got != tt.want {
				t.Errorf("ProgressBar(%d, %d, %d) = %q, want %q", tt.done, tt.total, tt.width, got, tt.want)
			}
		})
	}
}

func TestScoreBar(t *testing.T) {
	t.Parallel()
	if got, want := ScoreBar(73), "▰▰▰▰▰▰▰▱▱▱"; got != want {
		t.Errorf("ScoreBar(73) = %q, want %q", got, want)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	if got := Summarize(nil); got != (Summary{}) {
		t.Errorf("Summarize(nil) = %+v, want zero", got)
	}

	got := Summarize([]verification.StepRecord{
		{Score: 90, Tier: "green", Duration: 2 * time.Second},
		{Score: 55, Tier: "yellow", Duration: 5 * time.Second},
	})
	want := Summary{Steps: 2, AverageScore: 73, Total: 7 * time.Second, Worst: quality.TierYellow}
	if got != want {
		t.Errorf("Summarize = %+v, want %+v", got, want)
	}
}

func TestMulti_DeliversInOrder(t *testing.T) {
	t.Parallel()

	var got []string
	rec := func(name string) Reporter {
		return ReporterFunc(func(_ context.Context, e Event) {
			got = append(got, name+":"+e.Kind.String())
		})
	}
	m := Multi{rec("a"), nil, rec("b")}
	m.Report(context.Background(), Event{Kind: StepStarted})

	want := []string{"a:step_started", "b:step_started"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("deliveries = %v, want %v", got, want)
	}
}

func TestLogReporter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event Event
		want  []string
	}{
		{
			name: "scored",
			event: Event{
				Kind: StepScored, ParticipantID: "42", Step: 0, Steps: 2,
				Assessment: &quality.Assessment{
					Result: quality.AnalysisResult{Method: quality.MethodSegment, Duration: 2800 * time.Millisecond, RMS: 0.05},
					Score:  quality.Score{Value: 100, Tier: quality.TierGreen},
				},
			},
			want: []string{"level=INFO", "event=step_scored", "participant_id=42", "step=1", "steps=2", "score=100", "tier=green", "method=segment"},
		},
		{
			name:  "failed",
			event: Event{Kind: SessionFailed, ParticipantID: "42", Reason: "role assignment", Err: errors.New("forbidden")},
			want:  []string{"level=WARN", "event=session_failed", `reason="role assignment"`, "err=forbidden"},
		},
		{
			name:  "manual action",
			event: Event{Kind: ManualActionRequired, Reason: "kick"},
			want:  []string{"level=WARN", "event=manual_action_required", "reason=kick"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			r := LogReporter{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
			r.Report(context.Background(), tt.event)

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()
	if got := Kind(99).String(); got != "kind(99)" {
		t.Errorf("Kind(99).String() = %q", got)
	}
}
