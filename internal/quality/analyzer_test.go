package quality_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/shzanya/verificationBot/internal/observe"
	"github.com/shzanya/verificationBot/internal/quality"
	"github.com/shzanya/verificationBot/internal/quality/mock"
	"github.com/shzanya/verificationBot/pkg/audio"
	"github.com/shzanya/verificationBot/pkg/audio/pcm"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// writeFile creates a file of n bytes in a temp dir and returns its path.
func writeFile(t *testing.T, name string, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, make([]byte, n), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newStrategies() (spectral, segment, probe *mock.Strategy) {
	return &mock.Strategy{}, &mock.Strategy{}, &mock.Strategy{}
}

func newAnalyzer(t *testing.T, spectral, segment, probe *mock.Strategy) *quality.Analyzer {
	t.Helper()
	m, _ := newTestMetrics(t)
	return quality.New(quality.Config{}, quality.WithMetrics(m), quality.WithStrategies(
		quality.NamedStrategy{Method: quality.MethodSpectral, Strategy: spectral},
		quality.NamedStrategy{Method: quality.MethodSegment, Strategy: segment},
		quality.NamedStrategy{Method: quality.MethodProbe, Strategy: probe},
	))
}

func TestAnalyze_FirstMethodWins(t *testing.T) {
	t.Parallel()

	spectral, segment, probe := newStrategies()
	spectral.Result = quality.AnalysisResult{Duration: 2 * time.Second, RMS: 0.05, FileSize: 4096}
	a := newAnalyzer(t, spectral, segment, probe)

	r := a.Analyze(context.Background(), writeFile(t, "a.wav", 4096), 3*time.Second)

	if r.Method != quality.MethodSpectral {
		t.Errorf("Method = %s, want spectral", r.Method)
	}
	if r.Volume != 500 {
		t.Errorf("Volume = %d, want 500", r.Volume)
	}
	if n := segment.Calls() + probe.Calls(); n != 0 {
		t.Errorf("later methods called %d times, want 0", n)
	}
}

func TestAnalyze_FallsThroughInOrder(t *testing.T) {
	t.Parallel()

	spectral, segment, probe := newStrategies()
	spectral.Err = errors.New("decoder unavailable")
	segment.Result = quality.AnalysisResult{Duration: time.Second, RMS: 0.1}
	a := newAnalyzer(t, spectral, segment, probe)

	path := writeFile(t, "a.wav", 4096)
	r := a.Analyze(context.Background(), path, 3*time.Second)

	if r.Method != quality.MethodSegment {
		t.Errorf("Method = %s, want segment", r.Method)
	}
	if segment.Calls() != 1 {
		t.Fatalf("segment calls = %d, want 1", segment.Calls())
	}
	if got := segment.Inputs[0]; got.Path != path || got.FileSize != 4096 {
		t.Errorf("segment input = %+v, want path %s size 4096", got, path)
	}
	if probe.Calls() != 0 {
		t.Errorf("probe calls = %d, want 0", probe.Calls())
	}
}

func TestAnalyze_AllMethodsFailEstimates(t *testing.T) {
	t.Parallel()

	spectral, segment, probe := newStrategies()
	for _, s := range []*mock.Strategy{spectral, segment, probe} {
		s.Err = errors.New("unreadable")
	}
	a := newAnalyzer(t, spectral, segment, probe)

	size := 44 + 192000
	r := a.Analyze(context.Background(), writeFile(t, "a.ogg", size), 5*time.Second)

	if r.Method != quality.MethodEstimate {
		t.Errorf("Method = %s, want estimate", r.Method)
	}
	if r.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", r.Duration)
	}
	if r.FileSize != int64(size) {
		t.Errorf("FileSize = %d, want %d", r.FileSize, size)
	}
	if spectral.Calls() != 1 || segment.Calls() != 1 || probe.Calls() != 1 {
		t.Errorf("calls = %d/%d/%d, want 1/1/1", spectral.Calls(), segment.Calls(), probe.Calls())
	}
}

func TestAnalyze_TooSmall(t *testing.T) {
	t.Parallel()

	spectral, segment, probe := newStrategies()
	a := newAnalyzer(t, spectral, segment, probe)

	path := filepath.Join(t.TempDir(), "empty.wav")
	if err := os.WriteFile(path, pcm.EncodeWAV(nil, audio.DiscordFormat), 0o644); err != nil {
		t.Fatal(err)
	}

	as := a.Assess(context.Background(), path, 10*time.Second)

	if as.Result.Method != quality.MethodFallback {
		t.Errorf("Method = %s, want fallback", as.Result.Method)
	}
	if !errors.Is(as.Result.Reason, quality.ErrArtifactTooSmall) {
		t.Errorf("Reason = %v, want ErrArtifactTooSmall", as.Result.Reason)
	}
	if as.Score.Value != quality.ScoreTooSmall {
		t.Errorf("Score = %d, want %d", as.Score.Value, quality.ScoreTooSmall)
	}
	if as.Result.Duration != 5*time.Second {
		t.Errorf("Duration = %v, want 5s", as.Result.Duration)
	}
	if n := spectral.Calls() + segment.Calls() + probe.Calls(); n != 0 {
		t.Errorf("strategies called %d times, want 0", n)
	}
}

func TestAnalyze_Missing(t *testing.T) {
	t.Parallel()

	spectral, segment, probe := newStrategies()
	a := newAnalyzer(t, spectral, segment, probe)

	as := a.Assess(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), time.Second)

	if !errors.Is(as.Result.Reason, quality.ErrArtifactMissing) {
		t.Errorf("Reason = %v, want ErrArtifactMissing", as.Result.Reason)
	}
	if as.Score.Value != quality.ScoreMissing {
		t.Errorf("Score = %d, want %d", as.Score.Value, quality.ScoreMissing)
	}
	if as.Result.Duration != time.Second {
		t.Errorf("Duration = %v, want the 1s minimum", as.Result.Duration)
	}
}

func TestAnalyze_PanickingMethodFallsThrough(t *testing.T) {
	t.Parallel()

	spectral, segment, probe := newStrategies()
	spectral.Panic = "corrupt header"
	segment.Result = quality.AnalysisResult{Duration: 2 * time.Second, RMS: 0.05}
	a := newAnalyzer(t, spectral, segment, probe)

	r := a.Analyze(context.Background(), writeFile(t, "a.wav", 4096), 4*time.Second)

	if r.Method != quality.MethodSegment {
		t.Errorf("Method = %s, want segment", r.Method)
	}
	if segment.Calls() != 1 {
		t.Errorf("segment calls = %d, want 1", segment.Calls())
	}
	if probe.Calls() != 0 {
		t.Errorf("probe calls = %d, want 0", probe.Calls())
	}
}

func TestAnalyze_AllMethodsPanicEstimates(t *testing.T) {
	t.Parallel()

	spectral, segment, probe := newStrategies()
	for _, s := range []*mock.Strategy{spectral, segment, probe} {
		s.Panic = "corrupt header"
	}
	a := newAnalyzer(t, spectral, segment, probe)

	as := a.Assess(context.Background(), writeFile(t, "a.wav", 4096), 4*time.Second)

	if as.Result.Method != quality.MethodEstimate {
		t.Errorf("Method = %s, want estimate", as.Result.Method)
	}
	if spectral.Calls() != 1 || segment.Calls() != 1 || probe.Calls() != 1 {
		t.Errorf("calls = %d/%d/%d, want 1/1/1", spectral.Calls(), segment.Calls(), probe.Calls())
	}
}

func TestAnalyze_CancelledContextEstimates(t *testing.T) {
	t.Parallel()

	spectral, segment, probe := newStrategies()
	a := newAnalyzer(t, spectral, segment, probe)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := a.Analyze(ctx, writeFile(t, "a.wav", 4096), 3*time.Second)

	if r.Method != quality.MethodEstimate {
		t.Errorf("Method = %s, want estimate", r.Method)
	}
	if spectral.Calls() != 0 {
		t.Errorf("spectral calls = %d, want 0", spectral.Calls())
	}
}

func TestAnalyze_RecordsAttempts(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	spectral, segment, probe := newStrategies()
	spectral.Err = errors.New("nope")
	segment.Result = quality.AnalysisResult{Duration: time.Second, RMS: 0.05}
	a := quality.New(quality.Config{}, quality.WithMetrics(m), quality.WithStrategies(
		quality.NamedStrategy{Method: quality.MethodSpectral, Strategy: spectral},
		quality.NamedStrategy{Method: quality.MethodSegment, Strategy: segment},
		quality.NamedStrategy{Method: quality.MethodProbe, Strategy: probe},
	))

	a.Assess(context.Background(), writeFile(t, "a.wav", 4096), 3*time.Second)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	var scores uint64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			switch met.Name {
			case "verifybot.analysis.attempts":
				for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
					method, _ := dp.Attributes.Value(attribute.Key("method"))
					status, _ := dp.Attributes.Value(attribute.Key("status"))
					got[method.AsString()+"/"+status.AsString()] += dp.Value
				}
			case "verifybot.quality.score":
				for _, dp := range met.Data.(metricdata.Histogram[float64]).DataPoints {
					scores += dp.Count
				}
			}
		}
	}
	if got["spectral/error"] != 1 || got["segment/ok"] != 1 || len(got) != 2 {
		t.Errorf("attempts = %v, want spectral/error=1 segment/ok=1", got)
	}
	if scores != 1 {
		t.Errorf("score observations = %d, want 1", scores)
	}
}
