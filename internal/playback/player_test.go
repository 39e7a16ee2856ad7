package playback

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
	qmock "github.com/shzanya/verificationBot/internal/quality/mock"
	"github.com/shzanya/verificationBot/pkg/audio"
	audiomock "github.com/shzanya/verificationBot/pkg/audio/mock"
)

func promptFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompt.mp3")
	if err := os.WriteFile(path, []byte("not really mp3"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

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

func playbackErrors(t *testing.T, reader *sdkmetric.ManualReader, stage string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "verifybot.playback.errors" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("stage")); ok && v.AsString() == stage {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestPlay_FramesPromptAndDrains(t *testing.T) {
	t.Parallel()

	// 50 ms of audio: two full frames and a partial one.
	pcm := make([]byte, 3840*2+1000)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	dec := &qmock.Toolchain{DecodeResult: pcm}
	out := make(chan audio.AudioFrame, 8)
	conn := &audiomock.Connection{OutputStreamResult: out}
	p := New(dec)

	start := time.Now()
	if err := p.Play(context.Background(), conn, promptFile(t)); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Play returned after %v, want it to wait for the audio to play out", elapsed)
	}

	close(out)
	var frames []audio.AudioFrame
	for f := range out {
		frames = append(frames, f)
	}
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(frames))
	}
	for i, f := range frames {
		if len(f.Data) != 3840 {
			t.Errorf("frame %d: %d bytes, want 3840", i, len(f.Data))
		}
		if !audio.DiscordFormat.Matches(f) {
			t.Errorf("frame %d: format %d/%d", i, f.SampleRate, f.Channels)
		}
		if f.Timestamp != time.Duration(i)*FrameDuration {
			t.Errorf("frame %d: timestamp %v", i, f.Timestamp)
		}
	}
	if frames[2].Data[999] != pcm[3840*2+999] || frames[2].Data[1000] != 0 {
		t.Error("last frame should carry the tail and be zero-padded")
	}
	if got := dec.DecodeFormats[0]; got != audio.DiscordFormat {
		t.Errorf("decode format = %+v, want DiscordFormat", got)
	}
}

func TestPlay_CachesDecodedPrompt(t *testing.T) {
	t.Parallel()

	dec := &qmock.Toolchain{DecodeResult: make([]byte, 3840)}
	conn := &audiomock.Connection{}
	p := New(dec, WithoutDrain())
	path := promptFile(t)

	for range 3 {
		if err := p.Play(context.Background(), conn, path); err != nil {
			t.Fatalf("Play: %v", err)
		}
	}
	if d, _, _ := dec.Calls(); d != 1 {
		t.Errorf("decode calls = %d, want 1", d)
	}

	// Touching the file invalidates the cache.
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	if err := p.Play(context.Background(), conn, path); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if d, _, _ := dec.Calls(); d != 2 {
		t.Errorf("decode calls after touch = %d, want 2", d)
	}
}

func TestPlay_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("ffmpeg exploded")

	tests := []struct {
		name    string
		dec     *qmock.Toolchain
		path    func(t *testing.T) string
		wantErr error
		stage   string
	}{
		{
			name:  "missing file",
			dec:   &qmock.Toolchain{},
			path:  func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.mp3") },
			stage: "decode",
		},
		{
			name:    "decode failure",
			dec:     &qmock.Toolchain{DecodeErr: boom},
			path:    promptFile,
			wantErr: boom,
			stage:   "decode",
		},
		{
			name:    "empty audio",
			dec:     &qmock.Toolchain{},
			path:    promptFile,
			wantErr: ErrNoAudio,
			stage:   "decode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, reader := newTestMetrics(t)
			p := New(tt.dec, WithMetrics(m))

			err := p.Play(context.Background(), &audiomock.Connection{}, tt.path(t))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if got := playbackErrors(t, reader, tt.stage); got != 1 {
				t.Errorf("playback errors[%s] = %d, want 1", tt.stage, got)
			}
		})
	}
}

func TestPlay_TimeoutWhileStreaming(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	dec := &qmock.Toolchain{DecodeResult: make([]byte, 3840*10)}
	// Unbuffered and never read: the first write blocks.
	conn := &audiomock.Connection{OutputStreamResult: make(chan audio.AudioFrame)}
	p := New(dec, WithTimeout(30*time.Millisecond), WithMetrics(m))

	err := p.Play(context.Background(), conn, promptFile(t))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if got := playbackErrors(t, reader, "stream"); got != 1 {
		t.Errorf("playback errors[stream] = %d, want 1", got)
	}
}

func TestPlay_EmptyPathIsNoop(t *testing.T) {
	t.Parallel()

	dec := &qmock.Toolchain{}
	if err := New(dec).Play(context.Background(), &audiomock.Connection{}, ""); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if d, _, _ := dec.Calls(); d != 0 {
		t.Errorf("decode calls = %d, want 0", d)
	}
}
