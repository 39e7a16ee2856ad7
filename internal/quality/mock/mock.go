// Package mock provides test doubles for the quality package's [quality.Strategy]
// and [quality.Toolchain] interfaces.
package mock

import (
	"context"
	"os"
	"sync"

	"github.com/shzanya/verificationBot/internal/quality"
	"github.com/shzanya/verificationBot/pkg/audio"
	"github.com/shzanya/verificationBot/pkg/audio/ffmpeg"
)

var (
	_ quality.Strategy  = (*Strategy)(nil)
	_ quality.Toolchain = (*Toolchain)(nil)
)

// Strategy is a mock [quality.Strategy].
type Strategy struct {
	mu sync.Mutex

	// Result and Err are returned by Measure.
	Result quality.AnalysisResult
	Err    error

	// Panic, when non-nil, is raised by Measure.
	Panic any

	// Inputs records every Measure call.
	Inputs []quality.Input
}

// Measure implements [quality.Strategy].
func (s *Strategy) Measure(_ context.Context, in quality.Input) (quality.AnalysisResult, error) {
	s.mu.Lock()
	s.Inputs = append(s.Inputs, in)
	p, r, err := s.Panic, s.Result, s.Err
	s.mu.Unlock()
	if p != nil {
		panic(p)
	}
	return r, err
}

// Calls returns how many times Measure was called.
func (s *Strategy) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Inputs)
}

// Toolchain is a mock [quality.Toolchain].
type Toolchain struct {
	mu sync.Mutex

	DecodeResult []byte
	DecodeErr    error

	// TranscodeSource, when set, is copied to the output path by Transcode.
	TranscodeSource string
	TranscodeErr    error

	ProbeResult ffmpeg.Info
	ProbeErr    error

	DecodeCalls    int
	TranscodeCalls int
	ProbeCalls     int

	// DecodeFormats records the format requested by each Decode call.
	DecodeFormats []audio.Format
}

// Decode implements [quality.Toolchain].
func (t *Toolchain) Decode(_ context.Context, _ string, f audio.Format) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.DecodeCalls++
	t.DecodeFormats = append(t.DecodeFormats, f)
	return t.DecodeResult, t.DecodeErr
}

// Transcode implements [quality.Toolchain].
func (t *Toolchain) Transcode(_ context.Context, _, out string, _ audio.Format) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscodeCalls++
	if t.TranscodeErr != nil {
		return t.TranscodeErr
	}
	if t.TranscodeSource != "" {
		data, err := os.ReadFile(t.TranscodeSource)
		if err != nil {
			return err
		}
		return os.WriteFile(out, data, 0o644)
	}
	return nil
}

// Probe implements [quality.Toolchain].
func (t *Toolchain) Probe(context.Context, string) (ffmpeg.Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ProbeCalls++
	return t.ProbeResult, t.ProbeErr
}

// Calls returns the decode, transcode and probe call counts.
func (t *Toolchain) Calls() (decode, transcode, probe int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.DecodeCalls, t.TranscodeCalls, t.ProbeCalls
}
