package quality

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/wav"
	"github.com/shzanya/verificationBot/pkg/audio"
	"github.com/shzanya/verificationBot/pkg/audio/ffmpeg"
	"github.com/shzanya/verificationBot/pkg/audio/pcm"
)

// Input is what a [Strategy] gets to look at.
type Input struct {
	Path     string
	FileSize int64
}

// Strategy is one way of measuring a recording. Implementations return an
// error wrapping [ErrMethodFailed] rather than a partial result.
type Strategy interface {
	Measure(ctx context.Context, in Input) (AnalysisResult, error)
}

// StrategyFunc adapts a function to [Strategy].
type StrategyFunc func(ctx context.Context, in Input) (AnalysisResult, error)

// Measure implements [Strategy].
func (f StrategyFunc) Measure(ctx context.Context, in Input) (AnalysisResult, error) {
	return f(ctx, in)
}

// Toolchain is the subset of [ffmpeg.Tool] the strategies use.
type Toolchain interface {
	Decode(ctx context.Context, path string, f audio.Format) ([]byte, error)
	Transcode(ctx context.Context, in, out string, f audio.Format) error
	Probe(ctx context.Context, path string) (ffmpeg.Info, error)
}

var _ Toolchain = ffmpeg.Tool{}

func methodFailed(m Method, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMethodFailed, m, fmt.Sprintf(format, args...))
}

// Spectral analysis parameters: the signal is resampled to 44.1 kHz mono and
// measured with 2048-sample frames every 512 samples.
var spectralFormat = audio.Format{SampleRate: 44100, Channels: 1}

const (
	spectralFrame = 2048
	spectralHop   = 512
)

// Spectral transcodes the whole file to canonical PCM and averages the
// short-time RMS over the signal. It is the most accurate method.
type Spectral struct {
	Tools Toolchain
}

// Measure implements [Strategy].
func (s Spectral) Measure(ctx context.Context, in Input) (AnalysisResult, error) {
	raw, err := s.Tools.Decode(ctx, in.Path, spectralFormat)
	if err != nil {
		return AnalysisResult{}, methodFailed(MethodSpectral, "%v", err)
	}
	samples := pcm.Samples(raw)
	if len(samples) == 0 {
		return AnalysisResult{}, methodFailed(MethodSpectral, "no samples decoded")
	}

	r := defaultResult()
	r.Method = MethodSpectral
	r.FileSize = in.FileSize
	r.SampleRate = spectralFormat.SampleRate
	r.Channels = spectralFormat.Channels
	r.Duration = seconds(float64(len(samples)) / float64(spectralFormat.SampleRate))
	r.RMS = pcm.Mean(pcm.FrameRMS(samples, spectralFrame, spectralHop))
	return r, nil
}

// Segment decodes the WAV container natively and takes the RMS of the raw
// samples. Non-WAV input is transcoded to a temporary WAV first.
type Segment struct {
	Tools Toolchain

	// TempDir holds transcoded copies. Default: os.TempDir().
	TempDir string
}

// Measure implements [Strategy].
func (s Segment) Measure(ctx context.Context, in Input) (AnalysisResult, error) {
	r, err := decodeWAV(in.Path)
	if err == nil {
		r.FileSize = in.FileSize
		return r, nil
	}
	if s.Tools == nil {
		return AnalysisResult{}, methodFailed(MethodSegment, "%v", err)
	}

	tmp, err := os.CreateTemp(s.TempDir, "segment-*.wav")
	if err != nil {
		return AnalysisResult{}, methodFailed(MethodSegment, "create temp file: %v", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	if err := s.Tools.Transcode(ctx, in.Path, tmpPath, audio.DiscordFormat); err != nil {
		return AnalysisResult{}, methodFailed(MethodSegment, "%v", err)
	}
	r, err = decodeWAV(tmpPath)
	if err != nil {
		return AnalysisResult{}, methodFailed(MethodSegment, "after transcode of %s: %v", filepath.Base(in.Path), err)
	}
	r.FileSize = in.FileSize
	return r, nil
}

func decodeWAV(path string) (AnalysisResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return AnalysisResult{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return AnalysisResult{}, fmt.Errorf("%s is not a valid wav file", filepath.Base(path))
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("decode wav: %w", err)
	}
	channels := int(dec.NumChans)
	rate := int(dec.SampleRate)
	if channels <= 0 || rate <= 0 {
		return AnalysisResult{}, fmt.Errorf("wav header: %d channels at %d Hz", channels, rate)
	}

	r := defaultResult()
	r.Method = MethodSegment
	r.SampleRate = rate
	r.Channels = channels
	r.SampleWidth = int(dec.BitDepth) / 8
	frames := len(buf.Data) / channels
	r.Duration = seconds(float64(frames) / float64(rate))
	r.RMS = pcm.IntRMS(buf.Data, int(dec.BitDepth))
	return r, nil
}

// Probe reads duration and sample rate from container metadata and guesses
// the RMS from the byte rate.
type Probe struct {
	Tools Toolchain
}

const (
	probeRMSDivisor = 100000
	probeRMSMin     = 0.001
	probeRMSMax     = 0.1
)

// Measure implements [Strategy].
func (p Probe) Measure(ctx context.Context, in Input) (AnalysisResult, error) {
	info, err := p.Tools.Probe(ctx, in.Path)
	if err != nil {
		return AnalysisResult{}, methodFailed(MethodProbe, "%v", err)
	}

	r := defaultResult()
	r.Method = MethodProbe
	r.FileSize = in.FileSize
	r.Duration = seconds(info.Duration)
	if info.SampleRate > 0 {
		r.SampleRate = info.SampleRate
	}
	if info.Channels > 0 {
		r.Channels = info.Channels
	}
	r.RMS = probeRMSMin
	if info.Duration > 0 {
		r.RMS = math.Min(probeRMSMax, math.Max(probeRMSMin, float64(in.FileSize)/(info.Duration*probeRMSDivisor)))
	}
	return r, nil
}
