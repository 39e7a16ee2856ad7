// Package quality measures recorded answers and turns the measurement into an
// advisory 0–100 score.
//
// [Analyzer.Analyze] runs an ordered cascade of measurement strategies, from a
// full spectral decode down to a metadata probe, and falls back to a
// size-based estimate when all of them fail. It never returns an error: every
// failure path produces a usable, if approximate, [AnalysisResult].
// [Analyzer.Score] applies the adaptive short/long answer formula.
package quality

import (
	"errors"
	"time"
)

var (
	// ErrArtifactMissing marks a fallback result for a recording that does
	// not exist on disk.
	ErrArtifactMissing = errors.New("quality: artifact missing")

	// ErrArtifactTooSmall marks a fallback result for a recording below the
	// minimum viable size. No decode is attempted for such files.
	ErrArtifactTooSmall = errors.New("quality: artifact too small")

	// ErrMethodFailed wraps the failure of a single measurement strategy.
	// It never escapes the analyzer; the cascade moves on to the next one.
	ErrMethodFailed = errors.New("quality: analysis method failed")
)

// Method identifies how an [AnalysisResult] was obtained.
type Method string

const (
	MethodSpectral  Method = "spectral"
	MethodSegment   Method = "segment"
	MethodProbe     Method = "probe"
	MethodEstimate  Method = "estimate"
	MethodFallback  Method = "fallback"
	MethodEmergency Method = "emergency_fallback"
)

// Measured reports whether m came from an actual decode or probe of the file.
func (m Method) Measured() bool {
	switch m {
	case MethodSpectral, MethodSegment, MethodProbe:
		return true
	}
	return false
}

// Default stream parameters assumed when nothing better is known. They match
// the recording format produced by the Discord capture sink.
const (
	DefaultSampleRate  = 48000
	DefaultChannels    = 2
	DefaultSampleWidth = 2

	// wavHeaderBytes is subtracted from the file size by the estimator.
	wavHeaderBytes = 44
)

// Fixed scores for results that bypass the formula.
const (
	ScoreMissing   = 5
	ScoreTooSmall  = 10
	ScoreFloor     = 15
	ScoreEmergency = 25
	ScoreMax       = 100
)

// AnalysisResult is the measurement of one recording.
type AnalysisResult struct {
	Duration    time.Duration
	SampleRate  int
	Channels    int
	SampleWidth int

	// RMS is the mean root-mean-square amplitude normalised to [0, 1].
	RMS float64

	// Volume is an integral loudness proxy: RMS × 10000 for measured
	// results, a table estimate otherwise.
	Volume int

	FileSize int64
	Method   Method

	// Reason is set for fallback results and wraps [ErrArtifactMissing] or
	// [ErrArtifactTooSmall].
	Reason error
}

// FileSizeKB returns the file size in KiB.
func (r AnalysisResult) FileSizeKB() float64 {
	return float64(r.FileSize) / 1024
}

// defaultResult is the starting point for every analysis.
func defaultResult() AnalysisResult {
	return AnalysisResult{
		SampleRate:  DefaultSampleRate,
		Channels:    DefaultChannels,
		SampleWidth: DefaultSampleWidth,
		Method:      MethodFallback,
	}
}

// Tier is the coarse presentation bucket of a score.
type Tier int

const (
	TierRed Tier = iota
	TierOrange
	TierYellow
	TierGreen
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierGreen:
		return "green"
	case TierYellow:
		return "yellow"
	case TierOrange:
		return "orange"
	default:
		return "red"
	}
}

// Emoji returns the circle used in reports.
func (t Tier) Emoji() string {
	switch t {
	case TierGreen:
		return "🟢"
	case TierYellow:
		return "🟡"
	case TierOrange:
		return "🟠"
	default:
		return "🔴"
	}
}

// Color returns the embed colour for the tier.
func (t Tier) Color() int {
	switch t {
	case TierGreen:
		return 0x27ae60
	case TierYellow:
		return 0xf39c12
	case TierOrange:
		return 0xe67e22
	default:
		return 0xe74c3c
	}
}

// Score is the advisory quality verdict for one answer.
type Score struct {
	// Value is the final score in [ScoreMissing, ScoreMax].
	Value int

	// Sub-scores in [0, 1]. Zero for results that bypass the formula.
	DurationScore float64
	VolumeScore   float64
	SizeScore     float64

	Tier     Tier
	Loudness Loudness

	// Short reports whether the short-answer thresholds were applied.
	Short bool
}

// Assessment bundles a measurement with its score.
type Assessment struct {
	Result AnalysisResult
	Score  Score
}
