package quality

import (
	"fmt"
	"math"
)

// LoudnessLevel is a descriptive loudness bucket.
type LoudnessLevel int

const (
	LoudnessSilence LoudnessLevel = iota
	LoudnessVeryQuiet
	LoudnessQuiet
	LoudnessNormal
	LoudnessLoud
	LoudnessVeryLoud
	LoudnessUndetermined
)

// String returns the label used in reports.
func (l LoudnessLevel) String() string {
	switch l {
	case LoudnessSilence:
		return "silence"
	case LoudnessVeryQuiet:
		return "very quiet"
	case LoudnessQuiet:
		return "quiet"
	case LoudnessNormal:
		return "normal"
	case LoudnessLoud:
		return "loud"
	case LoudnessVeryLoud:
		return "very loud"
	default:
		return "undetermined"
	}
}

// Emoji returns the marker shown next to the label.
func (l LoudnessLevel) Emoji() string {
	switch l {
	case LoudnessSilence, LoudnessVeryQuiet:
		return "🔴"
	case LoudnessQuiet, LoudnessUndetermined:
		return "🟡"
	case LoudnessNormal, LoudnessLoud:
		return "🟢"
	default:
		return "🟦"
	}
}

// Loudness classifies an RMS value. It is descriptive only and never
// influences the score.
type Loudness struct {
	Level LoudnessLevel

	// DB is 20·log10(rms), NaN for silence.
	DB float64

	// Floor is the coarse quality value associated with the level.
	Floor int

	RMS float64
}

// String renders e.g. "🟢 normal (0.0500)".
func (l Loudness) String() string {
	return fmt.Sprintf("%s %s (%.4f)", l.Level.Emoji(), l.Level, l.RMS)
}

// dbEpsilon keeps log10 finite for tiny amplitudes.
const dbEpsilon = 1e-10

// ClassifyRMS buckets rms into a [Loudness] level.
func ClassifyRMS(rms float64) Loudness {
	if math.IsNaN(rms) || math.IsInf(rms, 0) {
		return Loudness{Level: LoudnessUndetermined, DB: math.NaN(), Floor: 50, RMS: rms}
	}
	if rms <= 0 {
		return Loudness{Level: LoudnessSilence, DB: math.NaN(), Floor: 5, RMS: rms}
	}

	db := 20 * math.Log10(rms+dbEpsilon)
	l := Loudness{DB: db, RMS: rms}
	switch {
	case db < -40:
		l.Level, l.Floor = LoudnessVeryQuiet, 15
	case db < -30:
		l.Level, l.Floor = LoudnessQuiet, 35
	case db < -20:
		l.Level, l.Floor = LoudnessNormal, 70
	case db < -10:
		l.Level, l.Floor = LoudnessLoud, 85
	default:
		l.Level, l.Floor = LoudnessVeryLoud, 90
	}
	return l
}
