package quality

import (
	"errors"
	"math"
	"time"
)

// DefaultShortAnswerThreshold separates short answers (a name, a yes/no) from
// long ones. Expected durations at or below it get the lenient bands.
const DefaultShortAnswerThreshold = 3 * time.Second

// band holds the tolerances and weights for one answer class.
type band struct {
	minDurationRatio float64
	maxDurationRatio float64
	overPenalty      float64 // per unit of ratio above the max
	overFloor        float64
	underScale       float64 // score at exactly minDurationRatio

	kbPerSecond  float64
	minSizeRatio float64

	minVolume   int
	maxVolume   int
	volumeScale float64
	volumeFloor float64

	weightDuration float64
	weightVolume   float64
	weightSize     float64

	green, yellow, orange int
}

var (
	shortBand = band{
		minDurationRatio: 0.3, maxDurationRatio: 2.0, overPenalty: 0.2, overFloor: 0.7, underScale: 0.8,
		kbPerSecond: 12, minSizeRatio: 0.2,
		minVolume: 300, maxVolume: 8000, volumeScale: 0.8, volumeFloor: 0.4,
		weightDuration: 0.3, weightVolume: 0.5, weightSize: 0.2,
		green: 70, yellow: 50, orange: 30,
	}
	longBand = band{
		minDurationRatio: 0.6, maxDurationRatio: 1.3, overPenalty: 0.3, overFloor: 0.8, underScale: 0.7,
		kbPerSecond: 15, minSizeRatio: 0.3,
		minVolume: 500, maxVolume: 6000, volumeScale: 0.7, volumeFloor: 0.3,
		weightDuration: 0.4, weightVolume: 0.4, weightSize: 0.2,
		green: 80, yellow: 60, orange: 40,
	}
)

const (
	maxSizeRatio       = 2.5
	oversizeScore      = 0.8
	undersizeScale     = 0.6
	loudVolumeScore    = 0.9
	silentVolumeScore  = 0.1
	unknownExpectScore = 0.8
)

// ScoreResult applies the adaptive formula to r. Fallback and emergency
// results get their fixed scores.
func ScoreResult(r AnalysisResult, expected, shortThreshold time.Duration) Score {
	short := expected <= shortThreshold
	b := longBand
	if short {
		b = shortBand
	}

	s := Score{Short: short, Loudness: ClassifyRMS(r.RMS)}

	switch r.Method {
	case MethodFallback:
		s.Value = ScoreMissing
		if errors.Is(r.Reason, ErrArtifactTooSmall) {
			s.Value = ScoreTooSmall
		}
		s.Tier = b.tier(s.Value)
		return s
	case MethodEmergency:
		s.Value = ScoreEmergency
		s.Tier = b.tier(s.Value)
		return s
	}

	exp := expected.Seconds()
	s.DurationScore = b.durationScore(r.Duration.Seconds(), exp)
	s.SizeScore = b.sizeScore(r.FileSizeKB(), exp)
	s.VolumeScore = b.volumeScore(r.Volume)

	total := s.DurationScore*b.weightDuration + s.VolumeScore*b.weightVolume + s.SizeScore*b.weightSize
	s.Value = clamp(int(math.Round(total*100)), ScoreFloor, ScoreMax)
	s.Tier = b.tier(s.Value)
	return s
}

func (b band) durationScore(actual, expected float64) float64 {
	if expected <= 0 {
		if actual > 0.5 {
			return unknownExpectScore
		}
		return 0.3
	}
	ratio := actual / expected
	switch {
	case ratio < b.minDurationRatio:
		return ratio / b.minDurationRatio * b.underScale
	case ratio <= b.maxDurationRatio:
		return 1
	default:
		return math.Max(b.overFloor, 1-(ratio-b.maxDurationRatio)*b.overPenalty)
	}
}

func (b band) sizeScore(sizeKB, expected float64) float64 {
	expectedKB := expected * b.kbPerSecond
	if expectedKB <= 0 {
		if sizeKB > 10 {
			return 0.7
		}
		return 0.3
	}
	ratio := sizeKB / expectedKB
	switch {
	case ratio < b.minSizeRatio:
		return ratio / b.minSizeRatio * undersizeScale
	case ratio <= maxSizeRatio:
		return 1
	default:
		return oversizeScore
	}
}

func (b band) volumeScore(v int) float64 {
	switch {
	case v <= 0:
		return silentVolumeScore
	case v < b.minVolume:
		return math.Max(b.volumeFloor, float64(v)/float64(b.minVolume)*b.volumeScale)
	case v <= b.maxVolume:
		return 1
	default:
		return loudVolumeScore
	}
}

func (b band) tier(score int) Tier {
	switch {
	case score >= b.green:
		return TierGreen
	case score >= b.yellow:
		return TierYellow
	case score >= b.orange:
		return TierOrange
	default:
		return TierRed
	}
}

// estimateVolume maps the byte rate of an undecodable file to a loudness
// proxy.
func estimateVolume(fileSize int64, duration float64, short bool) int {
	if duration <= 0 {
		if short {
			return 800
		}
		return 1000
	}
	bps := float64(fileSize) / duration
	if short {
		switch {
		case bps < 30000:
			return 400
		case bps < 60000:
			return 1000
		case bps < 100000:
			return 2000
		default:
			return 3500
		}
	}
	switch {
	case bps < 50000:
		return 500
	case bps < 100000:
		return 1500
	case bps < 150000:
		return 3000
	default:
		return 5000
	}
}

// estimatedRMS is reported for estimated results; nothing was decoded, so the
// loudness label reads as very quiet.
const estimatedRMS = 0.001

// Estimate derives a result from the file size alone, assuming the capture
// format (48 kHz, stereo, 16-bit, 44-byte header). It always succeeds.
func Estimate(fileSize int64, expected, shortThreshold time.Duration) AnalysisResult {
	short := expected <= shortThreshold
	r := defaultResult()
	r.FileSize = fileSize
	r.Method = MethodEstimate
	r.RMS = estimatedRMS

	data := max(0, fileSize-wavHeaderBytes)
	bps := float64(DefaultSampleRate * DefaultChannels * DefaultSampleWidth)
	secs := float64(data) / bps
	if short {
		secs = math.Min(secs, expected.Seconds()*2)
	}
	r.Duration = seconds(secs)
	r.Volume = estimateVolume(fileSize, secs, short)
	return r
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
