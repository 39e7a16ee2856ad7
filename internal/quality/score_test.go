package quality

import (
	"fmt"
	"testing"
	"time"
)

func TestScoreResult_ShortAnswerGreen(t *testing.T) {
	t.Parallel()

	r := AnalysisResult{
		Duration: 2800 * time.Millisecond,
		RMS:      0.05,
		Volume:   500,
		FileSize: 34406, // 2.8 * 12 * 1024 truncated to whole bytes
		Method:   MethodSegment,
	}
	s := ScoreResult(r, 3*time.Second, DefaultShortAnswerThreshold)

	if !s.Short {
		t.Error("3s answer should use the short band")
	}
	if s.Value != 100 {
		t.Errorf("Value = %d, want 100 (sub-scores %.2f/%.2f/%.2f)", s.Value, s.DurationScore, s.VolumeScore, s.SizeScore)
	}
	if s.Tier != TierGreen {
		t.Errorf("Tier = %s, want green", s.Tier)
	}
	if s.Loudness.Level != LoudnessNormal {
		t.Errorf("Loudness = %s, want normal", s.Loudness.Level)
	}
}

func TestScoreResult_LongBand(t *testing.T) {
	t.Parallel()

	full := AnalysisResult{
		Duration: 10 * time.Second,
		Volume:   1000,
		FileSize: 150 * 1024,
		Method:   MethodSpectral,
	}

	tests := []struct {
		name     string
		mutate   func(*AnalysisResult)
		wantVal  int
		wantTier Tier
	}{
		{"on target", func(*AnalysisResult) {}, 100, TierGreen},
		{"half duration", func(r *AnalysisResult) { r.Duration = 5 * time.Second }, 83, TierGreen},
		{"silent", func(r *AnalysisResult) { r.Volume = 0 }, 64, TierYellow},
		{"much too long", func(r *AnalysisResult) { r.Duration = 30 * time.Second }, 92, TierGreen},
		{"tiny and silent", func(r *AnalysisResult) {
			r.Duration = 500 * time.Millisecond
			r.Volume = 0
			r.FileSize = 1024
		}, 15, TierRed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := full
			tt.mutate(&r)
			s := ScoreResult(r, 10*time.Second, DefaultShortAnswerThreshold)
			if s.Short {
				t.Error("10s answer should use the long band")
			}
			if s.Value != tt.wantVal {
				t.Errorf("Value = %d, want %d", s.Value, tt.wantVal)
			}
			if s.Tier != tt.wantTier {
				t.Errorf("Tier = %s, want %s", s.Tier, tt.wantTier)
			}
		})
	}
}

func TestScoreResult_FixedScores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		r    AnalysisResult
		want int
	}{
		{"missing", AnalysisResult{Method: MethodFallback, Reason: fmt.Errorf("%w: stat", ErrArtifactMissing)}, ScoreMissing},
		{"too small", AnalysisResult{Method: MethodFallback, Reason: fmt.Errorf("%w: 44 bytes", ErrArtifactTooSmall)}, ScoreTooSmall},
		{"emergency", AnalysisResult{Method: MethodEmergency, Duration: time.Second}, ScoreEmergency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := ScoreResult(tt.r, 5*time.Second, DefaultShortAnswerThreshold)
			if s.Value != tt.want {
				t.Errorf("Value = %d, want %d", s.Value, tt.want)
			}
			if s.Tier != TierRed {
				t.Errorf("Tier = %s, want red", s.Tier)
			}
		})
	}
}

func TestScoreResult_UnknownExpected(t *testing.T) {
	t.Parallel()

	r := AnalysisResult{Duration: 2 * time.Second, Volume: 1000, FileSize: 20 * 1024, Method: MethodProbe}
	s := ScoreResult(r, 0, DefaultShortAnswerThreshold)
	if s.DurationScore != unknownExpectScore {
		t.Errorf("DurationScore = %v, want %v", s.DurationScore, unknownExpectScore)
	}
	if s.SizeScore != 0.7 {
		t.Errorf("SizeScore = %v, want 0.7", s.SizeScore)
	}
}

func TestEstimate(t *testing.T) {
	t.Parallel()

	// Two seconds of 48 kHz stereo 16-bit audio plus the header.
	const size = 44 + 2*192000

	tests := []struct {
		name         string
		expected     time.Duration
		wantDuration time.Duration
		wantVolume   int
	}{
		{"long answer", 10 * time.Second, 2 * time.Second, 5000},
		{"short answer within cap", time.Second, 2 * time.Second, 3500},
		{"short answer capped", 500 * time.Millisecond, time.Second, 3500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := Estimate(size, tt.expected, DefaultShortAnswerThreshold)
			if r.Method != MethodEstimate {
				t.Errorf("Method = %s, want estimate", r.Method)
			}
			if r.Duration != tt.wantDuration {
				t.Errorf("Duration = %v, want %v", r.Duration, tt.wantDuration)
			}
			if r.Volume != tt.wantVolume {
				t.Errorf("Volume = %d, want %d", r.Volume, tt.wantVolume)
			}
			if r.RMS != estimatedRMS {
				t.Errorf("RMS = %v, want %v", r.RMS, estimatedRMS)
			}
		})
	}
}

func TestEstimate_HeaderOnly(t *testing.T) {
	t.Parallel()

	r := Estimate(44, 5*time.Second, DefaultShortAnswerThreshold)
	if r.Duration != 0 {
		t.Errorf("Duration = %v, want 0", r.Duration)
	}
	if r.Volume != 1000 {
		t.Errorf("Volume = %d, want 1000", r.Volume)
	}
}

func TestEmergencyResult(t *testing.T) {
	t.Parallel()

	r := emergencyResult(4 * time.Second)
	if r.Method != MethodEmergency {
		t.Errorf("Method = %s, want emergency_fallback", r.Method)
	}
	if r.Duration != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", r.Duration)
	}
	if s := ScoreResult(r, 4*time.Second, DefaultShortAnswerThreshold); s.Value != ScoreEmergency {
		t.Errorf("Score = %d, want %d", s.Value, ScoreEmergency)
	}
}
