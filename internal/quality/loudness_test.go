package quality

import (
	"math"
	"testing"
)

func TestClassifyRMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		rms       float64
		wantLevel LoudnessLevel
		wantFloor int
	}{
		{"zero", 0, LoudnessSilence, 5},
		{"negative", -0.1, LoudnessSilence, 5},
		{"very quiet", 0.005, LoudnessVeryQuiet, 15},
		{"quiet", 0.02, LoudnessQuiet, 35},
		{"normal", 0.05, LoudnessNormal, 70},
		{"loud", 0.2, LoudnessLoud, 85},
		{"very loud", 0.5, LoudnessVeryLoud, 90},
		{"nan", math.NaN(), LoudnessUndetermined, 50},
		{"inf", math.Inf(1), LoudnessUndetermined, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ClassifyRMS(tt.rms)
			if got.Level != tt.wantLevel {
				t.Errorf("Level = %s, want %s", got.Level, tt.wantLevel)
			}
			if got.Floor != tt.wantFloor {
				t.Errorf("Floor = %d, want %d", got.Floor, tt.wantFloor)
			}
		})
	}
}

func TestClassifyRMS_DB(t *testing.T) {
	t.Parallel()

	l := ClassifyRMS(0.1)
	if math.Abs(l.DB-(-20)) > 0.001 {
		t.Errorf("DB = %f, want -20", l.DB)
	}
	if !math.IsNaN(ClassifyRMS(0).DB) {
		t.Error("silence should have NaN dB")
	}
}

func TestLoudness_String(t *testing.T) {
	t.Parallel()

	if got, want := ClassifyRMS(0.05).String(), "🟢 normal (0.0500)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
