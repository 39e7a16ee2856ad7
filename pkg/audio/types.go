package audio

import "time"

// AudioFrame is a single chunk of 16-bit little-endian PCM flowing between a
// voice connection and its consumers. Capture sinks read frames from input
// streams; the playback path writes them to the output stream.
type AudioFrame struct {
	// PCM audio data, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz (48000 for Discord Opus).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DiscordFormat is the wire format of Discord voice: 48 kHz stereo.
var DiscordFormat = Format{SampleRate: 48000, Channels: 2}

// BytesPerSecond returns the byte rate of 16-bit PCM in format f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns the playback length of n bytes of 16-bit PCM in format f.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Matches reports whether frame is already in format f.
func (f Format) Matches(frame AudioFrame) bool {
	return frame.SampleRate == f.SampleRate && frame.Channels == f.Channels
}
