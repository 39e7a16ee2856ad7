// Package ffmpeg wraps the ffmpeg and ffprobe executables: decoding arbitrary
// audio files to raw PCM, transcoding to WAV, and reading container metadata.
//
// All calls run the binaries with exec.CommandContext so a cancelled or timed
// out context kills the child process.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shzanya/verificationBot/pkg/audio"
)

// ErrNoAudioStream is returned by [Tool.Probe] when the container holds no
// stream at all.
var ErrNoAudioStream = errors.New("ffmpeg: no audio stream")

// Tool runs ffmpeg and ffprobe. The zero value looks both binaries up on PATH.
type Tool struct {
	// FFmpegPath is the ffmpeg executable. Default: "ffmpeg".
	FFmpegPath string

	// FFprobePath is the ffprobe executable. Default: "ffprobe".
	FFprobePath string
}

// Info is the subset of ffprobe output the bot cares about.
type Info struct {
	// Duration in seconds from the container, 0 when unknown.
	Duration float64

	// SampleRate of the first stream, 0 when unknown.
	SampleRate int

	// Channels of the first stream, 0 when unknown.
	Channels int

	// Codec name of the first stream.
	Codec string
}

func (t Tool) ffmpeg() string {
	if t.FFmpegPath == "" {
		return "ffmpeg"
	}
	return t.FFmpegPath
}

func (t Tool) ffprobe() string {
	if t.FFprobePath == "" {
		return "ffprobe"
	}
	return t.FFprobePath
}

// Available reports whether the ffmpeg binary can be found.
func (t Tool) Available() bool {
	_, err := exec.LookPath(t.ffmpeg())
	return err == nil
}

// Decode converts the file at path to signed 16-bit little-endian PCM in
// format f and returns the raw samples.
func (t Tool) Decode(ctx context.Context, path string, f audio.Format) ([]byte, error) {
	cmd := exec.CommandContext(ctx, t.ffmpeg(),
		"-v", "error",
		"-i", path,
		"-ar", strconv.Itoa(f.SampleRate),
		"-ac", strconv.Itoa(f.Channels),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: decode %q: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Transcode writes the file at in to out as 16-bit PCM WAV in format f,
// overwriting out.
func (t Tool) Transcode(ctx context.Context, in, out string, f audio.Format) error {
	cmd := exec.CommandContext(ctx, t.ffmpeg(),
		"-v", "error",
		"-y",
		"-i", in,
		"-ar", strconv.Itoa(f.SampleRate),
		"-ac", strconv.Itoa(f.Channels),
		"-sample_fmt", "s16",
		out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: transcode %q: %w: %s", in, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Probe reads container metadata for the file at path.
func (t Tool) Probe(ctx context.Context, path string) (Info, error) {
	cmd := exec.CommandContext(ctx, t.ffprobe(),
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return Info{}, fmt.Errorf("ffmpeg: probe %q: %w", path, err)
	}
	info, err := parseProbe(out)
	if err != nil {
		return Info{}, fmt.Errorf("ffmpeg: probe %q: %w", path, err)
	}
	return info, nil
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// parseProbe decodes ffprobe's JSON. ffprobe reports numbers as strings;
// unparsable values are left at zero.
func parseProbe(data []byte) (Info, error) {
	var po probeOutput
	if err := json.Unmarshal(data, &po); err != nil {
		return Info{}, fmt.Errorf("decode json: %w", err)
	}
	if len(po.Streams) == 0 {
		return Info{}, ErrNoAudioStream
	}
	info := Info{
		Channels: po.Streams[0].Channels,
		Codec:    po.Streams[0].CodecName,
	}
	if d, err := strconv.ParseFloat(po.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	if sr, err := strconv.Atoi(po.Streams[0].SampleRate); err == nil {
		info.SampleRate = sr
	}
	return info, nil
}
