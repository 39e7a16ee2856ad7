// Package playback streams prompt audio files into a voice connection.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/shzanya/verificationBot/internal/observe"
	"github.com/shzanya/verificationBot/pkg/audio"
	"github.com/shzanya/verificationBot/pkg/audio/ffmpeg"
)

// ErrNoAudio is returned when a prompt decodes to zero samples.
var ErrNoAudio = errors.New("playback: prompt has no audio")

// FrameDuration is the length of each frame written to the connection.
const FrameDuration = 20 * time.Millisecond

// Decoder turns an audio file into PCM in the requested format.
type Decoder interface {
	Decode(ctx context.Context, path string, f audio.Format) ([]byte, error)
}

var _ Decoder = ffmpeg.Tool{}

// Option configures a [Player].
type Option func(*Player)

// WithTimeout bounds a single Play call. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Player) { p.timeout = d }
}

// WithMetrics records playback failures on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Player) { p.metrics = m }
}

// WithoutDrain makes Play return as soon as the last frame is queued instead
// of waiting for it to be heard.
func WithoutDrain() Option {
	return func(p *Player) { p.drain = false }
}

// Player plays prompt files. Decoded prompts are cached per path until the
// file's modification time changes. It is safe for concurrent use.
type Player struct {
	dec     Decoder
	timeout time.Duration
	metrics *observe.Metrics
	drain   bool

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	modTime time.Time
	pcm     []byte
}

// New creates a Player that decodes with dec.
func New(dec Decoder, opts ...Option) *Player {
	p := &Player{
		dec:     dec,
		timeout: 30 * time.Second,
		drain:   true,
		cache:   make(map[string]cached),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Play decodes the file at path and writes it to conn in 20 ms frames,
// returning once the audio has played out, the timeout expires or ctx is
// cancelled. An empty path is a no-op.
func (p *Player) Play(ctx context.Context, conn audio.Connection, path string) error {
	if path == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pcm, err := p.load(ctx, path)
	if err != nil {
		p.fail(ctx, "decode")
		return err
	}

	started := time.Now()
	if err := stream(ctx, conn.OutputStream(), pcm); err != nil {
		p.fail(ctx, "stream")
		return fmt.Errorf("playback: stream %s: %w", path, err)
	}

	if p.drain {
		total := audio.DiscordFormat.Duration(len(pcm))
		if remaining := total - time.Since(started); remaining > 0 {
			t := time.NewTimer(remaining)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				p.fail(ctx, "drain")
				return fmt.Errorf("playback: drain %s: %w", path, ctx.Err())
			}
		}
	}

	slog.Debug("playback: prompt played", "path", path, "duration", audio.DiscordFormat.Duration(len(pcm)))
	return nil
}

func (p *Player) fail(ctx context.Context, stage string) {
	p.metrics.PlaybackErrors.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (p *Player) load(ctx context.Context, path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("playback: stat %s: %w", path, err)
	}

	p.mu.Lock()
	c, ok := p.cache[path]
	p.mu.Unlock()
	if ok && c.modTime.Equal(info.ModTime()) {
		return c.pcm, nil
	}

	pcm, err := p.dec.Decode(ctx, path, audio.DiscordFormat)
	if err != nil {
		return nil, fmt.Errorf("playback: decode %s: %w", path, err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAudio, path)
	}

	p.mu.Lock()
	p.cache[path] = cached{modTime: info.ModTime(), pcm: pcm}
	p.mu.Unlock()
	return pcm, nil
}

// frameBytes is the size of one 20 ms frame of 48 kHz stereo 16-bit PCM.
var frameBytes = audio.DiscordFormat.BytesPerSecond() * int(FrameDuration/time.Millisecond) / 1000

// stream writes pcm to out in whole frames; the last frame is zero-padded.
func stream(ctx context.Context, out chan<- audio.AudioFrame, pcm []byte) error {
	var ts time.Duration
	for off := 0; off < len(pcm); off += frameBytes {
		data := make([]byte, frameBytes)
		copy(data, pcm[off:min(off+frameBytes, len(pcm))])
		frame := audio.AudioFrame{
			Data:       data,
			SampleRate: audio.DiscordFormat.SampleRate,
			Channels:   audio.DiscordFormat.Channels,
			Timestamp:  ts,
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
		ts += FrameDuration
	}
	return nil
}
