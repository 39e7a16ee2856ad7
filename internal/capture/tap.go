package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shzanya/verificationBot/pkg/audio"
	"github.com/shzanya/verificationBot/pkg/audio/pcm"
)

var _ Sink = (*StreamSink)(nil)

// ErrTapClosed is returned by [StreamSink.Start] once the tap has stopped.
var ErrTapClosed = errors.New("capture: tap closed")

const defaultPollInterval = 200 * time.Millisecond

// Tap is the single reader of a connection's input streams. Input channels
// can only be drained once, so every [StreamSink] on the same connection
// receives its frames through the tap.
type Tap struct {
	conn audio.Connection
	poll time.Duration

	mu      sync.Mutex
	sinks   map[*StreamSink]struct{}
	watched map[string]bool
	closed  bool
	wg      sync.WaitGroup
}

// TapOption configures a [Tap].
type TapOption func(*Tap)

// WithPollInterval sets how often the tap looks for new input streams.
// Default: 200ms.
func WithPollInterval(d time.Duration) TapOption {
	return func(t *Tap) { t.poll = d }
}

// NewTap creates a tap for conn. Call [Tap.Run] to start reading.
func NewTap(conn audio.Connection, opts ...TapOption) *Tap {
	t := &Tap{
		conn:    conn,
		poll:    defaultPollInterval,
		sinks:   make(map[*StreamSink]struct{}),
		watched: make(map[string]bool),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Run reads every input stream of the connection until ctx is cancelled.
// Streams that appear later are picked up on the next poll.
func (t *Tap) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	t.attach(ctx)
	for {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.closed = true
			t.mu.Unlock()
			t.wg.Wait()
			return nil
		case <-ticker.C:
			t.attach(ctx)
		}
	}
}

func (t *Tap) attach(ctx context.Context) {
	for id, ch := range t.conn.InputStreams() {
		t.mu.Lock()
		if t.watched[id] || t.closed {
			t.mu.Unlock()
			continue
		}
		t.watched[id] = true
		t.wg.Add(1)
		t.mu.Unlock()

		slog.Debug("capture: tapping input stream", "participant_id", id)
		go t.read(ctx, id, ch)
	}
}

func (t *Tap) read(ctx context.Context, id string, ch <-chan audio.AudioFrame) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		delete(t.watched, id)
		t.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			t.dispatch(id, frame)
		}
	}
}

func (t *Tap) dispatch(id string, frame audio.AudioFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for s := range t.sinks {
		s.append(id, frame)
	}
}

// Sink returns a sink that records the given participants. With no
// participants it records everyone who speaks.
func (t *Tap) Sink(participants ...string) *StreamSink {
	s := &StreamSink{tap: t, format: audio.DiscordFormat, buffers: make(map[string][]byte)}
	if len(participants) > 0 {
		s.only = make(map[string]bool, len(participants))
		for _, p := range participants {
			s.only[p] = true
			s.buffers[p] = nil
		}
	}
	return s
}

func (t *Tap) register(s *StreamSink) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTapClosed
	}
	t.sinks[s] = struct{}{}
	return nil
}

func (t *Tap) unregister(s *StreamSink) {
	t.mu.Lock()
	delete(t.sinks, s)
	t.mu.Unlock()
}

// StreamSink buffers PCM from a [Tap] and returns one WAV track per
// participant when stopped. Participants it was asked to record get a track
// even if they never spoke; it holds only the WAV header.
type StreamSink struct {
	tap    *Tap
	only   map[string]bool
	format audio.Format

	// buffers is guarded by tap.mu: append runs under it.
	buffers  map[string][]byte
	mismatch bool
}

// Start implements [Sink].
func (s *StreamSink) Start(context.Context) error {
	return s.tap.register(s)
}

// Stop implements [Sink].
func (s *StreamSink) Stop() (Recording, error) {
	s.tap.unregister(s)

	s.tap.mu.Lock()
	defer s.tap.mu.Unlock()
	rec := Recording{Format: s.format, Tracks: make(map[string][]byte, len(s.buffers))}
	for id, data := range s.buffers {
		rec.Tracks[id] = pcm.EncodeWAV(data, s.format)
	}
	if s.mismatch {
		slog.Warn("capture: dropped frames in unexpected format", "format", s.format)
	}
	return rec, nil
}

// append is called with tap.mu held.
func (s *StreamSink) append(id string, frame audio.AudioFrame) {
	if s.only != nil && !s.only[id] {
		return
	}
	if !s.format.Matches(frame) {
		s.mismatch = true
		return
	}
	s.buffers[id] = append(s.buffers[id], frame.Data...)
}
