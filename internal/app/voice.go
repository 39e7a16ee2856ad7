package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shzanya/verificationBot/internal/capture"
	"github.com/shzanya/verificationBot/pkg/audio"
)

// voiceLink manages the bot's single connection to the verification channel
// and the tap that reads it. It connects lazily on the first join and
// disconnects when the channel empties. All methods are safe for concurrent
// use.
type voiceLink struct {
	platform  audio.Platform
	channelID string
	tapOpts   []capture.TapOption

	mu     sync.Mutex
	conn   audio.Connection
	tap    *capture.Tap
	cancel context.CancelFunc
	done   chan struct{}
}

func newVoiceLink(platform audio.Platform, channelID string, tapOpts ...capture.TapOption) *voiceLink {
	return &voiceLink{platform: platform, channelID: channelID, tapOpts: tapOpts}
}

// Ensure returns the open connection and its tap, connecting first if
// needed. The tap runs until Close or until ctx is done.
func (v *voiceLink) Ensure(ctx context.Context) (audio.Connection, *capture.Tap, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.conn != nil {
		return v.conn, v.tap, nil
	}
	if v.platform == nil {
		return nil, nil, fmt.Errorf("app: no voice platform configured")
	}

	conn, err := v.platform.Connect(ctx, v.channelID)
	if err != nil {
		return nil, nil, fmt.Errorf("app: connect to voice channel %s: %w", v.channelID, err)
	}

	tap := capture.NewTap(conn, v.tapOpts...)
	tapCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := tap.Run(tapCtx); err != nil {
			slog.Warn("app: capture tap stopped", "channel_id", v.channelID, "err", err)
		}
	}()

	v.conn, v.tap, v.cancel, v.done = conn, tap, cancel, done
	slog.Info("app: joined voice channel", "channel_id", v.channelID)
	return conn, tap, nil
}

// Connected reports whether a connection is open.
func (v *voiceLink) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conn != nil
}

// Close stops the tap and disconnects. Closing an idle link is a no-op.
func (v *voiceLink) Close() error {
	v.mu.Lock()
	conn, cancel, done := v.conn, v.cancel, v.done
	v.conn, v.tap, v.cancel, v.done = nil, nil, nil, nil
	v.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()
	<-done
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("app: disconnect voice channel %s: %w", v.channelID, err)
	}
	slog.Info("app: left voice channel", "channel_id", v.channelID)
	return nil
}
