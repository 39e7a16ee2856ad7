// Package audio defines the voice transport abstractions used by the
// verification bot.
//
// The two primary abstractions are:
//
//   - [Platform] joins a voice channel and returns a [Connection].
//   - [Connection] represents an active session on that channel, giving callers
//     per-participant input streams, a single output stream for prompt
//     playback, and participant lifecycle events.
//
// Platform-specific adapters live in sub-packages (audio/discord). Everything
// above the adapter layer talks to these interfaces only, which keeps the
// verification flow testable with mock connections.
package audio

import (
	"context"
)

// EventType classifies participant lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the voice channel.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the voice channel.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change on a voice channel.
type Event struct {
	Type EventType

	// UserID is the platform-specific unique identifier for the participant.
	UserID string

	// Username is the human-readable display name of the participant.
	Username string
}

// Connection represents an active session on a voice channel.
//
// A Connection remains valid until [Connection.Disconnect] is called. All
// input channels returned by [Connection.InputStreams] are closed when the
// connection terminates.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// ChannelID returns the voice channel this connection is joined to.
	ChannelID() string

	// InputStreams returns a snapshot of the current per-participant audio
	// channels keyed by participant ID. A participant appears once the first
	// packet from them has been received.
	InputStreams() map[string]<-chan AudioFrame

	// OutputStream returns the channel prompt audio is written to. Frames must
	// be in [DiscordFormat]. The platform never closes this channel; writes
	// after Disconnect are dropped.
	OutputStream() chan<- AudioFrame

	// OnParticipantChange registers cb for join/leave events, replacing any
	// previous registration. cb runs on an internal goroutine.
	OnParticipantChange(cb func(Event))

	// Disconnect tears down the connection. Subsequent calls are no-ops.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel identified by channelID. ctx governs the
	// connection attempt only.
	Connect(ctx context.Context, channelID string) (Connection, error)
}
