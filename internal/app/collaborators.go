package app

import (
	"context"
	"errors"

	"github.com/shzanya/verificationBot/internal/discord"
	"github.com/shzanya/verificationBot/internal/playback"
	"github.com/shzanya/verificationBot/pkg/audio"
)

// ErrRoleAssignment is returned by [Flow.Run] when the verified role could
// not be granted or the unverified role could not be revoked. It is never
// retried.
var ErrRoleAssignment = errors.New("app: role assignment failed")

// Player plays a prompt file into a voice connection. Implementations bound
// the playback by their own timeout.
type Player interface {
	Play(ctx context.Context, conn audio.Connection, path string) error
}

var _ Player = (*playback.Player)(nil)

// RoleDirectory changes a member's roles and voice presence.
type RoleDirectory interface {
	Grant(ctx context.Context, userID, roleID, reason string) error
	Revoke(ctx context.Context, userID, roleID, reason string) error

	// Remove disconnects the member from voice.
	Remove(ctx context.Context, userID, reason string) error
}

var _ RoleDirectory = (*discord.RoleDirectory)(nil)

// Presence counts the human members in a voice channel.
type Presence interface {
	Humans(channelID string) int
}

var _ Presence = (*discord.Bot)(nil)

// Participant is the member a session verifies.
type Participant struct {
	ID      string
	Name    string
	GuildID string
}
