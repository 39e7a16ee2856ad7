// Package discord provides an [audio.Platform] backed by Discord voice
// channels via bwmarrin/discordgo. It bridges Discord's Opus transport with
// the PCM [audio.AudioFrame] streams consumed by the capture and playback
// layers.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/shzanya/verificationBot/pkg/audio"
)

var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] on top of a bot-owned
// *discordgo.Session.
type Platform struct {
	session *discordgo.Session
	guildID string
}

// New creates a Platform for the given session and guild.
func New(session *discordgo.Session, guildID string) *Platform {
	return &Platform{
		session: session,
		guildID: guildID,
	}
}

// Connect joins channelID unmuted and undeafened: the bot both speaks the
// prompts and listens to the answers.
func (p *Platform) Connect(ctx context.Context, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	vc, err := p.session.ChannelVoiceJoin(p.guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newConnection(vc, p.session, p.guildID), nil
}
