// Package discord provides the Discord layer of the verification bot. It
// owns the discordgo.Session lifecycle, forwards voice state changes, routes
// slash command interactions to registered handlers and implements the
// role directory and channel reporting on top of the Discord API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/shzanya/verificationBot/pkg/audio"
	discordaudio "github.com/shzanya/verificationBot/pkg/audio/discord"
)

// ErrNotReady is returned by [Bot.Ready] until the gateway has delivered its
// initial state.
var ErrNotReady = errors.New("discord: session not ready")

// Config holds Discord bot configuration.
type Config struct {
	// Token is the Discord bot token without the "Bot " prefix.
	Token string

	// GuildID is the guild the bot verifies members in.
	GuildID string

	// ModeratorRoleID gates the moderator slash commands. Members with the
	// Manage Roles permission are always moderators.
	ModeratorRoleID string
}

// VoiceState is a member's move between voice channels. An empty channel ID
// means "not in voice".
type VoiceState struct {
	GuildID     string
	UserID      string
	DisplayName string
	Bot         bool

	BeforeChannelID string
	ChannelID       string
}

// Bot owns the Discord gateway connection and routes interactions
// to registered command handlers.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	platform  *discordaudio.Platform
	router    *CommandRouter
	perms     *PermissionChecker
	guildID   string
	commands  []*discordgo.ApplicationCommand
	closeOnce sync.Once
}

// New creates a Bot, connects to Discord, and registers the interaction handler.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	b := &Bot{
		session:  session,
		platform: discordaudio.New(session, cfg.GuildID),
		router:   NewCommandRouter(),
		perms:    NewPermissionChecker(cfg.ModeratorRoleID),
		guildID:  cfg.GuildID,
	}

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})

	return b, nil
}

// OnVoiceState registers fn for voice state changes in the bot's guild.
// Updates that do not change the member's channel (mute, deafen) are
// filtered out. fn runs on the discordgo event goroutine.
func (b *Bot) OnVoiceState(fn func(VoiceState)) {
	b.session.AddHandler(func(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
		if vs, ok := voiceStateFrom(vsu, b.guildID); ok {
			fn(vs)
		}
	})
}

func voiceStateFrom(vsu *discordgo.VoiceStateUpdate, guildID string) (VoiceState, bool) {
	if vsu == nil || vsu.VoiceState == nil || vsu.GuildID != guildID {
		return VoiceState{}, false
	}
	vs := VoiceState{
		GuildID:   vsu.GuildID,
		UserID:    vsu.UserID,
		ChannelID: vsu.ChannelID,
	}
	if vsu.BeforeUpdate != nil {
		vs.BeforeChannelID = vsu.BeforeUpdate.ChannelID
	}
	if vs.BeforeChannelID == vs.ChannelID {
		return VoiceState{}, false
	}
	if m := vsu.Member; m != nil {
		vs.DisplayName = MemberName(m)
		if m.User != nil {
			vs.Bot = m.User.Bot
		}
	}
	return vs, true
}

// MemberName returns the name a member is shown under in the guild.
func MemberName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

// Humans returns how many non-bot members are in the voice channel,
// according to the gateway state cache.
func (b *Bot) Humans(channelID string) int {
	s := b.Session()
	g, err := s.State.Guild(b.guildID)
	if err != nil {
		return 0
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		if vs.Member != nil && vs.Member.User != nil && vs.Member.User.Bot {
			continue
		}
		if m, err := s.State.Member(b.guildID, vs.UserID); err == nil && m.User != nil && m.User.Bot {
			continue
		}
		n++
	}
	return n
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// GuildID returns the target guild ID.
func (b *Bot) GuildID() string {
	return b.guildID
}

// Session returns the underlying discordgo session. Used by subsystems
// that need direct Discord API access (role changes, channel embeds).
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Permissions returns the permission checker.
func (b *Bot) Permissions() *PermissionChecker {
	return b.perms
}

// Ready reports whether the gateway session is usable.
func (b *Bot) Ready(context.Context) error {
	s := b.Session()
	if s == nil || !s.DataReady {
		return ErrNotReady
	}
	return nil
}

// Run registers slash commands with the Discord API and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered))
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close unregisters commands and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.session != nil && len(b.commands) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}

		slog.Info("discord bot closed")
	})
	return closeErr
}
