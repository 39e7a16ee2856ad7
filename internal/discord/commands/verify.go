// Package commands implements the bot's Discord slash command handlers.
package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/shzanya/verificationBot/internal/capture"
	"github.com/shzanya/verificationBot/internal/discord"
	"github.com/shzanya/verificationBot/internal/report"
	"github.com/shzanya/verificationBot/internal/results"
	"github.com/shzanya/verificationBot/internal/verification"
)

// Controller is the view of the running bot the /verify commands need.
type Controller interface {
	// Sessions returns snapshots of the sessions that are currently held.
	Sessions() []verification.Info

	// Captures returns the status of every running capture.
	Captures() []capture.Status

	// Cancel cleans up the participant's session. It reports whether one
	// was held.
	Cancel(participantID string) bool

	// History returns the participant's most recent outcomes, newest first.
	History(ctx context.Context, participantID string, limit int) ([]results.Outcome, error)
}

// historyTimeout bounds the results store lookup behind /verify history.
const historyTimeout = 10 * time.Second

// VerifyCommands holds the dependencies for /verify slash commands.
type VerifyCommands struct {
	ctrl  Controller
	perms *discord.PermissionChecker
	now   func() time.Time
}

// NewVerifyCommands creates a VerifyCommands and registers its handlers with
// router.
func NewVerifyCommands(router *discord.CommandRouter, ctrl Controller, perms *discord.PermissionChecker) *VerifyCommands {
	vc := &VerifyCommands{ctrl: ctrl, perms: perms, now: time.Now}
	vc.Register(router)
	return vc
}

// Register registers the /verify command group with the router.
func (vc *VerifyCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("verify", vc.Definition(), func(r discord.Responder, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(r, i, "Please use a subcommand: `/verify status`, `/verify cancel` or `/verify history`.")
	})
	router.RegisterHandler("verify/status", vc.handleStatus)
	router.RegisterHandler("verify/cancel", vc.handleCancel)
	router.RegisterHandler("verify/history", vc.handleHistory)
}

// Definition returns the ApplicationCommand definition for Discord.
func (vc *VerifyCommands) Definition() *discordgo.ApplicationCommand {
	userOpt := func(desc string, required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        "user",
			Description: desc,
			Required:    required,
		}
	}
	return &discordgo.ApplicationCommand{
		Name:        "verify",
		Description: "Voice verification",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show running verifications and recordings",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "cancel",
				Description: "Cancel a member's verification",
				Options:     []*discordgo.ApplicationCommandOption{userOpt("Member whose verification to cancel", true)},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "history",
				Description: "Show past verification results",
				Options:     []*discordgo.ApplicationCommandOption{userOpt("Member to look up (default: you)", false)},
			},
		},
	}
}

// handleStatus handles /verify status.
func (vc *VerifyCommands) handleStatus(r discord.Responder, i *discordgo.InteractionCreate) {
	discord.RespondEmbed(r, i, vc.statusEmbed())
}

func (vc *VerifyCommands) statusEmbed() *discordgo.MessageEmbed {
	now := vc.now()
	sessions := vc.ctrl.Sessions()
	captures := vc.ctrl.Captures()

	embed := &discordgo.MessageEmbed{
		Title:     "📊 Verification status",
		Color:     0x0099ff,
		Timestamp: now.UTC().Format(time.RFC3339),
	}

	var b strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&b, "<@%s> `%d/%d` %s • %s • `%s`\n",
			s.ParticipantID, s.Step+1, s.Steps, report.ProgressBar(len(s.Records), s.Steps, 10),
			s.Status, s.Elapsed(now).Round(time.Second))
	}
	sessionsValue := strings.TrimSuffix(b.String(), "\n")
	if sessionsValue == "" {
		sessionsValue = "No active verifications."
	}

	b.Reset()
	for _, c := range captures {
		fmt.Fprintf(&b, "`%s` %.1fs / %s • %s\n",
			c.Key, c.Elapsed.Seconds(), c.Expected.Round(time.Second), c.State)
	}
	capturesValue := strings.TrimSuffix(b.String(), "\n")
	if capturesValue == "" {
		capturesValue = "No active recordings."
	}

	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: fmt.Sprintf("🎯 Sessions (%d)", len(sessions)), Value: sessionsValue},
		{Name: fmt.Sprintf("🔴 Recordings (%d)", len(captures)), Value: capturesValue},
	}
	return embed
}

// handleCancel handles /verify cancel user:<member>.
func (vc *VerifyCommands) handleCancel(r discord.Responder, i *discordgo.InteractionCreate) {
	if !vc.perms.IsModerator(i) {
		discord.RespondEphemeral(r, i, "You need the moderator role to cancel verifications.")
		return
	}
	userID := userOption(i)
	if userID == "" {
		discord.RespondEphemeral(r, i, "Please pick a member.")
		return
	}
	if !vc.ctrl.Cancel(userID) {
		discord.RespondEphemeral(r, i, fmt.Sprintf("<@%s> has no active verification.", userID))
		return
	}
	discord.RespondEphemeral(r, i, fmt.Sprintf("Verification of <@%s> cancelled.", userID))
}

// handleHistory handles /verify history [user:<member>].
func (vc *VerifyCommands) handleHistory(r discord.Responder, i *discordgo.InteractionCreate) {
	caller := discord.InteractionUserID(i)
	userID := userOption(i)
	if userID == "" {
		userID = caller
	}
	if userID != caller && !vc.perms.IsModerator(i) {
		discord.RespondEphemeral(r, i, "You can only look up your own history.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	outcomes, err := vc.ctrl.History(ctx, userID, results.DefaultHistoryLimit)
	if err != nil {
		discord.RespondError(r, i, fmt.Errorf("commands: load history: %w", err))
		return
	}
	discord.RespondEmbed(r, i, historyEmbed(userID, outcomes))
}

func historyEmbed(userID string, outcomes []results.Outcome) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "📝 Verification history",
		Color:       0x0099ff,
		Description: fmt.Sprintf("<@%s>", userID),
	}
	if len(outcomes) == 0 {
		embed.Description += "\nNo recorded verifications."
		return embed
	}

	var b strings.Builder
	for _, o := range outcomes {
		fmt.Fprintf(&b, "%s <t:%d:R> • `%s` • %d answers • avg `%d/100` • `%s`",
			outcomeEmoji(o.Status), o.EndedAt.Unix(), o.Status, o.Steps, o.AverageScore,
			o.Elapsed().Round(time.Second))
		if o.Reason != "" {
			fmt.Fprintf(&b, "\n  ↳ %s", o.Reason)
		}
		b.WriteByte('\n')
	}
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: fmt.Sprintf("Last %d", len(outcomes)), Value: strings.TrimSuffix(b.String(), "\n")},
	}
	return embed
}

func outcomeEmoji(status string) string {
	switch status {
	case "completed":
		return "✅"
	case "cancelled":
		return "⏹️"
	default:
		return "❌"
	}
}

// userOption returns the ID of the "user" option, or "".
func userOption(i *discordgo.InteractionCreate) string {
	for _, opt := range discord.SubcommandOptions(i) {
		if opt.Name == "user" && opt.Type == discordgo.ApplicationCommandOptionUser {
			return opt.UserValue(nil).ID
		}
	}
	return ""
}
