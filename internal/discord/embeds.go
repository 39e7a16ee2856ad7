package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/shzanya/verificationBot/internal/report"
)

// Embed sidebar colours.
const (
	colorSuccess   = 0x00ff00
	colorError     = 0xff0000
	colorWarning   = 0xffa500
	colorInfo      = 0x0099ff
	colorRecording = 0x9932cc
)

// MessageAPI is the subset of *discordgo.Session used to post embeds.
type MessageAPI interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ MessageAPI = (*discordgo.Session)(nil)

var _ report.Reporter = (*EmbedReporter)(nil)

// EmbedReporter posts verification events to a text channel. Each session
// gets one progress embed that is created when the session starts and
// edited in place as steps begin; scores and outcomes are posted as new
// messages.
//
// Thread-safe for concurrent use.
type EmbedReporter struct {
	api       MessageAPI
	channelID string

	mu       sync.Mutex
	progress map[string]string // session ID → progress message ID
}

// NewEmbedReporter creates an EmbedReporter posting to channelID.
func NewEmbedReporter(api MessageAPI, channelID string) *EmbedReporter {
	return &EmbedReporter{
		api:       api,
		channelID: channelID,
		progress:  make(map[string]string),
	}
}

// Report implements [report.Reporter].
func (r *EmbedReporter) Report(ctx context.Context, e report.Event) {
	embed := BuildEmbed(e)
	if embed == nil {
		return
	}

	switch e.Kind {
	case report.SessionStarted, report.StepStarted:
		r.upsertProgress(ctx, e.SessionID, embed)
	default:
		if e.Kind == report.SessionCompleted || e.Kind == report.SessionFailed {
			r.mu.Lock()
			delete(r.progress, e.SessionID)
			r.mu.Unlock()
		}
		if _, err := r.api.ChannelMessageSendEmbed(r.channelID, embed, discordgo.WithContext(ctx)); err != nil {
			slog.Warn("discord: failed to post event embed", "event", e.Kind.String(), "channel", r.channelID, "err", err)
		}
	}
}

// upsertProgress creates the session's progress message or edits it. The
// lock is not held across API calls; events of one session arrive in order.
func (r *EmbedReporter) upsertProgress(ctx context.Context, sessionID string, embed *discordgo.MessageEmbed) {
	r.mu.Lock()
	id, ok := r.progress[sessionID]
	r.mu.Unlock()

	if ok {
		_, err := r.api.ChannelMessageEditEmbed(r.channelID, id, embed, discordgo.WithContext(ctx))
		if err == nil {
			return
		}
		slog.Warn("discord: failed to edit progress embed, posting a new one", "message_id", id, "err", err)
	}

	msg, err := r.api.ChannelMessageSendEmbed(r.channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		slog.Warn("discord: failed to create progress embed", "channel", r.channelID, "err", err)
		return
	}
	r.mu.Lock()
	r.progress[sessionID] = msg.ID
	r.mu.Unlock()
}

// BuildEmbed renders e. It returns nil for kinds that have no embed.
func BuildEmbed(e report.Event) *discordgo.MessageEmbed {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	embed := &discordgo.MessageEmbed{
		Timestamp: at.UTC().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: "ID: " + e.ParticipantID},
	}
	user := &discordgo.MessageEmbedField{Name: "👤 Member", Value: mention(e), Inline: true}
	progress := &discordgo.MessageEmbedField{
		Name:   "📊 Progress",
		Value:  fmt.Sprintf("`%d/%d` %s", e.Step+1, e.Steps, report.ProgressBar(e.Step+1, e.Steps, 10)),
		Inline: true,
	}

	switch e.Kind {
	case report.SessionStarted:
		embed.Title = "🎯 Verification started"
		embed.Color = colorInfo
		embed.Description = fmt.Sprintf("%s joined the verification channel.", mention(e))
		progress.Value = fmt.Sprintf("`0/%d` %s", e.Steps, report.ProgressBar(0, e.Steps, 10))
		embed.Fields = []*discordgo.MessageEmbedField{user, progress}

	case report.StepStarted:
		embed.Title = fmt.Sprintf("🎤 Question %d/%d", e.Step+1, e.Steps)
		embed.Color = colorRecording
		embed.Description = quote(e.Prompt)
		embed.Fields = []*discordgo.MessageEmbedField{
			user,
			progress,
			{Name: "⏰ Timer", Value: fmt.Sprintf("```🔴 %s```", e.Expected.Round(time.Second)), Inline: true},
		}

	case report.StepScored:
		embed.Title = fmt.Sprintf("✅ Answer %d/%d recorded", e.Step+1, e.Steps)
		embed.Color = colorSuccess
		if a := e.Assessment; a != nil {
			embed.Color = a.Score.Tier.Color()
			embed.Fields = []*discordgo.MessageEmbedField{
				{
					Name: "📈 Analysis",
					Value: fmt.Sprintf("%s **%d/100** %s\nDuration `%.1fs` of `%s`\nVolume %s\nSize `%.1f KB` • `%s`",
						a.Score.Tier.Emoji(), a.Score.Value, report.ScoreBar(a.Score.Value),
						a.Result.Duration.Seconds(), e.Expected.Round(time.Second),
						a.Score.Loudness, a.Result.FileSizeKB(), a.Result.Method),
				},
				progress,
			}
		} else {
			embed.Fields = []*discordgo.MessageEmbedField{progress}
		}

	case report.SessionCompleted:
		sum := report.Summarize(e.Records)
		embed.Title = "🎉 Verification complete"
		embed.Color = colorSuccess
		embed.Description = fmt.Sprintf("%s passed verification in %s.", mention(e), e.Elapsed.Round(time.Second))
		embed.Fields = []*discordgo.MessageEmbedField{
			user,
			{
				Name:   "📊 Statistics",
				Value:  fmt.Sprintf("Answers: `%d`\nAverage: %s **%d/100**\nSpoken: `%.1fs`", sum.Steps, sum.Worst.Emoji(), sum.AverageScore, sum.Total.Seconds()),
				Inline: true,
			},
		}
		if lines := recordLines(e); lines != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "📝 Answers", Value: lines})
		}

	case report.SessionFailed:
		embed.Title = "🚨 Verification failed"
		embed.Color = colorError
		detail := e.Reason
		if e.Err != nil {
			detail = fmt.Sprintf("%s: %v", e.Reason, e.Err)
		}
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "❌ Details", Value: "```" + truncate(detail, 1000) + "```"},
			user,
		}
		if e.Steps > 0 {
			embed.Fields = append(embed.Fields, progress)
		}

	case report.ManualActionRequired:
		embed.Title = "⚠️ Manual action required"
		embed.Color = colorWarning
		embed.Description = fmt.Sprintf("%s: %s", mention(e), e.Reason)

	default:
		return nil
	}
	return embed
}

func mention(e report.Event) string {
	if e.ParticipantID == "" {
		return e.ParticipantName
	}
	return "<@" + e.ParticipantID + ">"
}

func quote(s string) string {
	if s == "" {
		return ""
	}
	return "> " + strings.ReplaceAll(s, "\n", "\n> ")
}

func recordLines(e report.Event) string {
	var b strings.Builder
	for _, r := range e.Records {
		fmt.Fprintf(&b, "%d. %s `%d` • `%.1fs` • %s\n", r.Step+1, tierEmoji(r.Tier), r.Score, r.Duration.Seconds(), r.Method)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func tierEmoji(name string) string {
	switch name {
	case "green":
		return "🟢"
	case "yellow":
		return "🟡"
	case "orange":
		return "🟠"
	default:
		return "🔴"
	}
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
