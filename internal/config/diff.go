package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// StepsChanged is true when the prompt sequence, the completion prompt
	// or the step timing changed. Sessions started afterwards use the new
	// values; running sessions keep theirs.
	StepsChanged bool

	// KickChanged is true when discord.kick_after_verification flipped.
	KickChanged bool

	// RestartRequired lists the changed keys that only take effect after a
	// restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.StepsChanged && !d.KickChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ov, nv := old.Verification, new.Verification
	if !slices.Equal(ov.Steps, nv.Steps) ||
		ov.CompletionAudio != nv.CompletionAudio ||
		ov.StepPause != nv.StepPause ||
		ov.PlaybackTimeout != nv.PlaybackTimeout ||
		ov.CaptureSlack != nv.CaptureSlack ||
		ov.KeepRecordings != nv.KeepRecordings {
		d.StepsChanged = true
	}

	d.KickChanged = old.Discord.KickAfterVerification != new.Discord.KickAfterVerification

	restart := func(key string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr)
	restart("discord.token", old.Discord.Token, new.Discord.Token)
	restart("discord.guild_id", old.Discord.GuildID, new.Discord.GuildID)
	restart("discord.voice_channel_id", old.Discord.VoiceChannelID, new.Discord.VoiceChannelID)
	restart("discord.text_channel_id", old.Discord.TextChannelID, new.Discord.TextChannelID)
	restart("discord.verified_role_id", old.Discord.VerifiedRoleID, new.Discord.VerifiedRoleID)
	restart("discord.unverified_role_id", old.Discord.UnverifiedRoleID, new.Discord.UnverifiedRoleID)
	restart("discord.moderator_role_id", old.Discord.ModeratorRoleID, new.Discord.ModeratorRoleID)
	restart("verification.recording_dir", ov.RecordingDir, nv.RecordingDir)
	restart("analysis", old.Analysis, new.Analysis)
	restart("store", old.Store, new.Store)
	restart("telemetry", old.Telemetry, new.Telemetry)

	return d
}
