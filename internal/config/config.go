// Package config provides the configuration schema, loader, watcher and
// store driver registry for the verification bot.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StoreDriver selects the results store backend.
type StoreDriver string

const (
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Discord      DiscordConfig      `yaml:"discord"`
	Verification VerificationConfig `yaml:"verification"`
	Analysis     AnalysisConfig     `yaml:"analysis"`
	Store        StoreConfig        `yaml:"store"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the address for /healthz, /readyz and /metrics
	// (e.g. ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel sets the minimum log level. Default: info.
	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig holds the bot token and the guild objects the bot works with.
type DiscordConfig struct {
	// Token is the bot token. When empty, the DISCORD_TOKEN environment
	// variable is used.
	Token string `yaml:"token"`

	GuildID string `yaml:"guild_id"`

	// VoiceChannelID is the channel whose joiners are verified.
	VoiceChannelID string `yaml:"voice_channel_id"`

	// TextChannelID receives the progress and result embeds. Empty disables
	// channel reporting.
	TextChannelID string `yaml:"text_channel_id"`

	VerifiedRoleID   string `yaml:"verified_role_id"`
	UnverifiedRoleID string `yaml:"unverified_role_id"`

	// ModeratorRoleID may run /verify cancel and look up other members'
	// history.
	ModeratorRoleID string `yaml:"moderator_role_id"`

	// KickAfterVerification disconnects the member from voice once they
	// have been verified.
	KickAfterVerification bool `yaml:"kick_after_verification"`
}

// StepConfig is one spoken prompt and its answer window.
type StepConfig struct {
	// Prompt is the question text shown in the channel embed.
	Prompt string `yaml:"prompt"`

	// AudioFile is played to the member before recording. Empty skips
	// playback.
	AudioFile string `yaml:"audio_file"`

	// Duration is how long the answer is recorded.
	Duration time.Duration `yaml:"duration"`
}

// VerificationConfig drives the step sequence.
type VerificationConfig struct {
	Steps []StepConfig `yaml:"steps"`

	// CompletionAudio is played after the role hand-off.
	CompletionAudio string `yaml:"completion_audio"`

	// StepPause is the grace pause between steps. Default: 3s.
	StepPause time.Duration `yaml:"step_pause"`

	// PlaybackTimeout bounds each prompt playback. Default: 30s.
	PlaybackTimeout time.Duration `yaml:"playback_timeout"`

	// CaptureSlack is added to the expected duration when waiting for a
	// capture to resolve. Default: 5s.
	CaptureSlack time.Duration `yaml:"capture_slack"`

	// RecordingDir is where answer recordings are written.
	// Default: "recordings".
	RecordingDir string `yaml:"recording_dir"`

	// KeepRecordings keeps answer files after they have been scored.
	KeepRecordings bool `yaml:"keep_recordings"`
}

// TotalDuration is the sum of all step durations.
func (v VerificationConfig) TotalDuration() time.Duration {
	var d time.Duration
	for _, s := range v.Steps {
		d += s.Duration
	}
	return d
}

// AnalysisConfig tunes the quality analyzer.
type AnalysisConfig struct {
	// FFmpegPath and FFprobePath override the binaries looked up on PATH.
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`

	// DecodeTimeout bounds each analysis method. Default: 15s.
	DecodeTimeout time.Duration `yaml:"decode_timeout"`

	// MinFileBytes is the smallest recording worth decoding. Default: 1024.
	MinFileBytes int64 `yaml:"min_file_bytes"`

	// ShortAnswerThreshold selects the short-answer scoring band.
	// Default: 3s.
	ShortAnswerThreshold time.Duration `yaml:"short_answer_threshold"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig guards each analysis method.
type CircuitBreakerConfig struct {
	// MaxFailures opens the breaker after that many consecutive failures.
	// Default: 3.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before probing again.
	// Default: 1m.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// StoreConfig selects and configures the results store.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver StoreDriver `yaml:"driver"`

	// DSN is a file path for sqlite or a connection string for postgres.
	// Default for sqlite: "data/verifybot.db".
	DSN string `yaml:"dsn"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	// ServiceName is reported as the OTel service.name. Default: "verifybot".
	ServiceName string `yaml:"service_name"`
}
