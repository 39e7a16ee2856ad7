package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultStepPause       = 3 * time.Second
	DefaultPlaybackTimeout = 30 * time.Second
	DefaultCaptureSlack    = 5 * time.Second
	DefaultRecordingDir    = "recordings"
	DefaultDecodeTimeout   = 15 * time.Second
	DefaultMinFileBytes    = 1024
	DefaultShortAnswer     = 3 * time.Second
	DefaultSQLitePath      = "data/verifybot.db"
	DefaultServiceName     = "verifybot"
)

// DefaultSteps is the prompt sequence used when none is configured.
var DefaultSteps = []StepConfig{
	{Prompt: "How old are you?", AudioFile: "assets/audio/question_1.mp3", Duration: 3 * time.Second},
	{Prompt: "Say: I want to get access to the server.", AudioFile: "assets/audio/question_2.mp3", Duration: 6 * time.Second},
}

// DefaultCompletionAudio is played after a successful verification.
const DefaultCompletionAudio = "assets/audio/completion.mp3"

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	v := &cfg.Verification
	if len(v.Steps) == 0 {
		v.Steps = append([]StepConfig(nil), DefaultSteps...)
		if v.CompletionAudio == "" {
			v.CompletionAudio = DefaultCompletionAudio
		}
	}
	if v.StepPause == 0 {
		v.StepPause = DefaultStepPause
	}
	if v.PlaybackTimeout == 0 {
		v.PlaybackTimeout = DefaultPlaybackTimeout
	}
	if v.CaptureSlack == 0 {
		v.CaptureSlack = DefaultCaptureSlack
	}
	if v.RecordingDir == "" {
		v.RecordingDir = DefaultRecordingDir
	}

	a := &cfg.Analysis
	if a.DecodeTimeout == 0 {
		a.DecodeTimeout = DefaultDecodeTimeout
	}
	if a.MinFileBytes == 0 {
		a.MinFileBytes = DefaultMinFileBytes
	}
	if a.ShortAnswerThreshold == 0 {
		a.ShortAnswerThreshold = DefaultShortAnswer
	}
	if a.CircuitBreaker.MaxFailures == 0 {
		a.CircuitBreaker.MaxFailures = 3
	}
	if a.CircuitBreaker.ResetTimeout == 0 {
		a.CircuitBreaker.ResetTimeout = time.Minute
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreSQLite
	}
	if cfg.Store.Driver == StoreSQLite && cfg.Store.DSN == "" {
		cfg.Store.DSN = DefaultSQLitePath
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Discord.TextChannelID == "" {
		slog.Warn("discord.text_channel_id is empty; verification events will only be logged")
	}
	if cfg.Discord.UnverifiedRoleID != "" && cfg.Discord.UnverifiedRoleID == cfg.Discord.VerifiedRoleID {
		errs = append(errs, errors.New("discord.unverified_role_id must differ from discord.verified_role_id"))
	}

	v := cfg.Verification
	for i, s := range v.Steps {
		prefix := fmt.Sprintf("verification.steps[%d]", i)
		if s.Duration <= 0 {
			errs = append(errs, fmt.Errorf("%s.duration must be positive, got %s", prefix, s.Duration))
		}
		if s.Prompt == "" {
			errs = append(errs, fmt.Errorf("%s.prompt is required", prefix))
		}
		warnMissingFile(prefix+".audio_file", s.AudioFile)
	}
	warnMissingFile("verification.completion_audio", v.CompletionAudio)
	if v.StepPause < 0 {
		errs = append(errs, fmt.Errorf("verification.step_pause must not be negative, got %s", v.StepPause))
	}
	if v.PlaybackTimeout < 0 {
		errs = append(errs, fmt.Errorf("verification.playback_timeout must not be negative, got %s", v.PlaybackTimeout))
	}
	if v.CaptureSlack < 0 {
		errs = append(errs, fmt.Errorf("verification.capture_slack must not be negative, got %s", v.CaptureSlack))
	}

	a := cfg.Analysis
	if a.DecodeTimeout < 0 {
		errs = append(errs, fmt.Errorf("analysis.decode_timeout must not be negative, got %s", a.DecodeTimeout))
	}
	if a.MinFileBytes < 0 {
		errs = append(errs, fmt.Errorf("analysis.min_file_bytes must not be negative, got %d", a.MinFileBytes))
	}
	if a.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("analysis.circuit_breaker.max_failures must not be negative, got %d", a.CircuitBreaker.MaxFailures))
	}

	switch cfg.Store.Driver {
	case "", StoreSQLite:
	case StorePostgres:
		if cfg.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required when store.driver is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: sqlite, postgres", cfg.Store.Driver))
	}

	return errors.Join(errs...)
}

// RequireDiscord reports the Discord settings the bot cannot run without.
func RequireDiscord(cfg *Config) error {
	var errs []error
	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required (or set DISCORD_TOKEN)"))
	}
	if cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required"))
	}
	if cfg.Discord.VoiceChannelID == "" {
		errs = append(errs, errors.New("discord.voice_channel_id is required"))
	}
	if cfg.Discord.VerifiedRoleID == "" {
		errs = append(errs, errors.New("discord.verified_role_id is required"))
	}
	return errors.Join(errs...)
}

// warnMissingFile logs a warning when a configured audio file does not
// exist. Playing it fails at runtime without stopping the flow.
func warnMissingFile(key, path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		slog.Warn("audio file not found; its playback will fail", "key", key, "path", path)
	}
}
