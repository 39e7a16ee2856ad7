package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shzanya/verificationBot/internal/app"
	"github.com/shzanya/verificationBot/internal/config"
)

func loadDefaults() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestOnReload(t *testing.T) {
	t.Parallel()

	old := loadDefaults()
	updated := loadDefaults()
	updated.Server.LogLevel = config.LogDebug
	updated.Verification.Steps = []config.StepConfig{{Prompt: "Say hello.", Duration: 2 * time.Second}}

	var level slog.LevelVar
	application := app.New(app.ConfigFrom(old), app.Deps{})
	onReload(&level, application, old, updated)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	plan := application.Plan()
	if len(plan.Steps) != 1 || plan.Steps[0].Prompt != "Say hello." {
		t.Errorf("plan steps = %+v", plan.Steps)
	}
}

func TestOnReload_NoChange(t *testing.T) {
	t.Parallel()

	cfg := loadDefaults()
	var level slog.LevelVar
	level.Set(slog.LevelWarn)
	application := app.New(app.ConfigFrom(cfg), app.Deps{})
	onReload(&level, application, cfg, loadDefaults())

	if level.Level() != slog.LevelWarn {
		t.Errorf("level changed to %v without a config change", level.Level())
	}
}

func TestAnalyzerConfig(t *testing.T) {
	t.Parallel()

	qc := analyzerConfig(config.AnalysisConfig{
		DecodeTimeout:        7 * time.Second,
		MinFileBytes:         2048,
		ShortAnswerThreshold: 4 * time.Second,
		CircuitBreaker:       config.CircuitBreakerConfig{MaxFailures: 4, ResetTimeout: time.Minute},
	})
	if qc.AttemptTimeout != 7*time.Second || qc.MinFileBytes != 2048 || qc.ShortAnswerThreshold != 4*time.Second {
		t.Errorf("quality config = %+v", qc)
	}
	if qc.CircuitBreaker.MaxFailures != 4 || qc.CircuitBreaker.ResetTimeout != time.Minute {
		t.Errorf("breaker = %+v", qc.CircuitBreaker)
	}
	if qc.CircuitBreaker.OnStateChange == nil {
		t.Error("breaker transitions are not logged")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "from-env")

	cfg := &config.Config{}
	applyEnv(cfg)
	if cfg.Discord.Token != "from-env" {
		t.Errorf("token = %q, want from-env", cfg.Discord.Token)
	}

	cfg.Discord.Token = "from-file"
	applyEnv(cfg)
	if cfg.Discord.Token != "from-file" {
		t.Errorf("file token overridden: %q", cfg.Discord.Token)
	}
}
