// Command verifybot runs the spoken-challenge voice verification bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shzanya/verificationBot/internal/app"
	"github.com/shzanya/verificationBot/internal/capture"
	"github.com/shzanya/verificationBot/internal/config"
	discordbot "github.com/shzanya/verificationBot/internal/discord"
	"github.com/shzanya/verificationBot/internal/discord/commands"
	"github.com/shzanya/verificationBot/internal/health"
	"github.com/shzanya/verificationBot/internal/observe"
	"github.com/shzanya/verificationBot/internal/playback"
	"github.com/shzanya/verificationBot/internal/quality"
	"github.com/shzanya/verificationBot/internal/report"
	"github.com/shzanya/verificationBot/internal/resilience"
	"github.com/shzanya/verificationBot/internal/results"
	"github.com/shzanya/verificationBot/pkg/audio/ffmpeg"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Configuration ─────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "verifybot: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "verifybot: %v\n", err)
		}
		return 1
	}
	applyEnv(cfg)
	if err := config.RequireDiscord(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "verifybot: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("verifybot starting",
		"version", version,
		"config", *configPath,
		"guild_id", cfg.Discord.GuildID,
		"voice_channel_id", cfg.Discord.VoiceChannelID,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Registerer:     promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Results store ─────────────────────────────────────────────────────────
	rawStore, err := config.NewDefaultRegistry().CreateStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open results store", "driver", cfg.Store.Driver, "err", err)
		return 1
	}
	store := results.NewGuard(rawStore)
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("results store close error", "err", err)
		}
	}()

	// ── Audio and analysis ────────────────────────────────────────────────────
	tools := ffmpeg.Tool{FFmpegPath: cfg.Analysis.FFmpegPath, FFprobePath: cfg.Analysis.FFprobePath}
	if !tools.Available() {
		slog.Warn("ffmpeg not found; prompts will not play and analysis falls back to size estimates")
	}
	artifacts, err := capture.NewArtifactWriter(cfg.Verification.RecordingDir)
	if err != nil {
		slog.Error("failed to prepare recording directory", "err", err)
		return 1
	}
	analyzer := quality.New(analyzerConfig(cfg.Analysis),
		quality.WithToolchain(tools),
		quality.WithMetrics(metrics),
		quality.WithTempDir(cfg.Verification.RecordingDir),
	)
	player := playback.New(tools,
		playback.WithTimeout(cfg.Verification.PlaybackTimeout),
		playback.WithMetrics(metrics),
	)

	// ── Discord ───────────────────────────────────────────────────────────────
	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:           cfg.Discord.Token,
		GuildID:         cfg.Discord.GuildID,
		ModeratorRoleID: cfg.Discord.ModeratorRoleID,
	})
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}
	defer func() {
		if err := bot.Close(); err != nil {
			slog.Warn("discord bot close error", "err", err)
		}
	}()

	reporters := report.Multi{report.LogReporter{Logger: slog.Default()}}
	if cfg.Discord.TextChannelID != "" {
		reporters = append(reporters, discordbot.NewEmbedReporter(bot.Session(), cfg.Discord.TextChannelID))
	}

	// ── Application ───────────────────────────────────────────────────────────
	application := app.New(app.ConfigFrom(cfg), app.Deps{
		Platform:  bot.Platform(),
		Presence:  bot,
		Analyzer:  analyzer,
		Artifacts: artifacts,
		Player:    player,
		Roles:     discordbot.NewRoleDirectory(bot.Session(), cfg.Discord.GuildID),
		Reporter:  reporters,
		Store:     store,
		Metrics:   metrics,
	})
	commands.NewVerifyCommands(bot.Router(), application, bot.Permissions())
	bot.OnVoiceState(application.HandleVoiceState)

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyEnv(old)
		applyEnv(new)
		onReload(&level, application, old, new)
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(bot.Run(gctx)) })
	g.Go(func() error { return application.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	if cfg.Server.ListenAddr != "" {
		hh := health.New(
			health.Ready("discord", bot),
			health.Ping("store", store),
		)
		hh.Count("active_sessions", func() int { return len(application.Sessions()) })
		hh.Count("active_captures", func() int { return len(application.Captures()) })
		srv := newHTTPServer(cfg.Server.ListenAddr, hh, promReg, metrics)
		g.Go(func() error { return serveHTTP(gctx, srv) })
	}

	slog.Info("verifybot ready, press Ctrl+C to shut down")
	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyEnv fills settings that may come from the environment.
func applyEnv(cfg *config.Config) {
	if cfg.Discord.Token == "" {
		cfg.Discord.Token = os.Getenv("DISCORD_TOKEN")
	}
}

// onReload applies the parts of a new config that take effect live.
func onReload(level *slog.LevelVar, application *app.App, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.StepsChanged || d.KickChanged {
		application.SetPlan(app.PlanFrom(new))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to apply", "fields", d.RestartRequired)
	}
}

func analyzerConfig(a config.AnalysisConfig) quality.Config {
	return quality.Config{
		MinFileBytes:         a.MinFileBytes,
		ShortAnswerThreshold: a.ShortAnswerThreshold,
		AttemptTimeout:       a.DecodeTimeout,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  a.CircuitBreaker.MaxFailures,
			ResetTimeout: a.CircuitBreaker.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("analysis method circuit changed", "method", name, "from", from, "to", to)
			},
		},
	}
}

func newHTTPServer(addr string, hh *health.Handler, reg *prometheus.Registry, m *observe.Metrics) *http.Server {
	mux := http.NewServeMux()
	hh.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        verifybot — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Guild", cfg.Discord.GuildID)
	printRow("Voice channel", cfg.Discord.VoiceChannelID)
	printRow("Report channel", orNone(cfg.Discord.TextChannelID))
	printRow("Verified role", cfg.Discord.VerifiedRoleID)
	printRow("Unverified role", orNone(cfg.Discord.UnverifiedRoleID))
	printRow("Steps", fmt.Sprintf("%d (%s)", len(cfg.Verification.Steps), cfg.Verification.TotalDuration()))
	printRow("Kick after", fmt.Sprint(cfg.Discord.KickAfterVerification))
	printRow("Store", string(cfg.Store.Driver))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
