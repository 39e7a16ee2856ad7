// Command audiocheck scores recordings offline with the same analyzer the
// bot uses, e.g. to tune thresholds against saved answers.
//
//	audiocheck -expected 6s recordings/*.wav
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shzanya/verificationBot/internal/config"
	"github.com/shzanya/verificationBot/internal/quality"
	"github.com/shzanya/verificationBot/pkg/audio/ffmpeg"
)

func main() {
	os.Exit(run())
}

func run() int {
	expected := flag.Duration("expected", 6*time.Second, "expected answer length")
	configPath := flag.String("config", "", "optional config file to take analysis settings from")
	minScore := flag.Int("min", 0, "exit with status 2 if any file scores below this")
	verbose := flag.Bool("v", false, "log analysis details")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: audiocheck [-expected 6s] [-config config.yaml] [-min 50] file...")
		return 1
	}

	analysis := config.AnalysisConfig{}
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "audiocheck: %v\n", err)
			return 1
		}
		analysis = cfg.Analysis
	}

	tools := ffmpeg.Tool{FFmpegPath: analysis.FFmpegPath, FFprobePath: analysis.FFprobePath}
	if !tools.Available() {
		fmt.Fprintln(os.Stderr, renderWarning("ffmpeg not found, scores are size estimates"))
	}
	analyzer := quality.New(quality.Config{
		MinFileBytes:         analysis.MinFileBytes,
		ShortAnswerThreshold: analysis.ShortAnswerThreshold,
		AttemptTimeout:       analysis.DecodeTimeout,
	}, quality.WithToolchain(tools))

	ctx := context.Background()
	status := 0
	for _, path := range flag.Args() {
		a := analyzer.Assess(ctx, path, *expected)
		fmt.Println(renderReport(path, *expected, a))
		if a.Score.Value < *minScore {
			status = 2
		}
		if errors.Is(a.Result.Reason, quality.ErrArtifactMissing) {
			status = max(status, 1)
		}
	}
	return status
}
