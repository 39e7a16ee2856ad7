package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/shzanya/verificationBot/internal/quality"
	"github.com/shzanya/verificationBot/internal/report"
)

var (
	colorGray   = lipgloss.Color("#666666")
	colorCyan   = lipgloss.Color("#00FFFF")
	colorYellow = lipgloss.Color("#FFFF00")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			Width(10)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	warnStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Bold(true)
)

func tierColor(t quality.Tier) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%06x", t.Color()))
}

// renderReport draws one file's assessment as a bordered box tinted by its
// tier.
func renderReport(path string, expected time.Duration, a quality.Assessment) string {
	r, s := a.Result, a.Score
	score := lipgloss.NewStyle().Bold(true).Foreground(tierColor(s.Tier)).
		Render(fmt.Sprintf("%s %d/100", s.Tier.Emoji(), s.Value))

	rows := [][2]string{
		{"score", score + "  " + report.ScoreBar(s.Value)},
		{"method", string(r.Method)},
		{"duration", fmt.Sprintf("%.2fs of %s", r.Duration.Seconds(), expected)},
		{"loudness", s.Loudness.String()},
		{"size", fmt.Sprintf("%.1f KB", r.FileSizeKB())},
	}
	if r.Method.Measured() {
		rows = append(rows, [2]string{"format", fmt.Sprintf("%d Hz, %d ch, %d-bit", r.SampleRate, r.Channels, r.SampleWidth*8)})
		rows = append(rows, [2]string{"parts", fmt.Sprintf("dur %.2f  vol %.2f  size %.2f", s.DurationScore, s.VolumeScore, s.SizeScore)})
	}
	if s.Short {
		rows = append(rows, [2]string{"band", "short answer"})
	}
	if r.Reason != nil {
		rows = append(rows, [2]string{"note", r.Reason.Error()})
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, titleStyle.Render(filepath.Base(path)))
	for _, row := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(row[0]), row[1]))
	}
	return boxStyle.BorderForeground(tierColor(s.Tier)).Render(strings.Join(lines, "\n"))
}

func renderWarning(msg string) string {
	return warnStyle.Render("⚠ " + msg)
}
