package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Artifact is one track written to disk.
type Artifact struct {
	ParticipantID string
	Path          string
	Size          int64
	WrittenAt     time.Time
}

// SizeKB returns the file size in KiB.
func (a Artifact) SizeKB() float64 {
	return float64(a.Size) / 1024
}

// ArtifactWriter persists recordings under a directory.
type ArtifactWriter struct {
	Dir string

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewArtifactWriter creates dir if needed.
func NewArtifactWriter(dir string) (*ArtifactWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture: create recording dir: %w", err)
	}
	return &ArtifactWriter{Dir: dir, Now: time.Now}, nil
}

// Write saves every track of rec concurrently. names maps participant ID to
// a display name for the file name; missing entries fall back to the ID.
// Tracks that were written are returned even when another track failed.
func (w *ArtifactWriter) Write(ctx context.Context, rec Recording, step int, names map[string]string) ([]Artifact, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	stamp := now().UTC().Format("150405")

	var (
		mu  sync.Mutex
		out []Artifact
	)
	g, ctx := errgroup.WithContext(ctx)
	for id, data := range rec.Tracks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := fmt.Sprintf("%s_%s_%d_%s.wav", SanitizeName(names[id]), id, step+1, stamp)
			path := filepath.Join(w.Dir, name)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("capture: write %s: %w", name, err)
			}
			mu.Lock()
			out = append(out, Artifact{ParticipantID: id, Path: path, Size: int64(len(data)), WrittenAt: now()})
			mu.Unlock()
			slog.Debug("capture: saved recording", "participant_id", id, "path", path, "kb", fmt.Sprintf("%.1f", float64(len(data))/1024))
			return nil
		})
	}
	err := g.Wait()
	return out, err
}

// WriteTrack saves the track of a single participant. ok is false when the
// recording holds no track for them.
func (w *ArtifactWriter) WriteTrack(ctx context.Context, rec Recording, participantID, displayName string, step int) (a Artifact, ok bool, err error) {
	data, found := rec.Track(participantID)
	if !found {
		return Artifact{}, false, nil
	}
	single := Recording{Format: rec.Format, Tracks: map[string][]byte{participantID: data}}
	arts, err := w.Write(ctx, single, step, map[string]string{participantID: displayName})
	if err != nil {
		return Artifact{}, false, err
	}
	return arts[0], true, nil
}

// Remove deletes a written artifact. A file that is already gone is not an
// error.
func (w *ArtifactWriter) Remove(a Artifact) error {
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("capture: remove %s: %w", filepath.Base(a.Path), err)
	}
	return nil
}

var (
	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	separators  = regexp.MustCompile(`[-\s]+`)
)

const maxNameLen = 32

// SanitizeName turns a display name into something safe for a file name:
// punctuation is dropped, runs of spaces and dashes become one underscore,
// and the result is capped at 32 runes. An empty result becomes "user".
func SanitizeName(name string) string {
	s := unsafeChars.ReplaceAllString(name, "")
	s = separators.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if r := []rune(s); len(r) > maxNameLen {
		s = strings.TrimRight(string(r[:maxNameLen]), "_")
	}
	if s == "" {
		return "user"
	}
	return s
}
