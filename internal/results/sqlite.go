package results

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteSchema is applied by [OpenSQLite]. Times are unix milliseconds.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS verification_steps (
	session_id     TEXT    NOT NULL,
	participant_id TEXT    NOT NULL,
	guild_id       TEXT    NOT NULL DEFAULT '',
	step           INTEGER NOT NULL,
	prompt         TEXT    NOT NULL DEFAULT '',
	score          INTEGER NOT NULL,
	tier           TEXT    NOT NULL,
	method         TEXT    NOT NULL,
	duration_ms    INTEGER NOT NULL,
	rms            REAL    NOT NULL DEFAULT 0,
	file_size      INTEGER NOT NULL DEFAULT 0,
	recorded_at    INTEGER NOT NULL,
	PRIMARY KEY (session_id, step)
);
CREATE TABLE IF NOT EXISTS verification_outcomes (
	session_id     TEXT    PRIMARY KEY,
	participant_id TEXT    NOT NULL,
	guild_id       TEXT    NOT NULL DEFAULT '',
	status         TEXT    NOT NULL,
	reason         TEXT    NOT NULL DEFAULT '',
	steps          INTEGER NOT NULL,
	average_score  INTEGER NOT NULL,
	started_at     INTEGER NOT NULL,
	ended_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_participant ON verification_outcomes(participant_id, ended_at);
`

// SQLiteStore is a [Store] backed by a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. The parent directory is created. Use ":memory:" for a throwaway
// database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("results: create db dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("results: open sqlite: %w", err)
	}
	// One writer avoids SQLITE_BUSY between the flow goroutines.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("results: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("results: migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// RecordStep implements [Store]. Re-recording a step replaces it.
func (s *SQLiteStore) RecordStep(ctx context.Context, st Step) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO verification_steps (
			session_id, participant_id, guild_id, step, prompt, score, tier,
			method, duration_ms, rms, file_size, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.SessionID, st.ParticipantID, st.GuildID, st.Step, st.Prompt, st.Score, st.Tier,
		st.Method, st.Duration.Milliseconds(), st.RMS, st.FileSize, st.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("results: record step %d of %s: %w", st.Step, st.SessionID, err)
	}
	return nil
}

// RecordOutcome implements [Store]. Re-recording an outcome replaces it.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, o Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO verification_outcomes (
			session_id, participant_id, guild_id, status, reason, steps,
			average_score, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.SessionID, o.ParticipantID, o.GuildID, o.Status, o.Reason, o.Steps,
		o.AverageScore, o.StartedAt.UnixMilli(), o.EndedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("results: record outcome of %s: %w", o.SessionID, err)
	}
	return nil
}

// History implements [Store].
func (s *SQLiteStore) History(ctx context.Context, participantID string, limit int) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, participant_id, guild_id, status, reason, steps,
		       average_score, started_at, ended_at
		FROM verification_outcomes
		WHERE participant_id = ?
		ORDER BY ended_at DESC
		LIMIT ?`, participantID, historyLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("results: query history: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var (
			o              Outcome
			started, ended int64
		)
		if err := rows.Scan(&o.SessionID, &o.ParticipantID, &o.GuildID, &o.Status, &o.Reason,
			&o.Steps, &o.AverageScore, &started, &ended); err != nil {
			return nil, fmt.Errorf("results: scan outcome: %w", err)
		}
		o.StartedAt = time.UnixMilli(started)
		o.EndedAt = time.UnixMilli(ended)
		out = append(out, o)
	}
	return out, rows.Err()
}

// SessionSteps implements [Store].
func (s *SQLiteStore) SessionSteps(ctx context.Context, sessionID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, participant_id, guild_id, step, prompt, score, tier,
		       method, duration_ms, rms, file_size, recorded_at
		FROM verification_steps
		WHERE session_id = ?
		ORDER BY step ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("results: query steps: %w", err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var (
			st             Step
			durMS, atMilli int64
		)
		if err := rows.Scan(&st.SessionID, &st.ParticipantID, &st.GuildID, &st.Step, &st.Prompt,
			&st.Score, &st.Tier, &st.Method, &durMS, &st.RMS, &st.FileSize, &atMilli); err != nil {
			return nil, fmt.Errorf("results: scan step: %w", err)
		}
		st.Duration = time.Duration(durMS) * time.Millisecond
		st.RecordedAt = time.UnixMilli(atMilli)
		out = append(out, st)
	}
	return out, rows.Err()
}

// Ping implements [Store].
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [Store].
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
