package results

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema is the DDL applied by [PostgresStore.Migrate].
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS verification_steps (
    session_id     TEXT        NOT NULL,
    participant_id TEXT        NOT NULL,
    guild_id       TEXT        NOT NULL DEFAULT '',
    step           INTEGER     NOT NULL,
    prompt         TEXT        NOT NULL DEFAULT '',
    score          INTEGER     NOT NULL,
    tier           TEXT        NOT NULL,
    method         TEXT        NOT NULL,
    duration_ms    BIGINT      NOT NULL,
    rms            DOUBLE PRECISION NOT NULL DEFAULT 0,
    file_size      BIGINT      NOT NULL DEFAULT 0,
    recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, step)
);
CREATE TABLE IF NOT EXISTS verification_outcomes (
    session_id     TEXT        PRIMARY KEY,
    participant_id TEXT        NOT NULL,
    guild_id       TEXT        NOT NULL DEFAULT '',
    status         TEXT        NOT NULL,
    reason         TEXT        NOT NULL DEFAULT '',
    steps          INTEGER     NOT NULL,
    average_score  INTEGER     NOT NULL,
    started_at     TIMESTAMPTZ NOT NULL,
    ended_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_participant ON verification_outcomes(participant_id, ended_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db    DB
	close func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection or pool. The caller keeps
// ownership of db; [PostgresStore.Close] does not close it.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pool to dsn and applies [PostgresSchema].
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("results: parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("results: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("results: ping postgres: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [PostgresSchema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("results: migrate postgres: %w", err)
	}
	return nil
}

// RecordStep implements [Store]. Re-recording a step replaces it.
func (s *PostgresStore) RecordStep(ctx context.Context, st Step) error {
	const query = `
		INSERT INTO verification_steps (
			session_id, participant_id, guild_id, step, prompt, score, tier,
			method, duration_ms, rms, file_size, recorded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (session_id, step) DO UPDATE SET
			score = EXCLUDED.score, tier = EXCLUDED.tier, method = EXCLUDED.method,
			duration_ms = EXCLUDED.duration_ms, rms = EXCLUDED.rms,
			file_size = EXCLUDED.file_size, recorded_at = EXCLUDED.recorded_at`

	_, err := s.db.Exec(ctx, query,
		st.SessionID, st.ParticipantID, st.GuildID, st.Step, st.Prompt, st.Score, st.Tier,
		st.Method, st.Duration.Milliseconds(), st.RMS, st.FileSize, st.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("results: record step %d of %s: %w", st.Step, st.SessionID, err)
	}
	return nil
}

// RecordOutcome implements [Store]. Re-recording an outcome replaces it.
func (s *PostgresStore) RecordOutcome(ctx context.Context, o Outcome) error {
	const query = `
		INSERT INTO verification_outcomes (
			session_id, participant_id, guild_id, status, reason, steps,
			average_score, started_at, ended_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status, reason = EXCLUDED.reason, steps = EXCLUDED.steps,
			average_score = EXCLUDED.average_score, ended_at = EXCLUDED.ended_at`

	_, err := s.db.Exec(ctx, query,
		o.SessionID, o.ParticipantID, o.GuildID, o.Status, o.Reason, o.Steps,
		o.AverageScore, o.StartedAt, o.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("results: record outcome of %s: %w", o.SessionID, err)
	}
	return nil
}

// History implements [Store].
func (s *PostgresStore) History(ctx context.Context, participantID string, limit int) ([]Outcome, error) {
	const query = `
		SELECT session_id, participant_id, guild_id, status, reason, steps,
		       average_score, started_at, ended_at
		FROM verification_outcomes
		WHERE participant_id = $1
		ORDER BY ended_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, participantID, historyLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("results: query history: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.SessionID, &o.ParticipantID, &o.GuildID, &o.Status, &o.Reason,
			&o.Steps, &o.AverageScore, &o.StartedAt, &o.EndedAt); err != nil {
			return nil, fmt.Errorf("results: scan outcome: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("results: iterate history: %w", err)
	}
	return out, nil
}

// SessionSteps implements [Store].
func (s *PostgresStore) SessionSteps(ctx context.Context, sessionID string) ([]Step, error) {
	const query = `
		SELECT session_id, participant_id, guild_id, step, prompt, score, tier,
		       method, duration_ms, rms, file_size, recorded_at
		FROM verification_steps
		WHERE session_id = $1
		ORDER BY step ASC`

	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("results: query steps: %w", err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var (
			st    Step
			durMS int64
		)
		if err := rows.Scan(&st.SessionID, &st.ParticipantID, &st.GuildID, &st.Step, &st.Prompt,
			&st.Score, &st.Tier, &st.Method, &durMS, &st.RMS, &st.FileSize, &st.RecordedAt); err != nil {
			return nil, fmt.Errorf("results: scan step: %w", err)
		}
		st.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("results: iterate steps: %w", err)
	}
	return out, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close implements [Store]. It closes the pool opened by [OpenPostgres].
func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
