// Package history implements the Run History Store (§4.11): persists one
// row per run and one row per state-machine step transition to Postgres,
// written asynchronously off the hot path via Recorder.
package history

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// defaultMaxRuns bounds the history table so long-lived deployments don't grow the
// database unbounded (§4.11 "pruning by configurable cap").
const defaultMaxRuns = 1000

// Store persists run/step history to PostgreSQL.
type Store struct {
	db      *sql.DB
	maxRuns int
}

// Open connects to connStr and applies pending migrations. maxRuns <= 0
// uses defaultMaxRuns.
func Open(connStr string, maxRuns int) (*Store, error) {
	if maxRuns <= 0 {
		maxRuns = defaultMaxRuns
	}
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("history open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history ping: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("history migrate: %w", err)
	}
	return &Store{db: db, maxRuns: maxRuns}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "pgx", dbDriver)
	if err != nil {
		return fmt.Errorf("migration init: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run row.
func (s *Store) CreateRun(id, requestID, pipelineMode string) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, request_id, pipeline_mode, status, started_at) VALUES ($1, $2, $3, 'running', $4)`,
		id, requestID, pipelineMode, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC LIMIT $1)`,
		s.maxRuns,
	)
	return err
}

// FinishRun sets a run's terminal fields (§4.10 completed/failed/cancelled).
func (s *Store) FinishRun(id string, durationMs float64, status, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE runs SET ended_at = $1, duration_ms = $2, status = $3, error = $4 WHERE id = $5`,
		time.Now().UTC(), durationMs, status, errMsg, id,
	)
	return err
}

// RecordStep inserts one state-machine step transition.
func (s *Store) RecordStep(step StepRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO steps (id, run_id, step, started_at, duration_ms, status, detail, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		step.ID, step.RunID, step.Step, step.StartedAt.UTC(), step.DurationMs, step.Status, step.Detail, step.Error,
	)
	return err
}

// GetRun returns one run with its ordered steps.
func (s *Store) GetRun(id string) (*RunRecord, []StepRecord, error) {
	var r RunRecord
	var endedAt sql.NullTime
	var durationMs sql.NullFloat64
	var errMsg sql.NullString
	err := s.db.QueryRow(
		`SELECT id, request_id, pipeline_mode, status, started_at, ended_at, duration_ms, error FROM runs WHERE id = $1`,
		id,
	).Scan(&r.ID, &r.RequestID, &r.PipelineMode, &r.Status, &r.StartedAt, &endedAt, &durationMs, &errMsg)
	if err != nil {
		return nil, nil, err
	}
	if endedAt.Valid {
		r.EndedAt = &endedAt.Time
	}
	r.DurationMs = durationMs.Float64
	r.Error = errMsg.String

	rows, err := s.db.Query(
		`SELECT id, run_id, step, started_at, duration_ms, status, detail, error FROM steps WHERE run_id = $1 ORDER BY started_at ASC`,
		id,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var st StepRecord
		var durMs sql.NullFloat64
		var detail, stErr sql.NullString
		if err := rows.Scan(&st.ID, &st.RunID, &st.Step, &st.StartedAt, &durMs, &st.Status, &detail, &stErr); err != nil {
			return nil, nil, err
		}
		st.DurationMs = durMs.Float64
		st.Detail = detail.String
		st.Error = stErr.String
		steps = append(steps, st)
	}
	return &r, steps, rows.Err()
}

// ListRuns returns runs newest-first, paginated.
func (s *Store) ListRuns(limit, offset int) ([]RunRecord, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(
		`SELECT id, request_id, pipeline_mode, status, started_at, ended_at, duration_ms, error
		 FROM runs ORDER BY started_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var endedAt sql.NullTime
		var durationMs sql.NullFloat64
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.RequestID, &r.PipelineMode, &r.Status, &r.StartedAt, &endedAt, &durationMs, &errMsg); err != nil {
			return nil, 0, err
		}
		if endedAt.Valid {
			r.EndedAt = &endedAt.Time
		}
		r.DurationMs = durationMs.Float64
		r.Error = errMsg.String
		runs = append(runs, r)
	}
	return runs, total, rows.Err()
}
