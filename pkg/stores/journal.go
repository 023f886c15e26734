package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/vminit/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultJournalPath is the journal database location.
const DefaultJournalPath = "/var/lib/vminit/journal.db"

// RunStatus is the outcome of an agent run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
)

// Run is one agent invocation.
type Run struct {
	ID          string     `json:"id"`
	VMID        string     `json:"vm_id"`
	Status      RunStatus  `json:"status"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Attempt is one backend attempt within a run.
type Attempt struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Capability string    `json:"capability"`
	Backend    string    `json:"backend"`
	Succeeded  bool      `json:"succeeded"`
	Error      *string   `json:"error,omitempty"`
	Duration   int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// JournalConfig configures a Journal.
type JournalConfig struct {
	Path string
}

// Journal is a SQLite history of runs and backend attempts.
type Journal struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// NewJournal creates a journal. Call Init and Migrate before use.
func NewJournal(cfg JournalConfig, logger zerolog.Logger) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	return &Journal{
		path:   cfg.Path,
		logger: logger.With().Str("component", "journal").Logger(),
	}, nil
}

// Open creates, initializes and migrates a journal.
func Open(ctx context.Context, cfg JournalConfig, logger zerolog.Logger) (*Journal, error) {
	j, err := NewJournal(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := j.Init(ctx); err != nil {
		return nil, err
	}
	if err := j.Migrate(ctx); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

// Init opens the database connection.
func (j *Journal) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", j.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}

	// The agent is single-threaded; one connection keeps pragmas consistent.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping journal: %w", err)
	}

	j.db = db
	return nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (j *Journal) Migrate(_ context.Context) error {
	if j.db == nil {
		return fmt.Errorf("journal not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(j.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// StartRun records the start of a run.
func (j *Journal) StartRun(ctx context.Context, vmID string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		VMID:      vmID,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, vm_id, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.VMID, run.Status, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// FinishRun records the outcome of a run.
func (j *Journal) FinishRun(ctx context.Context, id string, status RunStatus, runErr error) error {
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}

	result, err := j.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (j *Journal) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	err := j.db.QueryRowContext(ctx,
		`SELECT id, vm_id, status, error, started_at, completed_at FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.VMID, &run.Status, &run.Error, &run.StartedAt, &run.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs, newest first.
func (j *Journal) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, vm_id, status, error, started_at, completed_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(&run.ID, &run.VMID, &run.Status, &run.Error, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// RecordAttempt appends a backend attempt to a run.
func (j *Journal) RecordAttempt(ctx context.Context, runID string, capability engine.Capability, backend string, d time.Duration, attemptErr error) error {
	var errMsg *string
	if attemptErr != nil {
		msg := attemptErr.Error()
		errMsg = &msg
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO attempts (run_id, capability, backend, succeeded, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, string(capability), backend, attemptErr == nil, errMsg, d.Milliseconds(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// ListAttempts returns a run's attempts in the order they happened.
func (j *Journal) ListAttempts(ctx context.Context, runID string) ([]*Attempt, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, run_id, capability, backend, succeeded, error, duration_ms, created_at
		FROM attempts
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []*Attempt{}
	for rows.Next() {
		a := &Attempt{}
		if err := rows.Scan(&a.ID, &a.RunID, &a.Capability, &a.Backend, &a.Succeeded, &a.Error, &a.Duration, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}
	return attempts, nil
}

// HealthCheck verifies the database is reachable.
func (j *Journal) HealthCheck(ctx context.Context) error {
	if j.db == nil {
		return fmt.Errorf("journal not initialized")
	}
	return j.db.PingContext(ctx)
}

// Observer returns an engine.Observer that records attempts for runID. Write failures are
// logged and never interrupt provisioning.
func (j *Journal) Observer(ctx context.Context, runID string) engine.Observer {
	return &journalObserver{ctx: ctx, journal: j, runID: runID}
}

type journalObserver struct {
	ctx     context.Context
	journal *Journal
	runID   string
}

func (o *journalObserver) BackendAttempt(capability engine.Capability, backend string, d time.Duration, err error) {
	if recErr := o.journal.RecordAttempt(o.ctx, o.runID, capability, backend, d, err); recErr != nil {
		o.journal.logger.Warn().Err(recErr).Str("backend", backend).Msg("Failed to journal backend attempt")
	}
}
