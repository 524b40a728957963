package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements HistoryStore using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// A CLI process needs very few connections.
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate&_time_format=sqlite", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
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

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Metadata == "" {
		run.Metadata = "{}"
	}

	query := `
		INSERT INTO runs (id, command, status, halted_module, error, started_at, completed_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Command,
		run.Status,
		run.HaltedModule,
		run.Error,
		run.StartedAt,
		run.CompletedAt,
		run.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, command, status, halted_module, error, started_at, completed_at, metadata
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Command,
		&run.Status,
		&run.HaltedModule,
		&run.Error,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Metadata,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// FinishRun stores the terminal status of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status RunStatus, haltedModule, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, halted_module = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, haltedModule, errMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
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

// ListRuns lists runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, command, status, halted_module, error, started_at, completed_at, metadata
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.Command,
			&run.Status,
			&run.HaltedModule,
			&run.Error,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// PruneRuns deletes runs started before olderThan together with their
// module results and events.
func (s *SQLiteStore) PruneRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// RecordModuleRun appends the result of a module.
func (s *SQLiteStore) RecordModuleRun(ctx context.Context, mr *ModuleRun) error {
	query := `
		INSERT INTO module_runs (run_id, module, ordinal, status, details, started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		mr.RunID,
		mr.Module,
		mr.Ordinal,
		mr.Status,
		mr.Details,
		mr.StartedAt,
		mr.CompletedAt,
		mr.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to record module run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get module run ID: %w", err)
	}

	mr.ID = id
	return nil
}

// ListModuleRuns returns the module results of a run in execution order.
func (s *SQLiteStore) ListModuleRuns(ctx context.Context, runID string) ([]*ModuleRun, error) {
	query := `
		SELECT id, run_id, module, ordinal, status, details, started_at, completed_at, duration_ms
		FROM module_runs
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list module runs: %w", err)
	}
	defer rows.Close()

	results := []*ModuleRun{}
	for rows.Next() {
		mr := &ModuleRun{}
		err := rows.Scan(
			&mr.ID,
			&mr.RunID,
			&mr.Module,
			&mr.Ordinal,
			&mr.Status,
			&mr.Details,
			&mr.StartedAt,
			&mr.CompletedAt,
			&mr.DurationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module run: %w", err)
		}
		results = append(results, mr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating module runs: %w", err)
	}

	return results, nil
}

// AppendEvent appends a new event to the event log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	query := `
		INSERT INTO events (run_id, module, type, level, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Module,
		event.Type,
		event.Level,
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events in the order they were appended.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, run_id, module, type, level, message, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, runID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Module,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// RecordVerification stores a verification summary and its check results
// in one transaction.
func (s *SQLiteStore) RecordVerification(ctx context.Context, v *Verification, checks []*CheckRecord) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.StartedAt.IsZero() {
		v.StartedAt = time.Now()
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO verifications (id, run_id, categories, total, passed, warned, failed, success_rate, overall, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		v.ID, v.RunID, v.Categories, v.Total, v.Passed, v.Warned, v.Failed, v.SuccessRate, v.Overall, v.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert verification: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO check_results (verification_id, position, category, name, message, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare check insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range checks {
		c.VerificationID = v.ID
		c.Position = i
		result, err := stmt.ExecContext(ctx, c.VerificationID, c.Position, c.Category, c.Name, c.Message, c.Status)
		if err != nil {
			return fmt.Errorf("failed to insert check result: %w", err)
		}
		if id, err := result.LastInsertId(); err == nil {
			c.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit verification: %w", err)
	}
	return nil
}

// ListVerifications returns the most recent verification passes.
func (s *SQLiteStore) ListVerifications(ctx context.Context, limit int) ([]*Verification, error) {
	query := `
		SELECT id, run_id, categories, total, passed, warned, failed, success_rate, overall, started_at
		FROM verifications
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list verifications: %w", err)
	}
	defer rows.Close()

	out := []*Verification{}
	for rows.Next() {
		v := &Verification{}
		err := rows.Scan(
			&v.ID, &v.RunID, &v.Categories, &v.Total, &v.Passed, &v.Warned,
			&v.Failed, &v.SuccessRate, &v.Overall, &v.StartedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		out = append(out, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating verifications: %w", err)
	}

	return out, nil
}

// ListCheckRecords returns the checks of a verification in recorded order.
func (s *SQLiteStore) ListCheckRecords(ctx context.Context, verificationID string) ([]*CheckRecord, error) {
	query := `
		SELECT id, verification_id, position, category, name, message, status
		FROM check_results
		WHERE verification_id = ?
		ORDER BY position ASC
	`

	rows, err := s.db.QueryContext(ctx, query, verificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list check results: %w", err)
	}
	defer rows.Close()

	out := []*CheckRecord{}
	for rows.Next() {
		c := &CheckRecord{}
		if err := rows.Scan(&c.ID, &c.VerificationID, &c.Position, &c.Category, &c.Name, &c.Message, &c.Status); err != nil {
			return nil, fmt.Errorf("failed to scan check result: %w", err)
		}
		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating check results: %w", err)
	}

	return out, nil
}

// UpsertFact inserts or updates a fact keyed by namespace and key.
func (s *SQLiteStore) UpsertFact(ctx context.Context, fact *Fact) error {
	if fact.ID == "" {
		fact.ID = uuid.New().String()
	}
	if fact.UpdatedAt.IsZero() {
		fact.UpdatedAt = time.Now()
	}

	query := `
		INSERT INTO facts (id, namespace, key, value, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		fact.ID,
		fact.Namespace,
		fact.Key,
		fact.Value,
		fact.RunID,
		fact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fact: %w", err)
	}

	return nil
}

// ListFacts lists facts, optionally restricted to one namespace.
func (s *SQLiteStore) ListFacts(ctx context.Context, namespace *string) ([]*Fact, error) {
	query := `
		SELECT id, namespace, key, value, run_id, updated_at
		FROM facts
		WHERE (? IS NULL OR namespace = ?)
		ORDER BY namespace, key
	`

	rows, err := s.db.QueryContext(ctx, query, namespace, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	defer rows.Close()

	facts := []*Fact{}
	for rows.Next() {
		f := &Fact{}
		if err := rows.Scan(&f.ID, &f.Namespace, &f.Key, &f.Value, &f.RunID, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		facts = append(facts, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating facts: %w", err)
	}

	return facts, nil
}

// HealthCheck verifies the database connection
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
