package stores

import (
	"context"
	"database/sql"
	"time"
)

// RunStatus represents the status of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusHalted    RunStatus = "halted"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusHalted || s == RunStatusCancelled
}

// ModuleRunStatus is the recorded result of one module within a run.
type ModuleRunStatus string

const (
	ModuleRunSuccess ModuleRunStatus = "success"
	ModuleRunWarning ModuleRunStatus = "warning"
	ModuleRunFailure ModuleRunStatus = "failure"
	ModuleRunSkipped ModuleRunStatus = "skipped"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one pipeline invocation.
type Run struct {
	ID           string     `json:"id"`
	Command      string     `json:"command"`
	Status       RunStatus  `json:"status"`
	HaltedModule *string    `json:"halted_module,omitempty"`
	Error        *string    `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Metadata     string     `json:"metadata"` // JSON blob
}

// ModuleRun is the result of a single module inside a run.
type ModuleRun struct {
	ID          int64           `json:"id"`
	RunID       string          `json:"run_id"`
	Module      string          `json:"module"`
	Ordinal     int             `json:"ordinal"`
	Status      ModuleRunStatus `json:"status"`
	Details     string          `json:"details"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	DurationMS  int64           `json:"duration_ms"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Module    *string    `json:"module,omitempty"`
	Type      string     `json:"type"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// Verification is one verification pass and its summary counts.
type Verification struct {
	ID          string    `json:"id"`
	RunID       *string   `json:"run_id,omitempty"`
	Categories  string    `json:"categories"` // comma separated
	Total       int       `json:"total"`
	Passed      int       `json:"passed"`
	Warned      int       `json:"warned"`
	Failed      int       `json:"failed"`
	SuccessRate int       `json:"success_rate"`
	Overall     string    `json:"overall"`
	StartedAt   time.Time `json:"started_at"`
}

// CheckRecord is a persisted verification check result.
type CheckRecord struct {
	ID             int64  `json:"id"`
	VerificationID string `json:"verification_id"`
	Position       int    `json:"position"`
	Category       string `json:"category"`
	Name           string `json:"name"`
	Message        string `json:"message"`
	Status         string `json:"status"`
}

// Fact is an environment fact observed during a run.
type Fact struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"` // e.g. "env", "tools"
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	RunID     *string   `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryStore is the persistence interface for run history.
type HistoryStore interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, haltedModule, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	PruneRuns(ctx context.Context, olderThan time.Time) (int64, error)

	// Module results
	RecordModuleRun(ctx context.Context, mr *ModuleRun) error
	ListModuleRuns(ctx context.Context, runID string) ([]*ModuleRun, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Verification operations
	RecordVerification(ctx context.Context, v *Verification, checks []*CheckRecord) error
	ListVerifications(ctx context.Context, limit int) ([]*Verification, error)
	ListCheckRecords(ctx context.Context, verificationID string) ([]*CheckRecord, error)

	// Facts operations
	UpsertFact(ctx context.Context, fact *Fact) error
	ListFacts(ctx context.Context, namespace *string) ([]*Fact, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
