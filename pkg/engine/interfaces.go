package engine

import (
	"context"

	"github.com/macforge/macforge/pkg/stores"
)

// Module is a single idempotent setup step.
type Module interface {
	Spec() ModuleSpec
	Run(ctx context.Context, rc *RunContext) Outcome
}

// SessionStore persists the session between runs.
type SessionStore interface {
	// Load always returns a usable session. A non-nil error is advisory.
	Load(ctx context.Context) (*stores.Session, error)
	Save(ctx context.Context, s *stores.Session) error
}

// AdminEscalator acquires administrator privileges on demand.
type AdminEscalator interface {
	Escalate(ctx context.Context) error
}

// PrivilegeSupervisor escalates and tears down the privilege keepalive.
type PrivilegeSupervisor interface {
	AdminEscalator
	Release()
}

// Prompter asks yes/no questions.
type Prompter interface {
	Confirm(question string, defaultAnswer bool) bool
}

// Reporter prints user-facing progress lines.
type Reporter interface {
	Info(msg string)
	Success(msg string)
	Warning(msg string)
	Error(msg string)
	Step(msg string)
}

// EventPublisher receives pipeline events.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// NopReporter discards all progress output.
type NopReporter struct{}

func (NopReporter) Info(string)    {}
func (NopReporter) Success(string) {}
func (NopReporter) Warning(string) {}
func (NopReporter) Error(string)   {}
func (NopReporter) Step(string)    {}

// DefaultsPrompter answers every question with its default.
type DefaultsPrompter struct{}

// Confirm returns defaultAnswer.
func (DefaultsPrompter) Confirm(_ string, defaultAnswer bool) bool { return defaultAnswer }
