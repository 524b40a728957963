package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/macforge/macforge/pkg/config"
	"github.com/macforge/macforge/pkg/system"
)

// ModuleSpec is the static description of a setup module.
type ModuleSpec struct {
	// Ordinal fixes the module's position in the pipeline.
	Ordinal int `json:"ordinal"`

	// Name is the stable identifier used in the completed set and on the command line.
	Name string `json:"name"`

	// Title is a short human-readable description.
	Title string `json:"title"`

	// Fatal modules halt the pipeline when they fail.
	Fatal bool `json:"fatal"`

	// RequiresAdmin allows the module to escalate privileges.
	RequiresAdmin bool `json:"requires_admin"`

	// Idempotent modules are safe to re-run against a provisioned machine.
	Idempotent bool `json:"idempotent"`

	// Requires lists modules that must precede this one.
	Requires []string `json:"requires,omitempty"`
}

// Outcome is what a module reports after running. The module classifies
// its own failures; the runner never re-classifies them.
type Outcome struct {
	Status  OutcomeStatus `json:"status"`
	Details string        `json:"details,omitempty"`
	Err     error         `json:"-"`
}

// Success returns a successful outcome.
func Success(details string) Outcome {
	return Outcome{Status: OutcomeSuccess, Details: details}
}

// Warning returns a degraded but completed outcome.
func Warning(details string) Outcome {
	return Outcome{Status: OutcomeWarning, Details: details}
}

// Failure returns a failed outcome caused by err.
func Failure(details string, err error) Outcome {
	return Outcome{Status: OutcomeFailure, Details: details, Err: err}
}

// Cause returns the error behind a failure. It synthesises one from the
// details when the module did not supply an error.
func (o Outcome) Cause() error {
	if o.Status != OutcomeFailure {
		return nil
	}
	if o.Err != nil {
		return o.Err
	}
	if o.Details == "" {
		return fmt.Errorf("module failed")
	}
	return fmt.Errorf("%s", o.Details)
}

// RunContext is everything a module receives for one invocation.
type RunContext struct {
	RunID    string
	Module   ModuleSpec
	Env      system.Environment
	Profile  *config.Profile
	Admin    AdminEscalator
	Prompt   Prompter
	Progress Reporter
	Logger   zerolog.Logger
}

// RunOptions control a pipeline invocation.
type RunOptions struct {
	// Resume skips modules already in the completed set.
	Resume bool

	// ForceRerun names modules that run even when already completed.
	ForceRerun map[string]bool

	// Command is recorded in the run history, e.g. "setup" or "run".
	Command string
}

// ForceSet builds a ForceRerun set from a list of names.
func ForceSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			set[n] = true
		}
	}
	return set
}

// ModuleWarning records a module that finished degraded, or a non-fatal
// module that failed.
type ModuleWarning struct {
	Module  string        `json:"module"`
	Status  OutcomeStatus `json:"status"`
	Details string        `json:"details"`

	// Remediation is the fix the module attached to its error, if any.
	Remediation string `json:"remediation,omitempty"`
}

// PipelineOutcome is the terminal result of a pipeline run.
type PipelineOutcome struct {
	RunID string       `json:"run_id"`
	Kind  PipelineKind `json:"kind"`

	// Module is the halting module, or the next module when cancelled.
	Module string `json:"module,omitempty"`

	// Cause is the halting error.
	Cause error `json:"-"`

	// Remediation holds the commands that recover from a halt.
	Remediation []string `json:"remediation,omitempty"`

	Ran       []string        `json:"ran"`
	Skipped   []string        `json:"skipped"`
	Warnings  []ModuleWarning `json:"warnings,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// ExitCode maps the outcome to a process exit code.
func (o *PipelineOutcome) ExitCode() int {
	switch o.Kind {
	case PipelineCompleted:
		return 0
	case PipelineCancelled:
		return 130
	default:
		return 1
	}
}

// String returns a one-line summary.
func (o *PipelineOutcome) String() string {
	switch o.Kind {
	case PipelineHalted:
		return fmt.Sprintf("halted at %s: %v", o.Module, o.Cause)
	case PipelineCancelled:
		return fmt.Sprintf("cancelled before %s", o.Module)
	default:
		return fmt.Sprintf("completed: %d ran, %d skipped, %d warnings",
			len(o.Ran), len(o.Skipped), len(o.Warnings))
	}
}

// Event is a timeline entry published while a pipeline runs.
type Event struct {
	RunID     string    `json:"run_id"`
	Module    string    `json:"module,omitempty"`
	Type      EventType `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
