package engine

import (
	"encoding/json"
	"fmt"
)

// OutcomeStatus is the result class a module returns.
type OutcomeStatus string

const (
	// OutcomeSuccess means the module reached its desired state.
	OutcomeSuccess OutcomeStatus = "success"

	// OutcomeWarning means the module finished with degraded results; the
	// pipeline continues and the module counts as completed.
	OutcomeWarning OutcomeStatus = "warning"

	// OutcomeFailure means the module did not finish. Whether the pipeline
	// halts depends on the module's Fatal flag.
	OutcomeFailure OutcomeStatus = "failure"
)

// Completes reports whether the status marks the module as completed.
func (s OutcomeStatus) Completes() bool {
	return s == OutcomeSuccess || s == OutcomeWarning
}

// Validate checks if the outcome status is valid.
func (s OutcomeStatus) Validate() error {
	switch s {
	case OutcomeSuccess, OutcomeWarning, OutcomeFailure:
		return nil
	default:
		return fmt.Errorf("invalid outcome status: %s", s)
	}
}

// PipelineKind is the terminal state of a pipeline run.
type PipelineKind string

const (
	// PipelineCompleted means every module ran or was skipped.
	PipelineCompleted PipelineKind = "completed"

	// PipelineHalted means a fatal module failed.
	PipelineHalted PipelineKind = "halted"

	// PipelineCancelled means the run was interrupted between modules.
	PipelineCancelled PipelineKind = "cancelled"
)

// Validate checks if the pipeline kind is valid.
func (k PipelineKind) Validate() error {
	switch k {
	case PipelineCompleted, PipelineHalted, PipelineCancelled:
		return nil
	default:
		return fmt.Errorf("invalid pipeline kind: %s", k)
	}
}

// EventType identifies a pipeline event.
type EventType string

const (
	EventTypePipelineStarted   EventType = "pipeline.started"
	EventTypePipelineCompleted EventType = "pipeline.completed"
	EventTypePipelineHalted    EventType = "pipeline.halted"
	EventTypePipelineCancelled EventType = "pipeline.cancelled"
	EventTypeModuleStarted     EventType = "module.started"
	EventTypeModuleSkipped     EventType = "module.skipped"
	EventTypeModuleSucceeded   EventType = "module.succeeded"
	EventTypeModuleWarning     EventType = "module.warning"
	EventTypeModuleFailed      EventType = "module.failed"
)

// MarshalJSON implements json.Marshaler.
func (s OutcomeStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler and rejects unknown values.
func (s *OutcomeStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := OutcomeStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}
