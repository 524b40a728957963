package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/macforge/macforge/pkg/config"
	"github.com/macforge/macforge/pkg/stores"
	"github.com/macforge/macforge/pkg/system"
	"github.com/macforge/macforge/pkg/telemetry"
)

// DefaultCommandName is used in remediation hints.
const DefaultCommandName = "macforge"

// Runner executes modules strictly in order and records completion after
// every module that succeeds.
type Runner struct {
	store     SessionStore
	history   stores.HistoryStore
	privilege PrivilegeSupervisor
	prompt    Prompter
	progress  Reporter
	publisher EventPublisher
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	env       system.Environment
	profile   *config.Profile
	command   string
	now       func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithHistory records runs, module results and events in a history store.
func WithHistory(h stores.HistoryStore) RunnerOption {
	return func(r *Runner) { r.history = h }
}

// WithPrivilege sets the supervisor used for administrator escalation.
func WithPrivilege(p PrivilegeSupervisor) RunnerOption {
	return func(r *Runner) { r.privilege = p }
}

// WithPrompter sets the prompt gate handed to modules.
func WithPrompter(p Prompter) RunnerOption {
	return func(r *Runner) { r.prompt = p }
}

// WithReporter sets the progress reporter.
func WithReporter(p Reporter) RunnerOption {
	return func(r *Runner) { r.progress = p }
}

// WithEventPublisher adds a publisher for pipeline events.
func WithEventPublisher(p EventPublisher) RunnerOption {
	return func(r *Runner) { r.publisher = p }
}

// WithTelemetry enables tracing and metrics.
func WithTelemetry(t *telemetry.Telemetry) RunnerOption {
	return func(r *Runner) { r.telemetry = t }
}

// WithLogger sets the runner's logger.
func WithLogger(l zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithEnvironment sets the detected environment facts.
func WithEnvironment(env system.Environment) RunnerOption {
	return func(r *Runner) { r.env = env }
}

// WithProfile sets the profile handed to modules.
func WithProfile(p *config.Profile) RunnerOption {
	return func(r *Runner) { r.profile = p }
}

// WithCommandName sets the executable name used in remediation hints.
func WithCommandName(name string) RunnerOption {
	return func(r *Runner) { r.command = name }
}

// NewRunner creates a runner persisting progress to store.
func NewRunner(store SessionStore, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:    store,
		prompt:   DefaultsPrompter{},
		progress: NopReporter{},
		logger:   zerolog.Nop(),
		command:  DefaultCommandName,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.profile == nil {
		r.profile = config.Default()
	}
	return r
}

// Run executes modules in order. The returned error is non-nil only when
// the module list itself is invalid; module failures are reported through
// the PipelineOutcome.
func (r *Runner) Run(ctx context.Context, modules []Module, opts RunOptions) (*PipelineOutcome, error) {
	if err := Validate(modules); err != nil {
		return nil, err
	}

	outcome := &PipelineOutcome{
		RunID:     uuid.New().String(),
		Kind:      PipelineCompleted,
		Ran:       []string{},
		Skipped:   []string{},
		StartedAt: r.now(),
	}
	if len(modules) == 0 {
		r.progress.Info("No modules to run")
		return outcome, nil
	}

	logger := r.logger.With().Str("run_id", outcome.RunID).Logger()

	session, err := r.store.Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Ignoring saved session state")
		r.progress.Warning(fmt.Sprintf("Ignoring saved state: %v", err))
	}
	if session == nil {
		session = stores.NewSession()
	}
	if r.env.Arch != "" {
		session.Env = r.env
		if err := r.store.Save(ctx, session); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist environment facts")
		}
	}

	ctx, span := r.startPipelineSpan(ctx, outcome.RunID, len(modules))
	r.startHistory(ctx, outcome, opts, logger)
	r.publish(ctx, outcome.RunID, "", EventTypePipelineStarted, "info",
		fmt.Sprintf("Pipeline started with %d modules", len(modules)))

	if r.privilege != nil {
		defer r.privilege.Release()
	}

	for _, m := range modules {
		spec := m.Spec()

		if err := ctx.Err(); err != nil {
			outcome.Kind = PipelineCancelled
			outcome.Module = spec.Name
			outcome.Cause = err
			break
		}

		if opts.Resume && session.IsCompleted(spec.Name) && !opts.ForceRerun[spec.Name] {
			r.skip(ctx, outcome, spec)
			continue
		}

		for _, req := range spec.Requires {
			if !session.IsCompleted(req) {
				logger.Warn().Str("module", spec.Name).Str("requires", req).
					Msg("Required module has not completed")
			}
		}

		res := r.runModule(ctx, outcome.RunID, spec, m, logger)
		outcome.Ran = append(outcome.Ran, spec.Name)

		if res.Status.Completes() {
			session.MarkCompleted(spec.Name)
			if err := r.store.Save(ctx, session); err != nil {
				logger.Error().Err(err).Str("module", spec.Name).Msg("Failed to persist completion")
				r.progress.Warning(fmt.Sprintf("Could not save progress after %s: %v", spec.Name, err))
			}
			if res.Status == OutcomeWarning {
				outcome.Warnings = append(outcome.Warnings, warningOf(spec, res))
			}
			continue
		}

		if spec.Fatal {
			outcome.Kind = PipelineHalted
			outcome.Module = spec.Name
			outcome.Cause = res.Cause()
			outcome.Remediation = r.remediation(spec.Name, outcome.Cause)
			r.reportHalt(outcome)
			break
		}

		outcome.Warnings = append(outcome.Warnings, warningOf(spec, res))
		r.progress.Warning(fmt.Sprintf("%s failed but is not required to continue: %s", spec.Title, res.Details))
	}

	outcome.Duration = r.now().Sub(outcome.StartedAt)
	r.finish(ctx, outcome, span, logger)
	return outcome, nil
}

// runModule invokes a single module and converts a panic into a Failure.
func (r *Runner) runModule(ctx context.Context, runID string, spec ModuleSpec, m Module, logger zerolog.Logger) (res Outcome) {
	ctx, span := r.startModuleSpan(ctx, spec)
	started := r.now()
	modLogger := logger.With().Str("module", spec.Name).Logger()

	r.progress.Step(fmt.Sprintf("[%d] %s", spec.Ordinal, spec.Title))
	r.publish(ctx, runID, spec.Name, EventTypeModuleStarted, "info", fmt.Sprintf("Module %s started", spec.Name))
	modLogger.Info().Int("ordinal", spec.Ordinal).Msg("Module started")

	admin := &scopedEscalator{spec: spec, supervisor: r.privilege}
	defer func() {
		if r.privilege != nil {
			r.privilege.Release()
		}
	}()

	defer func() {
		if rec := recover(); rec != nil {
			modLogger.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("Module panicked")
			res = Failure(fmt.Sprintf("module panicked: %v", rec),
				NewFatalError(fmt.Sprintf("panic: %v", rec), nil).
					WithModule(spec.Name).WithCode(ErrCodeInternal))
		}
		if err := res.Status.Validate(); err != nil {
			res = Failure(fmt.Sprintf("module returned %v", err), err)
		}
		r.recordModule(ctx, runID, spec, res, started, span, modLogger)
	}()

	rc := &RunContext{
		RunID:    runID,
		Module:   spec,
		Env:      r.env,
		Profile:  r.profile,
		Admin:    admin,
		Prompt:   r.prompt,
		Progress: r.progress,
		Logger:   modLogger,
	}
	return m.Run(ctx, rc)
}

func (r *Runner) recordModule(ctx context.Context, runID string, spec ModuleSpec, res Outcome, started time.Time, span trace.Span, logger zerolog.Logger) {
	completed := r.now()
	duration := completed.Sub(started)

	var eventType EventType
	level := "info"
	switch res.Status {
	case OutcomeSuccess:
		eventType = EventTypeModuleSucceeded
		r.progress.Success(fmt.Sprintf("%s complete", spec.Title))
		logger.Info().Dur("duration", duration).Msg("Module succeeded")
		telemetry.RecordSuccess(span)
	case OutcomeWarning:
		eventType = EventTypeModuleWarning
		level = "warning"
		r.progress.Warning(fmt.Sprintf("%s finished with warnings: %s", spec.Title, res.Details))
		logger.Warn().Str("details", res.Details).Dur("duration", duration).Msg("Module finished with warnings")
		telemetry.RecordSuccess(span)
	default:
		eventType = EventTypeModuleFailed
		level = "error"
		cause := res.Cause()
		r.progress.Error(fmt.Sprintf("%s failed: %s", spec.Title, res.Details))
		logger.Error().Err(cause).Str("class", string(ClassOf(cause))).Dur("duration", duration).Msg("Module failed")
		telemetry.RecordError(span, cause)
		if r.telemetry != nil {
			r.telemetry.Metrics.RecordError(string(ClassOf(cause)))
		}
	}
	span.SetAttributes(telemetry.AttrModuleStatus.String(string(res.Status)))
	span.End()

	if r.telemetry != nil {
		r.telemetry.Metrics.RecordModule(spec.Name, string(res.Status), duration)
	}
	r.publish(ctx, runID, spec.Name, eventType, level, fmt.Sprintf("Module %s: %s %s", spec.Name, res.Status, res.Details))

	if r.history != nil {
		mr := &stores.ModuleRun{
			RunID:       runID,
			Module:      spec.Name,
			Ordinal:     spec.Ordinal,
			Status:      stores.ModuleRunStatus(res.Status),
			Details:     res.Details,
			StartedAt:   started,
			CompletedAt: completed,
			DurationMS:  duration.Milliseconds(),
		}
		if err := r.history.RecordModuleRun(ctx, mr); err != nil {
			logger.Warn().Err(err).Msg("Failed to record module run")
		}
	}
}

func (r *Runner) skip(ctx context.Context, outcome *PipelineOutcome, spec ModuleSpec) {
	outcome.Skipped = append(outcome.Skipped, spec.Name)
	r.progress.Info(fmt.Sprintf("Skipping %s, already completed", spec.Name))
	r.publish(ctx, outcome.RunID, spec.Name, EventTypeModuleSkipped, "info",
		fmt.Sprintf("Module %s skipped, already completed", spec.Name))
	if r.telemetry != nil {
		r.telemetry.Metrics.RecordModuleSkipped(spec.Name)
	}
	if r.history != nil {
		now := r.now()
		err := r.history.RecordModuleRun(ctx, &stores.ModuleRun{
			RunID:       outcome.RunID,
			Module:      spec.Name,
			Ordinal:     spec.Ordinal,
			Status:      stores.ModuleRunSkipped,
			Details:     "already completed",
			StartedAt:   now,
			CompletedAt: now,
		})
		if err != nil {
			r.logger.Warn().Err(err).Str("module", spec.Name).Msg("Failed to record skipped module")
		}
	}
}

// warningOf summarises a degraded module, or a non-fatal module that
// failed, with the remediation attached to its error.
func warningOf(spec ModuleSpec, res Outcome) ModuleWarning {
	return ModuleWarning{
		Module:      spec.Name,
		Status:      res.Status,
		Details:     res.Details,
		Remediation: RemediationOf(res.Err),
	}
}

// remediation lists the commands that recover from a halt at module.
func (r *Runner) remediation(module string, cause error) []string {
	var steps []string
	if fix := RemediationOf(cause); fix != "" {
		steps = append(steps, fix)
	}
	return append(steps,
		fmt.Sprintf("%s run %s", r.command, module),
		fmt.Sprintf("%s --resume", r.command),
	)
}

func (r *Runner) reportHalt(outcome *PipelineOutcome) {
	r.progress.Error(fmt.Sprintf("Setup halted at %s: %v", outcome.Module, outcome.Cause))
	r.progress.Info("Fix the problem, then run:")
	for _, step := range outcome.Remediation {
		r.progress.Info("  " + step)
	}
}

func (r *Runner) startHistory(ctx context.Context, outcome *PipelineOutcome, opts RunOptions, logger zerolog.Logger) {
	if r.history == nil {
		return
	}
	command := opts.Command
	if command == "" {
		command = "setup"
	}
	run := &stores.Run{
		ID:        outcome.RunID,
		Command:   command,
		Status:    stores.RunStatusRunning,
		StartedAt: outcome.StartedAt,
		Metadata:  "{}",
	}
	if err := r.history.CreateRun(ctx, run); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run start")
	}
	for key, value := range map[string]string{
		"arch":        string(r.env.Arch),
		"os_version":  r.env.OSVersion,
		"brew_prefix": r.env.BrewPrefix,
	} {
		if value == "" {
			continue
		}
		runID := outcome.RunID
		if err := r.history.UpsertFact(ctx, &stores.Fact{
			Namespace: "env", Key: key, Value: value, RunID: &runID,
		}); err != nil {
			logger.Debug().Err(err).Str("fact", key).Msg("Failed to record fact")
		}
	}
}

func (r *Runner) finish(ctx context.Context, outcome *PipelineOutcome, span trace.Span, logger zerolog.Logger) {
	// Bookkeeping must land even when the pipeline was cancelled.
	bg := context.WithoutCancel(ctx)

	var (
		eventType EventType
		status    stores.RunStatus
		level     = "info"
	)
	switch outcome.Kind {
	case PipelineHalted:
		eventType, status, level = EventTypePipelineHalted, stores.RunStatusHalted, "error"
		telemetry.RecordError(span, outcome.Cause)
	case PipelineCancelled:
		eventType, status, level = EventTypePipelineCancelled, stores.RunStatusCancelled, "warning"
		telemetry.RecordError(span, outcome.Cause)
		r.progress.Warning(fmt.Sprintf("Cancelled before %s", outcome.Module))
	default:
		eventType, status = EventTypePipelineCompleted, stores.RunStatusCompleted
		telemetry.RecordSuccess(span)
	}
	span.SetAttributes(telemetry.AttrOutcome.String(string(outcome.Kind)))
	span.End()

	r.publish(bg, outcome.RunID, outcome.Module, eventType, level, outcome.String())
	logger.Info().
		Str("outcome", string(outcome.Kind)).
		Int("ran", len(outcome.Ran)).
		Int("skipped", len(outcome.Skipped)).
		Int("warnings", len(outcome.Warnings)).
		Dur("duration", outcome.Duration).
		Msg("Pipeline finished")

	if r.telemetry != nil {
		r.telemetry.Metrics.RecordPipeline(string(outcome.Kind), outcome.Duration)
	}
	if r.history == nil {
		return
	}
	var halted, errMsg *string
	if outcome.Module != "" {
		halted = &outcome.Module
	}
	if outcome.Cause != nil {
		msg := outcome.Cause.Error()
		errMsg = &msg
	}
	if err := r.history.FinishRun(bg, outcome.RunID, status, halted, errMsg); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run result")
	}
}

func (r *Runner) publish(ctx context.Context, runID, module string, eventType EventType, level, message string) {
	event := &Event{
		RunID:     runID,
		Module:    module,
		Type:      eventType,
		Level:     level,
		Message:   message,
		Timestamp: r.now(),
	}
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
		}
	}
	if r.history != nil {
		se := &stores.Event{
			RunID:     &runID,
			Type:      string(eventType),
			Level:     stores.EventLevel(level),
			Message:   message,
			Timestamp: event.Timestamp,
		}
		if module != "" {
			se.Module = &module
		}
		if err := r.history.AppendEvent(context.WithoutCancel(ctx), se); err != nil {
			r.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Failed to append event")
		}
	}
}

func (r *Runner) startPipelineSpan(ctx context.Context, runID string, modules int) (context.Context, trace.Span) {
	if r.telemetry == nil || r.telemetry.Tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return r.telemetry.Tracer.StartPipelineSpan(ctx, runID, modules)
}

func (r *Runner) startModuleSpan(ctx context.Context, spec ModuleSpec) (context.Context, trace.Span) {
	if r.telemetry == nil || r.telemetry.Tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	ctx, span := r.telemetry.Tracer.StartModuleSpan(ctx, spec.Name, spec.Ordinal)
	span.SetAttributes(attribute.Bool("module.fatal", spec.Fatal))
	return ctx, span
}

// ErrAdminNotDeclared is returned when a module escalates without
// declaring RequiresAdmin.
var ErrAdminNotDeclared = errors.New("module does not declare administrator access")

// ErrNoPrivilegeSupervisor is returned when escalation is requested but no
// supervisor is configured.
var ErrNoPrivilegeSupervisor = errors.New("administrator escalation is not available")

type scopedEscalator struct {
	spec       ModuleSpec
	supervisor PrivilegeSupervisor
}

func (s *scopedEscalator) Escalate(ctx context.Context) error {
	if !s.spec.RequiresAdmin {
		return NewFatalError("escalation refused", ErrAdminNotDeclared).
			WithModule(s.spec.Name).WithCode(ErrCodePermissionDenied)
	}
	if s.supervisor == nil {
		return NewFatalError("escalation refused", ErrNoPrivilegeSupervisor).
			WithModule(s.spec.Name).WithCode(ErrCodePermissionDenied)
	}
	return s.supervisor.Escalate(ctx)
}
