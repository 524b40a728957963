package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/macforge/macforge/pkg/telemetry"
)

// DefaultConcurrency caps the categories checked at once.
const DefaultConcurrency = 4

// Report is the result of one verification pass.
type Report struct {
	ID         string        `json:"id"`
	Categories []Category    `json:"categories"`
	Results    []CheckResult `json:"results"`
	Summary    Summary       `json:"summary"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Engine runs categories of checks against a Probe.
type Engine struct {
	probe       Probe
	catalog     Catalog
	concurrency int
	telemetry   *telemetry.Telemetry
	logger      zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency sets how many categories run at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithTelemetry records check metrics and a verification span.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(e *Engine) { e.telemetry = t }
}

// WithLogger sets the engine's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a verification engine.
func NewEngine(probe Probe, catalog Catalog, opts ...Option) *Engine {
	e := &Engine{
		probe:       probe,
		catalog:     catalog,
		concurrency: DefaultConcurrency,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Verify runs the selected categories. An empty selection runs all of them.
// Categories run concurrently, each into its own aggregator; the results are
// merged in canonical category order into a fresh aggregator, so any subset
// yields the same per-check results as a full pass.
func (e *Engine) Verify(ctx context.Context, categories []Category) (*Report, error) {
	selected, err := e.normalize(categories)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:         uuid.New().String(),
		Categories: selected,
		StartedAt:  time.Now(),
	}

	names := make([]string, len(selected))
	for i, c := range selected {
		names[i] = string(c)
	}
	if e.telemetry != nil && e.telemetry.Tracer != nil {
		var span trace.Span
		ctx, span = e.telemetry.Tracer.StartVerificationSpan(ctx, names)
		defer span.End()
	}

	perCategory := make([]*Aggregator, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, category := range selected {
		i, category := i, category
		perCategory[i] = NewAggregator()
		g.Go(func() error {
			e.runCategory(gctx, category, perCategory[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to run checks: %w", err)
	}

	agg := NewAggregator()
	for _, a := range perCategory {
		agg.Merge(a)
	}

	report.Results = agg.Results()
	report.Summary = agg.Summarize()
	report.Duration = time.Since(report.StartedAt)

	if e.telemetry != nil {
		for _, r := range report.Results {
			e.telemetry.Metrics.RecordCheck(string(r.Category), string(r.Status))
		}
		e.telemetry.Metrics.SetSuccessRate(report.Summary.SuccessRate)
	}

	e.logger.Info().
		Str("verification_id", report.ID).
		Strs("categories", names).
		Int("total", report.Summary.Total).
		Int("failed", report.Summary.Failed).
		Int("success_rate", report.Summary.SuccessRate).
		Msg("Verification finished")

	return report, nil
}

func (e *Engine) normalize(categories []Category) ([]Category, error) {
	tags := make([]string, len(categories))
	for i, c := range categories {
		tags[i] = string(c)
	}
	return ParseCategories(tags...)
}

// runCategory runs a category's checks in order. A check that panics is
// recorded as a failure; it never stops the other checks.
func (e *Engine) runCategory(ctx context.Context, category Category, agg *Aggregator) {
	for _, check := range e.catalog[category] {
		agg.Record(e.runCheck(ctx, category, check))
	}
}

func (e *Engine) runCheck(ctx context.Context, category Category, check Check) (result CheckResult) {
	result = CheckResult{Category: category, Name: check.Name}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error().Interface("panic", rec).Str("check", check.Name).Msg("Check panicked")
			result.Status = StatusFail
			result.Message = fmt.Sprintf("check panicked: %v", rec)
		}
	}()
	result.Status, result.Message = check.Run(ctx, e.probe)
	e.logger.Debug().
		Str("category", string(category)).
		Str("check", check.Name).
		Str("status", string(result.Status)).
		Msg(result.Message)
	return result
}
