package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/macforge/macforge/pkg/config"
	"github.com/macforge/macforge/pkg/engine"
	"github.com/macforge/macforge/pkg/stores"
	"github.com/macforge/macforge/pkg/system"
	"github.com/macforge/macforge/pkg/verify"
)

// Verify runs every verification category against the machine.
type Verify struct {
	deps *Deps
	last *verify.Report
}

func (m *Verify) Spec() engine.ModuleSpec {
	return engine.ModuleSpec{
		Ordinal:    7,
		Name:       NameVerify,
		Title:      "Verification",
		Idempotent: true,
	}
}

// Catalog returns the verification checks for this pipeline. The state
// category expects every provisioning module in the completed set.
func Catalog(store *stores.FileStore, p *config.Profile, env system.Environment) verify.Catalog {
	return verify.DefaultCatalog(verify.Inputs{
		Profile: p,
		Env:     env,
		Modules: provisioning,
		Store:   store,
	})
}

// Last returns the report from the most recent run, if any.
func (m *Verify) Last() *verify.Report {
	return m.last
}

func (m *Verify) Run(ctx context.Context, rc *engine.RunContext) engine.Outcome {
	categories, err := verify.ParseCategories(rc.Profile.Verify.Categories...)
	if err != nil {
		return failWarning(NameVerify, "invalid verification categories", engine.ErrCodeValidation, "", err)
	}

	e := verify.NewEngine(m.deps.probe(), Catalog(m.deps.Store, rc.Profile, rc.Env),
		verify.WithConcurrency(rc.Profile.Verify.Concurrency),
		verify.WithTelemetry(m.deps.Telemetry),
		verify.WithLogger(rc.Logger),
	)

	report, err := e.Verify(ctx, categories)
	if err != nil {
		return failWarning(NameVerify, "verification did not run", engine.ErrCodeInternal, "", err)
	}
	m.last = report

	if m.deps.History != nil {
		runID := rc.RunID
		if err := report.Record(ctx, m.deps.History, &runID); err != nil {
			rc.Logger.Warn().Err(err).Msg("Failed to record verification")
		}
	}

	s := report.Summary
	line := fmt.Sprintf("%d/%d checks passed (%d%%)", s.Passed, s.Total, s.SuccessRate)
	switch {
	case s.Failed > 0:
		return failWarning(NameVerify, fmt.Sprintf("%s, %d failed: %s", line, s.Failed, strings.Join(s.Failures, "; ")),
			engine.ErrCodeValidation, "macforge verify --verbose", nil)
	case s.Warned > 0:
		return engine.Warning(fmt.Sprintf("%s, %d warnings", line, s.Warned))
	default:
		return engine.Success(line)
	}
}
