package modules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/macforge/macforge/pkg/engine"
	"github.com/macforge/macforge/pkg/report"
	"github.com/macforge/macforge/pkg/verify"
)

// Cleanup trims caches, restarts affected apps and writes the report.
type Cleanup struct {
	deps         *Deps
	verification func() *verify.Report
}

func (m *Cleanup) Spec() engine.ModuleSpec {
	return engine.ModuleSpec{
		Ordinal:    8,
		Name:       NameCleanup,
		Title:      "Cleanup",
		Idempotent: true,
	}
}

func (m *Cleanup) Run(ctx context.Context, rc *engine.RunContext) engine.Outcome {
	cfg := rc.Profile.Cleanup
	pm := m.deps.Providers.Packages
	var warnings []string

	if pm.Available() {
		rc.Progress.Info("Cleaning Homebrew")
		if err := pm.Cleanup(ctx); err != nil {
			rc.Logger.Warn().Err(err).Msg("brew cleanup failed")
			warnings = append(warnings, "brew cleanup failed")
		}
		if cache, err := pm.CachePath(ctx); err == nil && cache != "" {
			if err := os.RemoveAll(cache); err != nil {
				warnings = append(warnings, "could not clear Homebrew cache")
			}
		}
	}

	if cfg.Mode == "full" {
		removed := removeGlobs(cfg.TempPaths)
		rc.Logger.Debug().Int("removed", removed).Msg("Temporary files removed")

		if cfg.ReportMaxAge > 0 {
			n, err := report.Purge(rc.Profile.ReportDir, cfg.ReportMaxAge, m.deps.now())
			if err != nil {
				rc.Logger.Warn().Err(err).Msg("Could not purge old reports")
			} else if n > 0 {
				rc.Progress.Info(fmt.Sprintf("Removed %d old reports", n))
			}
			if m.deps.History != nil {
				if _, err := m.deps.History.PruneRuns(ctx, m.deps.now().Add(-cfg.ReportMaxAge)); err != nil {
					rc.Logger.Warn().Err(err).Msg("Could not prune run history")
				}
			}
		}
	}

	if !cfg.NoRestart {
		for _, app := range cfg.RestartApps {
			if err := m.deps.Providers.Apps.Restart(ctx, app); err != nil {
				rc.Logger.Warn().Err(err).Str("app", app).Msg("Restart failed")
				warnings = append(warnings, "could not restart "+app)
			}
		}
	}

	if !cfg.NoReport {
		var last *verify.Report
		if m.verification != nil {
			last = m.verification()
		}
		var pkgs = pm
		if !pm.Available() {
			pkgs = nil
		}
		runID := rc.RunID
		collector := report.NewCollector(m.deps.Runner, pkgs,
			report.WithHistory(m.deps.History), report.WithLogger(rc.Logger))
		r := report.Build(ctx, collector, rc.Env, last, &runID)
		r.GeneratedAt = m.deps.now()
		path, err := report.Write(rc.Profile.ReportDir, r)
		if err != nil {
			rc.Logger.Warn().Err(err).Msg("Could not write report")
			warnings = append(warnings, "report not written")
		} else {
			rc.Progress.Success("Report saved to " + path)
		}
	}

	if len(warnings) > 0 {
		return engine.Warning(strings.Join(warnings, "; "))
	}
	return engine.Success("cleanup complete")
}

// removeGlobs deletes everything matching patterns and returns the count.
func removeGlobs(patterns []string) int {
	removed := 0
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, path := range matches {
			if err := os.RemoveAll(path); err == nil {
				removed++
			}
		}
	}
	return removed
}
