package modules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/macforge/macforge/pkg/engine"
	"github.com/macforge/macforge/pkg/providers"
	"github.com/macforge/macforge/pkg/system"
)

// Homebrew installs Homebrew itself and the configured packages.
type Homebrew struct {
	deps *Deps
}

func (m *Homebrew) Spec() engine.ModuleSpec {
	return engine.ModuleSpec{
		Ordinal:       2,
		Name:          NameHomebrew,
		Title:         "Homebrew and packages",
		Fatal:         true,
		RequiresAdmin: true,
		Idempotent:    true,
		Requires:      []string{NamePreflight},
	}
}

func (m *Homebrew) Run(ctx context.Context, rc *engine.RunContext) engine.Outcome {
	cfg := rc.Profile.Homebrew
	pm := m.deps.Providers.Packages

	if !pm.Available() {
		if out := m.install(ctx, rc); out.Status == engine.OutcomeFailure {
			return out
		}
	}

	var warnings []string

	if cfg.Update {
		rc.Progress.Info("Updating Homebrew")
		if err := pm.Update(ctx); err != nil {
			rc.Logger.Warn().Err(err).Msg("brew update failed")
			warnings = append(warnings, "brew update failed")
		}
	}

	if len(cfg.Taps) > 0 {
		taps, err := pm.Taps(ctx)
		if err != nil {
			rc.Logger.Warn().Err(err).Msg("Could not list taps")
			taps = map[string]bool{}
		}
		for _, tap := range cfg.Taps {
			if taps[strings.ToLower(tap)] {
				continue
			}
			if err := pm.Tap(ctx, tap); err != nil {
				rc.Logger.Warn().Err(err).Str("tap", tap).Msg("Tap failed")
				warnings = append(warnings, "tap "+tap+" failed")
				continue
			}
			rc.Progress.Success("Tapped " + tap)
		}
	}

	var installed, present int
	var failed []string
	for _, batch := range []struct {
		kind  providers.PackageKind
		names []string
	}{
		{providers.KindFormula, cfg.Formulae},
		{providers.KindCask, cfg.Casks},
	} {
		if len(batch.names) == 0 {
			continue
		}
		rc.Progress.Info(fmt.Sprintf("Ensuring %d %s packages", len(batch.names), batch.kind))
		results, err := providers.EnsurePackages(ctx, pm, batch.kind, batch.names)
		if err != nil {
			if ctx.Err() != nil {
				return failFatal(NameHomebrew, "package installation interrupted", engine.ErrCodeCancelled, "", err)
			}
			return failFatal(NameHomebrew, fmt.Sprintf("cannot list installed %s packages", batch.kind),
				engine.ErrCodeExternal, "brew doctor", err)
		}
		for _, r := range results {
			switch r.Action {
			case providers.ActionInstalled:
				installed++
				rc.Progress.Success("Installed " + r.Name)
			case providers.ActionAlreadyPresent:
				present++
			case providers.ActionFailed:
				failed = append(failed, r.Name)
				rc.Logger.Warn().Err(r.Err).Str("package", r.Name).Str("kind", string(r.Kind)).Msg("Package install failed")
				rc.Progress.Warning(fmt.Sprintf("Could not install %s", r.Name))
			}
		}
	}

	if len(failed) > 0 {
		warnings = append(warnings, fmt.Sprintf("%d packages failed: %s", len(failed), strings.Join(failed, ", ")))
	}
	if len(warnings) > 0 {
		return engine.Warning(strings.Join(warnings, "; "))
	}
	return engine.Success(fmt.Sprintf("%d installed, %d already present", installed, present))
}

func (m *Homebrew) install(ctx context.Context, rc *engine.RunContext) engine.Outcome {
	pm := m.deps.Providers.Packages
	script := rc.Profile.Homebrew.InstallScriptURL

	if !rc.Prompt.Confirm("Homebrew is not installed. Install it now?", true) {
		return failFatal(NameHomebrew, "Homebrew is required", engine.ErrCodeToolMissing,
			fmt.Sprintf(`/bin/bash -c "$(curl -fsSL %s)"`, script), nil)
	}
	if err := rc.Admin.Escalate(ctx); err != nil {
		return failFatal(NameHomebrew, "administrator access is required to install Homebrew",
			engine.ErrCodePermissionDenied, "", err)
	}

	rc.Progress.Step("Installing Homebrew")
	if err := pm.Bootstrap(ctx, script); err != nil {
		return failFatal(NameHomebrew, "Homebrew installation failed", engine.ErrCodeExternal,
			fmt.Sprintf(`/bin/bash -c "$(curl -fsSL %s)"`, script), err)
	}
	if !pm.Available() {
		return failFatal(NameHomebrew, "brew is not available after installation", engine.ErrCodeToolMissing,
			"brew doctor", nil)
	}

	if err := ensureShellEnv(rc.Env, rc.Profile.BackupDir); err != nil {
		rc.Logger.Warn().Err(err).Msg("Could not add brew shellenv to .zprofile")
		rc.Progress.Warning("Add brew to your PATH manually: " + shellEnvLine(rc.Env))
	}
	rc.Progress.Success("Homebrew installed")
	return engine.Success("")
}

func shellEnvLine(env system.Environment) string {
	return fmt.Sprintf(`eval "$(%s shellenv)"`, env.BrewBin())
}

// ensureShellEnv appends the brew shellenv line to ~/.zprofile unless it
// is already there.
func ensureShellEnv(env system.Environment, backupDir string) error {
	if env.HomeDir == "" || env.BrewPrefix == "" {
		return nil
	}
	path := filepath.Join(env.HomeDir, ".zprofile")
	line := shellEnvLine(env)

	current, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if strings.Contains(string(current), line) {
		return nil
	}
	if _, err := system.BackupFile(path, backupDir); err != nil {
		return err
	}

	content := string(current)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += line + "\n"
	return system.WriteFileAtomic(path, []byte(content), 0o644)
}
