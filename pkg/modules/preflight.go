package modules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/macforge/macforge/pkg/engine"
	"github.com/macforge/macforge/pkg/system"
)

// CLTPath is where the Xcode Command Line Tools install.
const CLTPath = "/Library/Developer/CommandLineTools"

// Preflight confirms the machine can be provisioned at all.
type Preflight struct {
	deps *Deps
}

func (m *Preflight) Spec() engine.ModuleSpec {
	return engine.ModuleSpec{
		Ordinal:    1,
		Name:       NamePreflight,
		Title:      "Preflight checks",
		Fatal:      true,
		Idempotent: true,
	}
}

func (m *Preflight) Run(ctx context.Context, rc *engine.RunContext) engine.Outcome {
	cfg := rc.Profile.Preflight
	host := m.deps.Host

	if !host.IsMacOS() {
		return failFatal(NamePreflight, "macOS is required", engine.ErrCodeValidation, "", nil)
	}
	rc.Progress.Info(fmt.Sprintf("macOS %s on %s", orUnknown(rc.Env.OSVersion), orUnknown(string(rc.Env.Arch))))

	if cfg.NetworkProbe != "" {
		if err := host.Reachable(ctx, cfg.NetworkProbe, cfg.NetworkTimeout); err != nil {
			return failFatal(NamePreflight, fmt.Sprintf("cannot reach %s", cfg.NetworkProbe),
				engine.ErrCodeNetwork, "Connect to the internet and retry", err)
		}
		rc.Progress.Success("Network reachable")
	}

	var warnings []string

	home := rc.Env.HomeDir
	if home == "" {
		home = "/"
	}
	free, err := host.FreeBytes(home)
	switch {
	case err != nil:
		rc.Logger.Warn().Err(err).Msg("Could not determine free disk space")
		warnings = append(warnings, "free disk space unknown")
	case free < uint64(cfg.MinFreeGB)<<30:
		return failFatal(NamePreflight,
			fmt.Sprintf("only %.1f GB free, %d GB required", float64(free)/(1<<30), cfg.MinFreeGB),
			engine.ErrCodeDiskSpace, "Free up disk space and retry", nil)
	default:
		rc.Progress.Success(fmt.Sprintf("%.0f GB free", float64(free)/(1<<30)))
	}

	if out := m.ensureCLT(ctx, rc); out.Status == engine.OutcomeFailure {
		return out
	}

	if len(warnings) > 0 {
		return engine.Warning(strings.Join(warnings, "; "))
	}
	return engine.Success("machine is ready")
}

// ensureCLT starts the Command Line Tools installer when they are missing
// and waits for the user to finish it.
func (m *Preflight) ensureCLT(ctx context.Context, rc *engine.RunContext) engine.Outcome {
	runner := m.deps.Runner
	if res, err := runner.Run(ctx, "xcode-select", "-p"); err == nil && res.Success() {
		rc.Progress.Success("Xcode Command Line Tools installed")
		return engine.Success("")
	}

	rc.Progress.Info("Installing Xcode Command Line Tools, complete the installer dialog to continue")
	res, err := runner.Run(ctx, "xcode-select", "--install")
	if err != nil {
		return failFatal(NamePreflight, "could not start the Command Line Tools installer",
			engine.ErrCodeToolMissing, "xcode-select --install", err)
	}
	if !res.Success() {
		rc.Logger.Debug().Str("output", res.Combined()).Msg("xcode-select --install returned non-zero")
	}

	timeout := rc.Profile.Preflight.CLTWaitTimeout
	if err := m.deps.Host.WaitForPath(ctx, CLTPath+"/usr/bin/git", timeout); err != nil {
		if errors.Is(err, system.ErrWaitTimeout) {
			return failFatal(NamePreflight,
				fmt.Sprintf("Command Line Tools not installed after %s", timeout),
				engine.ErrCodeTimeout, "xcode-select --install", err)
		}
		return failFatal(NamePreflight, "waiting for Command Line Tools was interrupted",
			engine.ErrCodeCancelled, "", err)
	}
	rc.Progress.Success("Xcode Command Line Tools installed")
	return engine.Success("")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
