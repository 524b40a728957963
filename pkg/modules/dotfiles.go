package modules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/macforge/macforge/pkg/engine"
)

// installScriptCmd runs $2 from inside $1.
const installScriptCmd = `cd "$1" && exec "$2"`

// Dotfiles clones or updates the dotfiles repository and runs its
// install script.
type Dotfiles struct {
	deps *Deps
}

func (m *Dotfiles) Spec() engine.ModuleSpec {
	return engine.ModuleSpec{
		Ordinal:    4,
		Name:       NameDotfiles,
		Title:      "Dotfiles",
		Fatal:      true,
		Idempotent: true,
		Requires:   []string{NameSSH},
	}
}

func (m *Dotfiles) Run(ctx context.Context, rc *engine.RunContext) engine.Outcome {
	cfg := rc.Profile.Dotfiles
	dir := rc.Profile.DotfilesDir
	repo := m.deps.Providers.Repo

	if cfg.Repository == "" {
		rc.Progress.Info("No dotfiles repository configured")
		return engine.Success("no repository configured")
	}

	var warning string
	if repo.IsRepo(ctx, dir) {
		if !repo.HasUpstream(ctx, dir) {
			warning = "no upstream branch, skipped update"
			rc.Progress.Warning(fmt.Sprintf("%s has no upstream branch, not updating", dir))
		} else if err := repo.Pull(ctx, dir); err != nil {
			return failFatal(NameDotfiles, "could not update dotfiles", engine.ErrCodeExternal,
				fmt.Sprintf("git -C %s status", dir), err)
		} else {
			rc.Progress.Success("Dotfiles updated")
		}
	} else {
		if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
			return failFatal(NameDotfiles, fmt.Sprintf("%s exists and is not a git repository", dir),
				engine.ErrCodeValidation, fmt.Sprintf("mv %s %s.old", dir, dir), nil)
		}
		rc.Progress.Info("Cloning " + cfg.Repository)
		if err := repo.Clone(ctx, cfg.Repository, cfg.Branch, dir); err != nil {
			return failFatal(NameDotfiles, "could not clone dotfiles", engine.ErrCodeNetwork,
				fmt.Sprintf("git clone %s %s", cfg.Repository, dir), err)
		}
		rc.Progress.Success("Dotfiles cloned")
	}

	if cfg.InstallScript != "" {
		script := filepath.Join(dir, cfg.InstallScript)
		if _, err := os.Stat(script); err == nil {
			rc.Progress.Info("Running " + cfg.InstallScript)
			// Install scripts may prompt, so they get the terminal.
			if err := m.deps.Runner.RunInteractive(ctx, "/bin/sh", "-c", installScriptCmd, "sh", dir, script); err != nil {
				return failFatal(NameDotfiles, "dotfiles install script failed", engine.ErrCodeExternal,
					fmt.Sprintf("cd %s && ./%s", dir, cfg.InstallScript), err)
			}
		} else {
			rc.Logger.Debug().Str("script", script).Msg("No install script")
		}
	}

	if warning != "" {
		return engine.Warning(warning)
	}
	return engine.Success("dotfiles installed")
}
