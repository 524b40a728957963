package modules

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/macforge/macforge/pkg/engine"
	"github.com/macforge/macforge/pkg/providers"
	"github.com/macforge/macforge/pkg/system"
)

// Mackup configures settings sync and restores or seeds the backup.
type Mackup struct {
	deps *Deps
}

func (m *Mackup) Spec() engine.ModuleSpec {
	return engine.ModuleSpec{
		Ordinal:    6,
		Name:       NameMackup,
		Title:      "Application settings sync",
		Idempotent: true,
		Requires:   []string{NameHomebrew},
	}
}

func (m *Mackup) Run(ctx context.Context, rc *engine.RunContext) engine.Outcome {
	cfg := rc.Profile.Mackup
	sync := m.deps.Providers.Settings

	if !sync.Installed() {
		return failWarning(NameMackup, "mackup is not installed", engine.ErrCodeToolMissing,
			"brew install mackup", nil)
	}

	path := sync.ConfigPath()
	if current, err := os.ReadFile(path); err == nil && !bytes.Equal(current, providers.RenderConfig(cfg, rc.Env.HomeDir)) {
		if _, err := system.BackupFile(path, rc.Profile.BackupDir); err != nil {
			rc.Logger.Warn().Err(err).Msg("Could not back up mackup config")
		}
	}
	changed, err := sync.WriteConfig(cfg)
	if err != nil {
		return failWarning(NameMackup, "could not write mackup config", engine.ErrCodePermissionDenied, "", err)
	}
	if changed {
		rc.Progress.Success("Wrote " + path)
	}

	root := providers.StorageRoot(cfg, rc.Env)
	if cfg.Engine == "icloud" {
		rc.Progress.Info("Waiting for iCloud Drive")
		if err := m.deps.Host.WaitForPath(ctx, root, cfg.ICloudWaitTimeout); err != nil {
			return failWarning(NameMackup, "iCloud Drive is not available", engine.ErrCodeTimeout,
				"Sign in to iCloud and enable iCloud Drive", err)
		}
	}

	location := filepath.Join(root, cfg.Directory)
	if sync.HasBackup(root, cfg) {
		if !rc.Prompt.Confirm(fmt.Sprintf("Restore application settings from %s?", location), true) {
			return engine.Warning("restore skipped")
		}
		if err := sync.Restore(ctx); err != nil {
			return failWarning(NameMackup, "settings restore failed", engine.ErrCodeExternal, "mackup restore", err)
		}
		rc.Progress.Success("Settings restored")
		return engine.Success("settings restored from " + location)
	}

	// First machine: nothing to restore, so seed the backup instead.
	rc.Progress.Info("No existing settings backup found")
	if !rc.Prompt.Confirm("Back up this Mac's application settings now?", true) {
		return engine.Success("no backup to restore")
	}
	if err := sync.Backup(ctx); err != nil {
		return failWarning(NameMackup, "settings backup failed", engine.ErrCodeExternal, "mackup backup", err)
	}
	rc.Progress.Success("First settings backup created")
	return engine.Success("first backup created in " + location)
}
