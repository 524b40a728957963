package providers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/macforge/macforge/pkg/config"
	"github.com/macforge/macforge/pkg/system"
)

// Mackup drives the mackup settings-sync tool.
type Mackup struct {
	runner system.Runner
	home   string
}

// NewMackup creates a provider whose config lives in home.
func NewMackup(runner system.Runner, home string) *Mackup {
	return &Mackup{runner: runner, home: home}
}

// Installed reports whether mackup is on PATH.
func (m *Mackup) Installed() bool {
	_, err := m.runner.LookPath("mackup")
	return err == nil
}

// ConfigPath returns ~/.mackup.cfg.
func (m *Mackup) ConfigPath() string {
	return filepath.Join(m.home, ".mackup.cfg")
}

// RenderConfig builds the mackup.cfg contents for cfg.
func RenderConfig(cfg config.MackupConfig, home string) []byte {
	var b bytes.Buffer
	b.WriteString("[storage]\n")
	fmt.Fprintf(&b, "engine = %s\n", cfg.Engine)
	if cfg.Engine == "file_system" {
		fmt.Fprintf(&b, "path = %s\n", home)
	}
	fmt.Fprintf(&b, "directory = %s\n", cfg.Directory)
	if len(cfg.Applications) > 0 {
		b.WriteString("\n[applications_to_sync]\n")
		for _, app := range cfg.Applications {
			b.WriteString(strings.TrimSpace(app) + "\n")
		}
	}
	return b.Bytes()
}

// WriteConfig writes the config file when its contents differ. It reports
// whether the file changed.
func (m *Mackup) WriteConfig(cfg config.MackupConfig) (bool, error) {
	want := RenderConfig(cfg, m.home)
	current, err := os.ReadFile(m.ConfigPath())
	if err == nil && bytes.Equal(current, want) {
		return false, nil
	}
	if err := system.WriteFileAtomic(m.ConfigPath(), want, 0o644); err != nil {
		return false, fmt.Errorf("failed to write mackup config: %w", err)
	}
	return true, nil
}

// StorageRoot returns where the engine keeps its directory.
func StorageRoot(cfg config.MackupConfig, env system.Environment) string {
	switch cfg.Engine {
	case "icloud":
		if env.ICloudRoot != "" {
			return env.ICloudRoot
		}
		return system.ICloudDrivePath(env.HomeDir)
	case "dropbox":
		return filepath.Join(env.HomeDir, "Dropbox")
	default:
		return env.HomeDir
	}
}

// HasBackup reports whether a non-empty backup exists under storageRoot.
func (m *Mackup) HasBackup(storageRoot string, cfg config.MackupConfig) bool {
	entries, err := os.ReadDir(filepath.Join(storageRoot, cfg.Directory))
	return err == nil && len(entries) > 0
}

// Backup copies application settings into storage.
func (m *Mackup) Backup(ctx context.Context) error {
	res, err := m.runner.Run(ctx, "mackup", "backup", "--force")
	return commandError("back up settings", res, err)
}

// Restore links application settings back from storage.
func (m *Mackup) Restore(ctx context.Context) error {
	res, err := m.runner.Run(ctx, "mackup", "restore", "--force")
	return commandError("restore settings", res, err)
}
