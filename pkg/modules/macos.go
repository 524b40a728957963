package modules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/macforge/macforge/pkg/engine"
	"github.com/macforge/macforge/pkg/providers"
)

// MacOS writes the configured user defaults.
type MacOS struct {
	deps *Deps
}

func (m *MacOS) Spec() engine.ModuleSpec {
	return engine.ModuleSpec{
		Ordinal:    5,
		Name:       NameMacOS,
		Title:      "macOS preferences",
		Idempotent: true,
		Requires:   []string{NamePreflight},
	}
}

func (m *MacOS) Run(ctx context.Context, rc *engine.RunContext) engine.Outcome {
	prefs := m.deps.Providers.Preferences
	stamp := m.deps.now().Format("20060102-150405")
	backupDir := filepath.Join(rc.Profile.BackupDir, "defaults")

	exported := make(map[string]bool)
	var (
		restart []string
		failed  []string
		changed int
	)
	for _, entry := range rc.Profile.MacOS.Defaults {
		if err := ctx.Err(); err != nil {
			return failWarning(NameMacOS, "interrupted", engine.ErrCodeCancelled, "", err)
		}

		current, ok, err := prefs.Read(ctx, entry.Domain, entry.Key)
		if err != nil {
			failed = append(failed, entry.Domain+" "+entry.Key)
			continue
		}
		if ok && providers.SameValue(entry.Type, current, entry.Value) {
			continue
		}

		if !exported[entry.Domain] {
			exported[entry.Domain] = true
			if err := os.MkdirAll(backupDir, 0o700); err == nil {
				path := filepath.Join(backupDir, fmt.Sprintf("%s.%s.plist", entry.Domain, stamp))
				if err := prefs.Export(ctx, entry.Domain, path); err != nil {
					rc.Logger.Warn().Err(err).Str("domain", entry.Domain).Msg("Could not back up domain")
				}
			}
		}

		if err := prefs.Write(ctx, entry); err != nil {
			rc.Logger.Warn().Err(err).Str("domain", entry.Domain).Str("key", entry.Key).Msg("Write failed")
			failed = append(failed, entry.Domain+" "+entry.Key)
			continue
		}
		changed++
		rc.Logger.Debug().Str("domain", entry.Domain).Str("key", entry.Key).Str("value", entry.Value).Msg("Preference written")
		if entry.Restart != "" && !slices.Contains(restart, entry.Restart) {
			restart = append(restart, entry.Restart)
		}
	}

	for _, app := range restart {
		if err := m.deps.Providers.Apps.Restart(ctx, app); err != nil {
			rc.Logger.Warn().Err(err).Str("app", app).Msg("Restart failed")
		}
	}

	if len(failed) > 0 {
		return engine.Warning(fmt.Sprintf("%d preferences not applied: %s", len(failed), strings.Join(failed, ", ")))
	}
	if changed == 0 {
		return engine.Success("preferences already applied")
	}
	rc.Progress.Success(fmt.Sprintf("Applied %d preferences", changed))
	return engine.Success(fmt.Sprintf("%d preferences changed", changed))
}
