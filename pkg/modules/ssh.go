package modules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/macforge/macforge/pkg/engine"
	"github.com/macforge/macforge/pkg/system"
)

// SSH points the ssh client at the password manager's agent.
type SSH struct {
	deps *Deps
}

func (m *SSH) Spec() engine.ModuleSpec {
	return engine.ModuleSpec{
		Ordinal:    3,
		Name:       NameSSH,
		Title:      "SSH agent",
		Idempotent: true,
		Requires:   []string{NameHomebrew},
	}
}

func (m *SSH) Run(ctx context.Context, rc *engine.RunContext) engine.Outcome {
	cfg := rc.Profile.SSH
	agent := m.deps.Providers.Agent
	apps := m.deps.Providers.Apps

	if !agent.SocketPresent() {
		if !apps.Running(ctx, cfg.AgentApp) {
			if err := apps.Open(ctx, cfg.AgentApp); err != nil {
				rc.Logger.Warn().Err(err).Str("app", cfg.AgentApp).Msg("Could not open agent app")
			}
		}
		rc.Progress.Info(fmt.Sprintf("Waiting for the %s SSH agent. Enable it under Settings > Developer.", cfg.AgentApp))
		if err := m.deps.Host.WaitForPath(ctx, agent.SocketPath(), cfg.WaitTimeout); err != nil {
			return failWarning(NameSSH, "SSH agent socket did not appear", engine.ErrCodeTimeout,
				fmt.Sprintf("Enable the SSH agent in %s, then run macforge run ssh", cfg.AgentApp), err)
		}
	}

	keys, err := agent.Keys(ctx)
	if err != nil {
		return failWarning(NameSSH, "SSH agent is not responding", engine.ErrCodeExternal,
			fmt.Sprintf("Restart %s", cfg.AgentApp), err)
	}
	rc.Progress.Success(fmt.Sprintf("SSH agent has %d keys", keys))

	var warnings []string
	if keys == 0 {
		warnings = append(warnings, "agent has no keys")
	}

	changed, err := ensureIdentityAgent(cfg.ConfigPath, agent.SocketPath(), cfg.Hosts, rc.Profile.BackupDir)
	if err != nil {
		return failWarning(NameSSH, "could not update ssh config", engine.ErrCodePermissionDenied,
			"chmod 600 "+cfg.ConfigPath, err)
	}
	if changed {
		rc.Progress.Success("Configured IdentityAgent in " + cfg.ConfigPath)
	}

	if cfg.AuthCheck != "" && keys > 0 {
		if err := agent.Authenticate(ctx, cfg.AuthCheck, "git", cfg.KnownHosts); err != nil {
			rc.Logger.Warn().Err(err).Str("server", cfg.AuthCheck).Msg("SSH authentication check failed")
			warnings = append(warnings, "authentication to "+cfg.AuthCheck+" failed")
		} else {
			rc.Progress.Success("Authenticated to " + cfg.AuthCheck)
		}
	}

	if len(warnings) > 0 {
		return engine.Warning(strings.Join(warnings, "; "))
	}
	return engine.Success(fmt.Sprintf("%d keys available", keys))
}

var identityAgentRe = regexp.MustCompile(`(?mi)^\s*IdentityAgent\s+"?([^"\n]+)"?\s*$`)

// hasIdentityAgent reports whether config already points at socket.
func hasIdentityAgent(content, socket string) bool {
	for _, m := range identityAgentRe.FindAllStringSubmatch(content, -1) {
		if value := strings.TrimSpace(m[1]); value == socket || expandTilde(value) == socket {
			return true
		}
	}
	return false
}

func identityAgentBlock(hosts []string, socket string) string {
	var b strings.Builder
	for _, h := range hosts {
		fmt.Fprintf(&b, "Host %s\n  IdentityAgent \"%s\"\n\n", h, socket)
	}
	return b.String()
}

// ensureIdentityAgent prepends IdentityAgent blocks to the ssh config.
// ssh uses the first value it finds, so the blocks go first. The file is
// backed up before it is rewritten.
func ensureIdentityAgent(path, socket string, hosts []string, backupDir string) (bool, error) {
	current, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if hasIdentityAgent(string(current), socket) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if _, err := system.BackupFile(path, backupDir); err != nil {
		return false, err
	}

	content := identityAgentBlock(hosts, socket) + string(current)
	if err := system.WriteFileAtomic(path, []byte(content), 0o600); err != nil {
		return false, err
	}
	return true, nil
}

func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
