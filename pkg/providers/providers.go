// Package providers wraps the external tools the setup modules drive.
// Each provider is a black box behind a small capability interface so that
// modules can be tested against fakes.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/macforge/macforge/pkg/config"
	"github.com/macforge/macforge/pkg/system"
)

// PackageKind distinguishes Homebrew formulae from casks.
type PackageKind string

const (
	KindFormula PackageKind = "formula"
	KindCask    PackageKind = "cask"
)

// Action describes what an ensure call did.
type Action string

const (
	ActionAlreadyPresent Action = "already_present"
	ActionInstalled      Action = "installed"
	ActionFailed         Action = "failed"
)

// EnsureResult is returned by idempotent ensure operations.
type EnsureResult struct {
	Name    string
	Kind    PackageKind
	Action  Action
	Changed bool
	Err     error
}

// PackageManager installs and inventories packages.
type PackageManager interface {
	Available() bool
	Bootstrap(ctx context.Context, scriptURL string) error
	Version(ctx context.Context) (string, error)
	Installed(ctx context.Context, kind PackageKind) (map[string]bool, error)
	Install(ctx context.Context, kind PackageKind, name string) error
	Taps(ctx context.Context) (map[string]bool, error)
	Tap(ctx context.Context, name string) error
	Update(ctx context.Context) error
	Cleanup(ctx context.Context) error
	CachePath(ctx context.Context) (string, error)
}

// CredentialAgent is an SSH agent reachable over a unix socket.
type CredentialAgent interface {
	SocketPath() string
	SocketPresent() bool
	Keys(ctx context.Context) (int, error)
	Authenticate(ctx context.Context, address, user, knownHostsPath string) error
}

// Repository manages a git working copy.
type Repository interface {
	IsRepo(ctx context.Context, dir string) bool
	Clone(ctx context.Context, url, branch, dir string) error
	HasUpstream(ctx context.Context, dir string) bool
	Pull(ctx context.Context, dir string) error
}

// PreferenceStore reads and writes macOS user defaults.
type PreferenceStore interface {
	Read(ctx context.Context, domain, key string) (string, bool, error)
	Write(ctx context.Context, entry config.DefaultsEntry) error
	Export(ctx context.Context, domain, path string) error
}

// SettingsSync backs application settings up to shared storage.
type SettingsSync interface {
	Installed() bool
	ConfigPath() string
	WriteConfig(cfg config.MackupConfig) (bool, error)
	HasBackup(storageRoot string, cfg config.MackupConfig) bool
	Backup(ctx context.Context) error
	Restore(ctx context.Context) error
}

// AppController manages running GUI applications.
type AppController interface {
	Running(ctx context.Context, app string) bool
	Open(ctx context.Context, app string) error
	Restart(ctx context.Context, app string) error
}

// Set bundles the providers handed to modules.
type Set struct {
	Packages    PackageManager
	Agent       CredentialAgent
	Repo        Repository
	Preferences PreferenceStore
	Settings    SettingsSync
	Apps        AppController
}

// NewSet wires the real providers for env and profile.
func NewSet(runner system.Runner, env system.Environment, p *config.Profile, logger zerolog.Logger) *Set {
	return &Set{
		Packages:    NewHomebrew(runner, env.BrewBin()),
		Agent:       NewAgent(p.SSH.AgentSocket, WithAgentLogger(logger)),
		Repo:        NewGit(runner),
		Preferences: NewDefaults(runner),
		Settings:    NewMackup(runner, env.HomeDir),
		Apps:        NewApps(runner),
	}
}

// commandError turns a failed command into an error carrying its output.
func commandError(what string, res *system.CmdResult, err error) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if res.Success() {
		return nil
	}
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = res.Output()
	}
	if msg == "" {
		return fmt.Errorf("failed to %s: exit status %d", what, res.ExitCode)
	}
	return fmt.Errorf("failed to %s: %s", what, firstLine(msg))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
