package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/macforge/macforge/pkg/telemetry"
)

// Well-known locations.
const (
	DefaultStateDirName = ".macforge"
	DefaultProfilePath  = "~/.config/macforge/profile.yaml"
	ProfileEnvVar       = "MACFORGE_PROFILE"

	// OnePasswordAgentSocket is where 1Password exposes its SSH agent.
	OnePasswordAgentSocket = "~/Library/Group Containers/2BUA8C4S2C.com.1password/t/agent.sock"
)

// Default returns the built-in profile with paths rooted in the user's home.
func Default() *Profile {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	stateDir := filepath.Join(home, DefaultStateDirName)

	tel := telemetry.DefaultConfig()
	tel.Metrics.Textfile = filepath.Join(stateDir, "metrics.prom")

	return &Profile{
		StateDir:    stateDir,
		DotfilesDir: filepath.Join(home, ".dotfiles"),
		BackupDir:   filepath.Join(stateDir, "backups"),
		ReportDir:   filepath.Join(home, "Desktop"),
		Preflight: PreflightConfig{
			MinFreeGB:      10,
			NetworkProbe:   "github.com:443",
			NetworkTimeout: 5 * time.Second,
			CLTWaitTimeout: 30 * time.Minute,
		},
		Homebrew: HomebrewConfig{
			InstallScriptURL: "https://raw.githubusercontent.com/Homebrew/install/HEAD/install.sh",
			Update:           true,
			Taps:             []string{},
			Formulae:         []string{"git", "gh", "mackup", "jq", "ripgrep", "fzf", "zsh-autosuggestions"},
			Casks:            []string{"1password", "1password-cli", "iterm2", "visual-studio-code"},
		},
		SSH: SSHConfig{
			AgentSocket: expandHome(OnePasswordAgentSocket, home),
			AgentApp:    "1Password",
			ConfigPath:  filepath.Join(home, ".ssh", "config"),
			Hosts:       []string{"*"},
			WaitTimeout: 2 * time.Minute,
			AuthCheck:   "github.com:22",
			KnownHosts:  filepath.Join(home, ".ssh", "known_hosts"),
		},
		Dotfiles: DotfilesConfig{
			Branch:        "main",
			InstallScript: "install.sh",
		},
		MacOS: MacOSConfig{
			Defaults: []DefaultsEntry{
				{Domain: "com.apple.finder", Key: "ShowPathbar", Type: "bool", Value: "true", Restart: "Finder"},
				{Domain: "com.apple.finder", Key: "AppleShowAllFiles", Type: "bool", Value: "true", Restart: "Finder"},
				{Domain: "com.apple.dock", Key: "autohide", Type: "bool", Value: "true", Restart: "Dock"},
				{Domain: "com.apple.dock", Key: "tilesize", Type: "int", Value: "48", Restart: "Dock"},
				{Domain: "NSGlobalDomain", Key: "AppleShowAllExtensions", Type: "bool", Value: "true"},
				{Domain: "NSGlobalDomain", Key: "KeyRepeat", Type: "int", Value: "2"},
				{Domain: "com.apple.screencapture", Key: "type", Type: "string", Value: "png", Restart: "SystemUIServer"},
			},
		},
		Mackup: MackupConfig{
			Engine:            "icloud",
			Directory:         "Mackup",
			ICloudWaitTimeout: 5 * time.Minute,
		},
		Verify: VerifyConfig{
			Concurrency:  4,
			CoreCommands: []string{"brew", "git", "zsh", "curl"},
			DevTools:     []string{"gh", "jq", "rg", "fzf"},
			NetworkHosts: []string{"github.com:443"},
		},
		Cleanup: CleanupConfig{
			Mode:         "full",
			RestartApps:  []string{"Finder", "Dock"},
			ReportMaxAge: 30 * 24 * time.Hour,
			TempPaths:    []string{filepath.Join(stateDir, "cache")},
		},
		Prompt: PromptConfig{
			Timeout: 0,
		},
		Privilege: PrivilegeConfig{
			KeepaliveInterval: 60 * time.Second,
		},
		Telemetry: tel,
	}
}
