package config

import (
	"time"

	"github.com/macforge/macforge/pkg/telemetry"
)

// Profile is the typed configuration every module reads from.
type Profile struct {
	// StateDir holds the session, completed list, cache and history.
	StateDir string `yaml:"state_dir" json:"state_dir" validate:"required"`

	// DotfilesDir is where the dotfiles repository is cloned.
	DotfilesDir string `yaml:"dotfiles_dir" json:"dotfiles_dir" validate:"required"`

	// BackupDir receives copies of files before they are overwritten.
	BackupDir string `yaml:"backup_dir" json:"backup_dir" validate:"required"`

	// ReportDir receives setup reports.
	ReportDir string `yaml:"report_dir" json:"report_dir" validate:"required"`

	Preflight PreflightConfig `yaml:"preflight" json:"preflight"`
	Homebrew  HomebrewConfig  `yaml:"homebrew" json:"homebrew"`
	SSH       SSHConfig       `yaml:"ssh" json:"ssh"`
	Dotfiles  DotfilesConfig  `yaml:"dotfiles" json:"dotfiles"`
	MacOS     MacOSConfig     `yaml:"macos" json:"macos"`
	Mackup    MackupConfig    `yaml:"mackup" json:"mackup"`
	Verify    VerifyConfig    `yaml:"verify" json:"verify"`
	Cleanup   CleanupConfig   `yaml:"cleanup" json:"cleanup"`
	Prompt    PromptConfig    `yaml:"prompt" json:"prompt"`
	Privilege PrivilegeConfig `yaml:"privilege" json:"privilege"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry *telemetry.Config `yaml:"telemetry" json:"telemetry" validate:"required"`
}

// PreflightConfig holds the system requirements checked before anything is installed.
type PreflightConfig struct {
	// MinFreeGB is the free disk space required on the home volume.
	MinFreeGB int `yaml:"min_free_gb" json:"min_free_gb" validate:"min=0"`

	// NetworkProbe is a host:port dialled to confirm connectivity.
	NetworkProbe string `yaml:"network_probe" json:"network_probe" validate:"required,hostname_port"`

	// NetworkTimeout bounds the connectivity probe.
	NetworkTimeout time.Duration `yaml:"network_timeout" json:"network_timeout"`

	// CLTWaitTimeout bounds the wait for the Command Line Tools install.
	CLTWaitTimeout time.Duration `yaml:"clt_wait_timeout" json:"clt_wait_timeout"`
}

// HomebrewConfig lists the packages to install.
type HomebrewConfig struct {
	// InstallScriptURL is the official Homebrew installer.
	InstallScriptURL string `yaml:"install_script_url" json:"install_script_url" validate:"required,url"`

	// Update runs brew update before installing.
	Update bool `yaml:"update" json:"update"`

	Taps     []string `yaml:"taps" json:"taps" validate:"dive,required"`
	Formulae []string `yaml:"formulae" json:"formulae" validate:"dive,required"`
	Casks    []string `yaml:"casks" json:"casks" validate:"dive,required"`
}

// SSHConfig configures the credential agent integration.
type SSHConfig struct {
	// AgentSocket is the agent's unix socket.
	AgentSocket string `yaml:"agent_socket" json:"agent_socket" validate:"required"`

	// AgentApp is the application that provides the agent.
	AgentApp string `yaml:"agent_app" json:"agent_app" validate:"required"`

	// ConfigPath is the ssh client config to update.
	ConfigPath string `yaml:"config_path" json:"config_path" validate:"required"`

	// Hosts the IdentityAgent directive applies to.
	Hosts []string `yaml:"hosts" json:"hosts" validate:"min=1,dive,required"`

	// WaitTimeout bounds the wait for the agent socket to appear.
	WaitTimeout time.Duration `yaml:"wait_timeout" json:"wait_timeout"`

	// AuthCheck is an SSH server the agent's keys are tried against.
	// Empty disables the check.
	AuthCheck string `yaml:"auth_check" json:"auth_check" validate:"omitempty,hostname_port"`

	// KnownHosts verifies the AuthCheck server's host key.
	KnownHosts string `yaml:"known_hosts" json:"known_hosts"`
}

// DotfilesConfig identifies the dotfiles repository.
type DotfilesConfig struct {
	Repository string `yaml:"repository" json:"repository"`
	Branch     string `yaml:"branch" json:"branch"`

	// InstallScript is run from the repository root when present.
	InstallScript string `yaml:"install_script" json:"install_script"`
}

// DefaultsEntry is a single `defaults write` setting.
type DefaultsEntry struct {
	Domain string `yaml:"domain" json:"domain" validate:"required"`
	Key    string `yaml:"key" json:"key" validate:"required"`
	Type   string `yaml:"type" json:"type" validate:"required,oneof=bool int float string"`
	Value  string `yaml:"value" json:"value"`

	// Restart names the application to restart when the value changes.
	Restart string `yaml:"restart,omitempty" json:"restart,omitempty"`
}

// MacOSConfig holds system preference settings.
type MacOSConfig struct {
	Defaults []DefaultsEntry `yaml:"defaults" json:"defaults" validate:"dive"`
}

// MackupConfig configures application settings sync.
type MackupConfig struct {
	// Engine is the mackup storage engine.
	Engine string `yaml:"engine" json:"engine" validate:"required,oneof=icloud dropbox file_system"`

	// Directory is the folder inside the storage root.
	Directory string `yaml:"directory" json:"directory" validate:"required"`

	// Applications restricts syncing to the named applications.
	Applications []string `yaml:"applications" json:"applications"`

	// ICloudWaitTimeout bounds the wait for iCloud Drive.
	ICloudWaitTimeout time.Duration `yaml:"icloud_wait_timeout" json:"icloud_wait_timeout"`
}

// VerifyConfig controls the verification engine.
type VerifyConfig struct {
	// Categories selected when none are given on the command line.
	Categories []string `yaml:"categories" json:"categories" validate:"dive,oneof=core packages security dev prefs mackup state"`

	// Concurrency caps the categories checked at once.
	Concurrency int `yaml:"concurrency" json:"concurrency" validate:"min=1"`

	// CoreCommands must be available for the core category to pass.
	CoreCommands []string `yaml:"core_commands" json:"core_commands"`

	// DevTools are checked by the dev category.
	DevTools []string `yaml:"dev_tools" json:"dev_tools"`

	// NetworkHosts are probed by the core category.
	NetworkHosts []string `yaml:"network_hosts" json:"network_hosts" validate:"dive,hostname_port"`
}

// CleanupConfig controls the cleanup module.
type CleanupConfig struct {
	// Mode is quick or full.
	Mode string `yaml:"mode" json:"mode" validate:"oneof=quick full"`

	// RestartApps lists applications restarted at the end.
	RestartApps []string `yaml:"restart_apps" json:"restart_apps"`

	// NoRestart skips restarting applications.
	NoRestart bool `yaml:"no_restart" json:"no_restart"`

	// NoReport skips writing a report.
	NoReport bool `yaml:"no_report" json:"no_report"`

	// ReportMaxAge is the age after which full cleanup removes old reports.
	ReportMaxAge time.Duration `yaml:"report_max_age" json:"report_max_age"`

	// TempPaths are removed by full cleanup.
	TempPaths []string `yaml:"temp_paths" json:"temp_paths"`
}

// PromptConfig controls the interactive prompt gate.
type PromptConfig struct {
	// AssumeDefaults answers every prompt with its default.
	AssumeDefaults bool `yaml:"assume_defaults" json:"assume_defaults"`

	// Timeout resolves an unanswered prompt to its default. Zero waits forever.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// PrivilegeConfig controls the sudo keepalive.
type PrivilegeConfig struct {
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" json:"keepalive_interval" validate:"min=1s"`
}
