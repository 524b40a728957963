package system

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Architecture is the CPU family of the machine being provisioned.
type Architecture string

const (
	ArchAppleSilicon Architecture = "apple_silicon"
	ArchIntel        Architecture = "intel"
	ArchUnknown      Architecture = "unknown"
)

// ParseArchitecture maps a uname machine string or GOARCH value to an Architecture.
func ParseArchitecture(machine string) Architecture {
	switch strings.TrimSpace(strings.ToLower(machine)) {
	case "arm64", "aarch64", string(ArchAppleSilicon):
		return ArchAppleSilicon
	case "x86_64", "amd64", string(ArchIntel):
		return ArchIntel
	default:
		return ArchUnknown
	}
}

// BrewPrefix is the default Homebrew prefix for the architecture.
func (a Architecture) BrewPrefix() string {
	if a == ArchIntel {
		return "/usr/local"
	}
	return "/opt/homebrew"
}

func (a Architecture) String() string {
	return string(a)
}

// Environment holds the facts every module receives.
type Environment struct {
	Arch       Architecture `json:"arch"`
	OSVersion  string       `json:"os_version"`
	Hostname   string       `json:"hostname"`
	HomeDir    string       `json:"home_dir"`
	BrewPrefix string       `json:"brew_prefix"`
	// ICloudRoot is the iCloud Drive directory used as shared storage.
	ICloudRoot  string `json:"icloud_root"`
	StateDir    string `json:"state_dir"`
	DotfilesDir string `json:"dotfiles_dir"`
	BackupDir   string `json:"backup_dir"`
	ReportDir   string `json:"report_dir"`
}

// BrewBin returns the path of the brew executable under the prefix.
func (e Environment) BrewBin() string {
	return filepath.Join(e.BrewPrefix, "bin", "brew")
}

// IsMacOS reports whether the current process runs on macOS.
func IsMacOS() bool {
	return runtime.GOOS == "darwin"
}

// ICloudDrivePath returns the iCloud Drive root below home.
func ICloudDrivePath(home string) string {
	return filepath.Join(home, "Library", "Mobile Documents", "com~apple~CloudDocs")
}

// Detect gathers machine facts. Working directories are left for the caller
// to fill from configuration.
func Detect(ctx context.Context, runner Runner) (Environment, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Environment{}, err
	}
	hostname, _ := os.Hostname()

	env := Environment{
		Arch:       detectArch(ctx, runner),
		Hostname:   hostname,
		HomeDir:    home,
		ICloudRoot: ICloudDrivePath(home),
	}
	env.BrewPrefix = env.Arch.BrewPrefix()

	if res, err := runner.Run(ctx, "sw_vers", "-productVersion"); err == nil && res.Success() {
		env.OSVersion = res.Output()
	}

	return env, nil
}

// detectArch prefers uname but corrects for a Rosetta-translated process.
func detectArch(ctx context.Context, runner Runner) Architecture {
	arch := ParseArchitecture(runtime.GOARCH)
	if res, err := runner.Run(ctx, "uname", "-m"); err == nil && res.Success() {
		arch = ParseArchitecture(res.Output())
	}
	if arch == ArchIntel {
		if res, err := runner.Run(ctx, "sysctl", "-in", "sysctl.proc_translated"); err == nil && res.Output() == "1" {
			arch = ArchAppleSilicon
		}
	}
	return arch
}
