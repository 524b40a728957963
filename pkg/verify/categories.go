package verify

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/macforge/macforge/pkg/config"
	"github.com/macforge/macforge/pkg/providers"
	"github.com/macforge/macforge/pkg/stores"
	"github.com/macforge/macforge/pkg/system"
)

// Category groups related checks.
type Category string

const (
	CategoryCore     Category = "core"
	CategoryPackages Category = "packages"
	CategorySecurity Category = "security"
	CategoryDev      Category = "dev"
	CategoryPrefs    Category = "prefs"
	CategoryMackup   Category = "mackup"
	CategoryState    Category = "state"
)

// AllCategories lists every category in canonical order.
var AllCategories = []Category{
	CategoryCore,
	CategoryPackages,
	CategorySecurity,
	CategoryDev,
	CategoryPrefs,
	CategoryMackup,
	CategoryState,
}

// ParseCategories turns a list of tags (each may be a comma list) into
// categories in canonical order. An empty list selects every category.
func ParseCategories(tags ...string) ([]Category, error) {
	wanted := make(map[Category]bool)
	for _, tag := range tags {
		for _, part := range strings.Split(tag, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			c := Category(part)
			if !c.Valid() {
				return nil, fmt.Errorf("unknown category %q (valid: %s)", part, categoryList())
			}
			wanted[c] = true
		}
	}
	if len(wanted) == 0 {
		return append([]Category(nil), AllCategories...), nil
	}
	out := make([]Category, 0, len(wanted))
	for _, c := range AllCategories {
		if wanted[c] {
			out = append(out, c)
		}
	}
	return out, nil
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

func categoryList() string {
	names := make([]string, len(AllCategories))
	for i, c := range AllCategories {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}

// Catalog maps each category to its ordered checks.
type Catalog map[Category][]Check

// Inputs is what the default catalog is built from.
type Inputs struct {
	Profile *config.Profile
	Env     system.Environment

	// Modules are the pipeline modules expected in the completed set.
	Modules []string

	// Store reads the session for the state category.
	Store *stores.FileStore
}

// DefaultCatalog builds the standard checks for a provisioned Mac.
func DefaultCatalog(in Inputs) Catalog {
	p := in.Profile
	if p == nil {
		p = config.Default()
	}
	brew := in.Env.BrewBin()
	if in.Env.BrewPrefix == "" {
		brew = "brew"
	}
	home := in.Env.HomeDir
	if home == "" {
		home, _ = os.UserHomeDir()
	}

	return Catalog{
		CategoryCore:     coreChecks(p, brew),
		CategoryPackages: packageChecks(p, brew),
		CategorySecurity: securityChecks(p),
		CategoryDev:      devChecks(p),
		CategoryPrefs:    prefsChecks(p),
		CategoryMackup:   mackupChecks(p, in.Env, home),
		CategoryState:    stateChecks(in),
	}
}

func coreChecks(p *config.Profile, brew string) []Check {
	checks := []Check{
		OutputCheck("macOS version", StatusFail, ".", "sw_vers", "-productVersion"),
		DirCheck("Xcode Command Line Tools", "/Library/Developer/CommandLineTools", StatusFail),
		FileCheck("Homebrew", brew, StatusFail),
	}
	for _, cmd := range p.Verify.CoreCommands {
		checks = append(checks, CommandCheck(cmd, StatusFail))
	}
	for _, host := range p.Verify.NetworkHosts {
		checks = append(checks, ReachableCheck(host, StatusWarn))
	}
	return checks
}

func packageChecks(p *config.Profile, brew string) []Check {
	return []Check{
		installedCheck("formulae", p.Homebrew.Formulae, brew, "list", "--formula", "-1"),
		installedCheck("casks", p.Homebrew.Casks, brew, "list", "--cask", "-1"),
		installedCheck("taps", p.Homebrew.Taps, brew, "tap"),
		{
			Name: "brew doctor",
			Run: func(ctx context.Context, pr Probe) (Status, string) {
				if _, err := pr.CommandOutput(ctx, brew, "doctor"); err != nil {
					return StatusWarn, "brew doctor reported problems"
				}
				return StatusPass, "ready to brew"
			},
		},
	}
}

// installedCheck lists installed items once and reports the configured
// ones that are missing. Tap-qualified names match on their last segment.
func installedCheck(name string, wanted []string, command string, args ...string) Check {
	return Check{
		Name: name,
		Run: func(ctx context.Context, p Probe) (Status, string) {
			if len(wanted) == 0 {
				return StatusPass, "nothing configured"
			}
			out, err := p.CommandOutput(ctx, command, args...)
			if err != nil {
				return StatusFail, fmt.Sprintf("could not list %s: %v", name, err)
			}
			installed := make(map[string]bool)
			for _, line := range strings.Split(out, "\n") {
				if line = strings.TrimSpace(line); line != "" {
					installed[line] = true
				}
			}
			var missing []string
			for _, w := range wanted {
				if !installed[w] && !installed[path.Base(w)] {
					missing = append(missing, w)
				}
			}
			if len(missing) == 0 {
				return StatusPass, fmt.Sprintf("all %d installed", len(wanted))
			}
			return StatusWarn, "missing: " + strings.Join(missing, ", ")
		},
	}
}

func securityChecks(p *config.Profile) []Check {
	return []Check{
		OutputCheck("FileVault", StatusWarn, "FileVault is On", "fdesetup", "status"),
		OutputCheck("Firewall", StatusWarn, "enabled", "/usr/libexec/ApplicationFirewall/socketfilterfw", "--getglobalstate"),
		OutputCheck("Gatekeeper", StatusWarn, "assessments enabled", "spctl", "--status"),
		OutputCheck("System Integrity Protection", StatusWarn, "enabled", "csrutil", "status"),
		{
			Name: "SSH agent socket",
			Run: func(_ context.Context, pr Probe) (Status, string) {
				if pr.FileExists(p.SSH.AgentSocket) {
					return StatusPass, p.SSH.AgentSocket
				}
				return StatusWarn, fmt.Sprintf("%s agent socket not found", p.SSH.AgentApp)
			},
		},
		OutputCheck("SSH IdentityAgent", StatusWarn, "IdentityAgent", "grep", "-i", "IdentityAgent", p.SSH.ConfigPath),
	}
}

func devChecks(p *config.Profile) []Check {
	return []Check{
		AllOf("dev tools", p.Verify.DevTools, func(_ context.Context, pr Probe, tool string) bool {
			return pr.CommandAvailable(tool)
		}),
		nonEmptyOutput("git user.name", "git", "config", "--global", "user.name"),
		nonEmptyOutput("git user.email", "git", "config", "--global", "user.email"),
		DirCheck("dotfiles repository", filepath.Join(p.DotfilesDir, ".git"), StatusWarn),
	}
}

func nonEmptyOutput(name, command string, args ...string) Check {
	return Check{
		Name: name,
		Run: func(ctx context.Context, p Probe) (Status, string) {
			out, err := p.CommandOutput(ctx, command, args...)
			if err != nil || strings.TrimSpace(out) == "" {
				return StatusWarn, "not configured"
			}
			return StatusPass, strings.TrimSpace(out)
		},
	}
}

func prefsChecks(p *config.Profile) []Check {
	checks := make([]Check, 0, len(p.MacOS.Defaults))
	for _, entry := range p.MacOS.Defaults {
		entry := entry
		checks = append(checks, Check{
			Name: entry.Domain + " " + entry.Key,
			Run: func(ctx context.Context, pr Probe) (Status, string) {
				out, err := pr.CommandOutput(ctx, "defaults", "read", entry.Domain, entry.Key)
				if err != nil {
					return StatusWarn, "not set"
				}
				if providers.SameValue(entry.Type, out, entry.Value) {
					return StatusPass, strings.TrimSpace(out)
				}
				return StatusWarn, fmt.Sprintf("is %s, want %s", strings.TrimSpace(out), entry.Value)
			},
		})
	}
	return checks
}

func mackupChecks(p *config.Profile, env system.Environment, home string) []Check {
	icloud := env.ICloudRoot
	if icloud == "" {
		icloud = system.ICloudDrivePath(home)
	}
	checks := []Check{
		CommandCheck("mackup", StatusWarn),
		FileCheck("mackup config", filepath.Join(home, ".mackup.cfg"), StatusWarn),
	}
	if p.Mackup.Engine == "icloud" {
		checks = append(checks,
			DirCheck("iCloud Drive", icloud, StatusWarn),
			DirCheck("mackup backup", filepath.Join(icloud, p.Mackup.Directory), StatusWarn),
		)
	}
	return checks
}

func stateChecks(in Inputs) []Check {
	return []Check{
		{
			Name: "session",
			Run: func(ctx context.Context, pr Probe) (Status, string) {
				if in.Store == nil {
					return StatusWarn, "no state directory configured"
				}
				if !pr.FileExists(in.Store.SessionPath()) {
					return StatusWarn, "no session recorded"
				}
				s, err := in.Store.Load(ctx)
				if err != nil {
					return StatusWarn, err.Error()
				}
				return StatusPass, fmt.Sprintf("created %s", s.CreatedAt.Format("2006-01-02 15:04"))
			},
		},
		{
			Name: "completed modules",
			Run: func(ctx context.Context, _ Probe) (Status, string) {
				if in.Store == nil {
					return StatusWarn, "no state directory configured"
				}
				s, _ := in.Store.Load(ctx)
				var missing []string
				for _, m := range in.Modules {
					if !s.IsCompleted(m) {
						missing = append(missing, m)
					}
				}
				if len(missing) == 0 {
					return StatusPass, fmt.Sprintf("%d modules completed", len(s.Completed))
				}
				return StatusWarn, "incomplete: " + strings.Join(missing, ", ")
			},
		},
		{
			Name: "keepalive helpers",
			Run: func(_ context.Context, _ Probe) (Status, string) {
				if in.Store == nil {
					return StatusPass, "none"
				}
				markers, _ := filepath.Glob(filepath.Join(in.Store.Dir(), "keepalive-*.pid"))
				own := fmt.Sprintf("keepalive-%d.pid", os.Getpid())
				var stale []string
				for _, m := range markers {
					if filepath.Base(m) != own {
						stale = append(stale, filepath.Base(m))
					}
				}
				if len(stale) == 0 {
					return StatusPass, "none"
				}
				return StatusWarn, "stale markers: " + strings.Join(stale, ", ")
			},
		},
	}
}
