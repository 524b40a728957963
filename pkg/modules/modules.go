// Package modules holds the setup steps run by the pipeline, in order:
// preflight, homebrew, ssh, dotfiles, macos, mackup, verify and cleanup.
package modules

import (
	"context"
	"time"

	"github.com/macforge/macforge/pkg/engine"
	"github.com/macforge/macforge/pkg/providers"
	"github.com/macforge/macforge/pkg/stores"
	"github.com/macforge/macforge/pkg/system"
	"github.com/macforge/macforge/pkg/telemetry"
	"github.com/macforge/macforge/pkg/verify"
)

// Module names. They are stable: the completed set and the command line
// refer to modules by these names.
const (
	NamePreflight = "preflight"
	NameHomebrew  = "homebrew"
	NameSSH       = "ssh"
	NameDotfiles  = "dotfiles"
	NameMacOS     = "macos"
	NameMackup    = "mackup"
	NameVerify    = "verify"
	NameCleanup   = "cleanup"
)

// Host groups the host facilities modules use directly. Tests replace
// them.
type Host struct {
	IsMacOS     func() bool
	FreeBytes   func(path string) (uint64, error)
	Reachable   func(ctx context.Context, address string, timeout time.Duration) error
	WaitForPath func(ctx context.Context, path string, timeout time.Duration) error
}

// DefaultHost returns the real host facilities.
func DefaultHost() Host {
	return Host{
		IsMacOS:     system.IsMacOS,
		FreeBytes:   system.FreeBytes,
		Reachable:   system.Reachable,
		WaitForPath: system.WaitForPath,
	}
}

// Deps are the collaborators shared by all modules.
type Deps struct {
	Runner    system.Runner
	Providers *providers.Set
	Store     *stores.FileStore
	History   stores.HistoryStore
	Telemetry *telemetry.Telemetry
	Host      Host

	// Probe backs the verify module. Defaults to a HostProbe over Runner.
	Probe verify.Probe

	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) probe() verify.Probe {
	if d.Probe != nil {
		return d.Probe
	}
	return system.NewHostProbe(d.Runner)
}

// Default returns the full pipeline in order.
func Default(deps *Deps) []engine.Module {
	if deps.Host.IsMacOS == nil {
		deps.Host = DefaultHost()
	}
	v := &Verify{deps: deps}
	return []engine.Module{
		&Preflight{deps: deps},
		&Homebrew{deps: deps},
		&SSH{deps: deps},
		&Dotfiles{deps: deps},
		&MacOS{deps: deps},
		&Mackup{deps: deps},
		v,
		&Cleanup{deps: deps, verification: v.Last},
	}
}

// provisioning lists the modules that change the machine. The state
// category expects them in the completed set.
var provisioning = []string{NamePreflight, NameHomebrew, NameSSH, NameDotfiles, NameMacOS, NameMackup}

func failFatal(module, details, code, remediation string, err error) engine.Outcome {
	e := engine.NewFatalError(details, err).WithModule(module).WithCode(code)
	if remediation != "" {
		e = e.WithRemediation(remediation)
	}
	return engine.Failure(details, e)
}

func failWarning(module, details, code, remediation string, err error) engine.Outcome {
	e := engine.NewWarningError(details, err).WithModule(module).WithCode(code)
	if remediation != "" {
		e = e.WithRemediation(remediation)
	}
	return engine.Failure(details, e)
}
