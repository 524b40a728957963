package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/macforge/macforge/pkg/system"
)

// Homebrew drives the brew executable.
type Homebrew struct {
	runner system.Runner
	bin    string
}

// NewHomebrew creates a provider for the brew binary at bin. When bin does
// not exist the executable is resolved through PATH.
func NewHomebrew(runner system.Runner, bin string) *Homebrew {
	return &Homebrew{runner: runner, bin: bin}
}

func (h *Homebrew) brew() string {
	if h.bin != "" {
		if _, err := os.Stat(h.bin); err == nil {
			return h.bin
		}
	}
	return "brew"
}

// Available reports whether brew can be executed.
func (h *Homebrew) Available() bool {
	if h.bin != "" {
		if _, err := os.Stat(h.bin); err == nil {
			return true
		}
	}
	_, err := h.runner.LookPath("brew")
	return err == nil
}

// Bootstrap runs the official install script attached to the terminal.
func (h *Homebrew) Bootstrap(ctx context.Context, scriptURL string) error {
	script := fmt.Sprintf(`/bin/bash -c "$(curl -fsSL %s)"`, scriptURL)
	if err := h.runner.RunInteractive(ctx, "/bin/bash", "-c", script); err != nil {
		return fmt.Errorf("failed to install Homebrew: %w", err)
	}
	return nil
}

// Version returns the first line of brew --version.
func (h *Homebrew) Version(ctx context.Context) (string, error) {
	res, err := h.runner.Run(ctx, h.brew(), "--version")
	if err := commandError("query brew version", res, err); err != nil {
		return "", err
	}
	return firstLine(res.Output()), nil
}

// Installed lists installed packages of kind.
func (h *Homebrew) Installed(ctx context.Context, kind PackageKind) (map[string]bool, error) {
	res, err := h.runner.Run(ctx, h.brew(), "list", "--"+string(kind), "-1")
	if err := commandError("list installed packages", res, err); err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	for _, name := range lines(res.Stdout) {
		set[name] = true
	}
	return set, nil
}

// Install installs a single package.
func (h *Homebrew) Install(ctx context.Context, kind PackageKind, name string) error {
	args := []string{"install"}
	if kind == KindCask {
		args = append(args, "--cask")
	}
	args = append(args, name)
	res, err := h.runner.RunCommand(ctx, system.Command{
		Name: h.brew(),
		Args: args,
		Env:  map[string]string{"HOMEBREW_NO_AUTO_UPDATE": "1"},
	})
	return commandError("install "+name, res, err)
}

// Taps lists the configured taps.
func (h *Homebrew) Taps(ctx context.Context) (map[string]bool, error) {
	res, err := h.runner.Run(ctx, h.brew(), "tap")
	if err := commandError("list taps", res, err); err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	for _, name := range lines(res.Stdout) {
		set[strings.ToLower(name)] = true
	}
	return set, nil
}

// Tap adds a third-party repository.
func (h *Homebrew) Tap(ctx context.Context, name string) error {
	res, err := h.runner.Run(ctx, h.brew(), "tap", name)
	return commandError("tap "+name, res, err)
}

// Update refreshes the package index.
func (h *Homebrew) Update(ctx context.Context) error {
	res, err := h.runner.Run(ctx, h.brew(), "update")
	return commandError("update Homebrew", res, err)
}

// Cleanup removes stale downloads and old versions.
func (h *Homebrew) Cleanup(ctx context.Context) error {
	res, err := h.runner.Run(ctx, h.brew(), "cleanup", "--prune=all")
	return commandError("clean up Homebrew", res, err)
}

// CachePath returns the download cache directory.
func (h *Homebrew) CachePath(ctx context.Context) (string, error) {
	res, err := h.runner.Run(ctx, h.brew(), "--cache")
	if err := commandError("locate Homebrew cache", res, err); err != nil {
		return "", err
	}
	return res.Output(), nil
}

// EnsurePackages installs every missing name. Individual failures are
// reported in the results instead of aborting the batch.
func EnsurePackages(ctx context.Context, pm PackageManager, kind PackageKind, names []string) ([]EnsureResult, error) {
	installed, err := pm.Installed(ctx, kind)
	if err != nil {
		return nil, err
	}

	results := make([]EnsureResult, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r := EnsureResult{Name: name, Kind: kind}
		short := name
		if i := strings.LastIndex(name, "/"); i >= 0 {
			short = name[i+1:]
		}
		switch {
		case installed[name] || installed[short]:
			r.Action = ActionAlreadyPresent
		default:
			if err := pm.Install(ctx, kind, name); err != nil {
				r.Action = ActionFailed
				r.Err = err
			} else {
				r.Action = ActionInstalled
				r.Changed = true
			}
		}
		results = append(results, r)
	}
	return results, nil
}
