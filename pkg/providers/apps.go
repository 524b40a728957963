package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/macforge/macforge/pkg/system"
)

// Apps controls GUI applications through pgrep, killall and open.
type Apps struct {
	runner system.Runner
	settle time.Duration
}

// NewApps creates an application controller.
func NewApps(runner system.Runner) *Apps {
	return &Apps{runner: runner, settle: time.Second}
}

// Running reports whether a process named app exists.
func (a *Apps) Running(ctx context.Context, app string) bool {
	res, err := a.runner.Run(ctx, "pgrep", "-x", app)
	return err == nil && res.Success()
}

// Open launches app by name.
func (a *Apps) Open(ctx context.Context, app string) error {
	res, err := a.runner.Run(ctx, "open", "-a", app)
	return commandError("open "+app, res, err)
}

// Restart kills app so that launchd brings it back. Apps that launchd does
// not manage are reopened. An app that is not running is left alone.
func (a *Apps) Restart(ctx context.Context, app string) error {
	if !a.Running(ctx, app) {
		return nil
	}
	res, err := a.runner.Run(ctx, "killall", app)
	if err := commandError("restart "+app, res, err); err != nil {
		return err
	}
	if launchdManaged[app] {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(a.settle):
	}
	if err := a.Open(ctx, app); err != nil {
		return fmt.Errorf("failed to relaunch %s: %w", app, err)
	}
	return nil
}

var launchdManaged = map[string]bool{
	"Finder":         true,
	"Dock":           true,
	"SystemUIServer": true,
	"cfprefsd":       true,
}
