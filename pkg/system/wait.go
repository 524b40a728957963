package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrWaitTimeout is returned when a bounded wait expires.
var ErrWaitTimeout = errors.New("timed out waiting")

// DefaultPollInterval is used when a wait is given no interval.
const DefaultPollInterval = 2 * time.Second

// WaitFor polls cond at a fixed interval until it returns true, the timeout
// expires or ctx is cancelled.
func WaitFor(ctx context.Context, timeout, interval time.Duration, cond func() bool) error {
	if cond() {
		return nil
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrWaitTimeout
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}

// WaitForPath blocks until path exists. It watches the nearest existing
// ancestor directory for create events and also polls, since intermediate
// directories created later are not covered by the watch.
func WaitForPath(ctx context.Context, path string, timeout time.Duration) error {
	exists := func() bool {
		_, err := os.Stat(path)
		return err == nil
	}
	if exists() {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Polling alone still honours the timeout.
		return WaitFor(ctx, timeout, DefaultPollInterval, exists)
	}
	defer watcher.Close()

	if dir := nearestExistingDir(filepath.Dir(path)); dir != "" {
		if err := watcher.Add(dir); err != nil {
			return WaitFor(ctx, timeout, DefaultPollInterval, exists)
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w for %s", ErrWaitTimeout, path)
		case event, ok := <-watcher.Events:
			if !ok {
				return WaitFor(ctx, timeout, DefaultPollInterval, exists)
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) != 0 && exists() {
				return nil
			}
		case <-watcher.Errors:
			// Fall through to the next poll.
		case <-ticker.C:
			if exists() {
				return nil
			}
		}
	}
}

func nearestExistingDir(dir string) string {
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
