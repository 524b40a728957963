package system

import (
	"context"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

// FreeBytes returns the space available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem %s: %w", path, err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

// Reachable dials address (host:port) over TCP within timeout.
func Reachable(ctx context.Context, address string, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// HostProbe answers read-only questions about the machine. It never
// changes system state.
type HostProbe struct {
	runner  Runner
	timeout time.Duration
}

// NewHostProbe creates a probe using runner for command-backed queries.
func NewHostProbe(runner Runner) *HostProbe {
	return &HostProbe{runner: runner, timeout: 5 * time.Second}
}

// FileExists reports whether path exists and is not a directory.
func (p *HostProbe) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DirExists reports whether path is a directory.
func (p *HostProbe) DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// CommandAvailable reports whether name resolves on PATH.
func (p *HostProbe) CommandAvailable(name string) bool {
	_, err := p.runner.LookPath(name)
	return err == nil
}

// ProcessRunning reports whether a process with exactly this name exists.
func (p *HostProbe) ProcessRunning(ctx context.Context, name string) bool {
	res, err := p.runner.Run(ctx, "pgrep", "-x", name)
	return err == nil && res.Success()
}

// Reachable reports whether a TCP connection to address succeeds.
func (p *HostProbe) Reachable(ctx context.Context, address string) bool {
	return Reachable(ctx, address, p.timeout) == nil
}

// CommandOutput runs a read-only query command and returns trimmed stdout.
func (p *HostProbe) CommandOutput(ctx context.Context, name string, args ...string) (string, error) {
	res, err := p.runner.Run(ctx, name, args...)
	if err != nil {
		return "", err
	}
	if !res.Success() {
		return res.Output(), fmt.Errorf("%s exited with status %d", name, res.ExitCode)
	}
	return res.Output(), nil
}
