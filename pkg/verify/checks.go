package verify

import (
	"context"
	"fmt"
	"strings"
)

// Probe answers read-only questions about the host.
type Probe interface {
	FileExists(path string) bool
	DirExists(path string) bool
	CommandAvailable(name string) bool
	ProcessRunning(ctx context.Context, name string) bool
	Reachable(ctx context.Context, address string) bool
	CommandOutput(ctx context.Context, name string, args ...string) (string, error)
}

// Check is a single read-only inspection.
type Check struct {
	Name string
	Run  func(ctx context.Context, p Probe) (Status, string)
}

// FileCheck passes when path is a regular file.
func FileCheck(name, path string, missing Status) Check {
	return Check{
		Name: name,
		Run: func(_ context.Context, p Probe) (Status, string) {
			if p.FileExists(path) {
				return StatusPass, path
			}
			return missing, fmt.Sprintf("%s not found", path)
		},
	}
}

// DirCheck passes when path is a directory.
func DirCheck(name, path string, missing Status) Check {
	return Check{
		Name: name,
		Run: func(_ context.Context, p Probe) (Status, string) {
			if p.DirExists(path) {
				return StatusPass, path
			}
			return missing, fmt.Sprintf("%s not found", path)
		},
	}
}

// CommandCheck passes when command is on PATH.
func CommandCheck(command string, missing Status) Check {
	return Check{
		Name: command,
		Run: func(_ context.Context, p Probe) (Status, string) {
			if p.CommandAvailable(command) {
				return StatusPass, "available"
			}
			return missing, fmt.Sprintf("%s command not found", command)
		},
	}
}

// ReachableCheck passes when address accepts a TCP connection.
func ReachableCheck(address string, unreachable Status) Check {
	return Check{
		Name: "network " + address,
		Run: func(ctx context.Context, p Probe) (Status, string) {
			if p.Reachable(ctx, address) {
				return StatusPass, "reachable"
			}
			return unreachable, fmt.Sprintf("%s unreachable", address)
		},
	}
}

// OutputCheck runs a command and passes when its output contains want.
func OutputCheck(name string, mismatch Status, want string, command string, args ...string) Check {
	return Check{
		Name: name,
		Run: func(ctx context.Context, p Probe) (Status, string) {
			out, err := p.CommandOutput(ctx, command, args...)
			if err != nil {
				return mismatch, fmt.Sprintf("could not run %s: %v", command, err)
			}
			if strings.Contains(strings.ToLower(out), strings.ToLower(want)) {
				return StatusPass, firstLine(out)
			}
			return mismatch, firstLine(out)
		},
	}
}

// AllOf passes when present returns true for every member, and otherwise
// warns with the list of missing members.
func AllOf(name string, members []string, present func(ctx context.Context, p Probe, member string) bool) Check {
	return Check{
		Name: name,
		Run: func(ctx context.Context, p Probe) (Status, string) {
			if len(members) == 0 {
				return StatusPass, "nothing configured"
			}
			var missing []string
			for _, m := range members {
				if !present(ctx, p, m) {
					missing = append(missing, m)
				}
			}
			if len(missing) == 0 {
				return StatusPass, fmt.Sprintf("all %d present", len(members))
			}
			return StatusWarn, "missing: " + strings.Join(missing, ", ")
		},
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
