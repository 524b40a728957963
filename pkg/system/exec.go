// Package system wraps the host facilities the setup modules depend on:
// command execution, environment detection, bounded waits and file backups.
package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// CmdResult holds the captured output of a finished command.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Success reports whether the command exited with status zero.
func (r *CmdResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Output returns trimmed stdout.
func (r *CmdResult) Output() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Stdout)
}

// Combined returns trimmed stdout and stderr, useful in diagnostics.
func (r *CmdResult) Combined() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimSpace(r.Stdout) + "\n" + strings.TrimSpace(r.Stderr))
}

// Command describes a single invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   map[string]string
	Stdin io.Reader
	// Sudo runs the command through non-interactive sudo. The caller must
	// already hold a valid sudo timestamp.
	Sudo bool
}

func (c Command) String() string {
	parts := append([]string{c.Name}, c.Args...)
	if c.Sudo {
		parts = append([]string{"sudo"}, parts...)
	}
	return strings.Join(parts, " ")
}

// Runner executes external commands. A non-zero exit status is reported
// through CmdResult.ExitCode; the error return is reserved for commands
// that could not be started at all.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*CmdResult, error)
	RunCommand(ctx context.Context, cmd Command) (*CmdResult, error)
	// RunInteractive attaches the process to the current terminal.
	RunInteractive(ctx context.Context, name string, args ...string) error
	LookPath(name string) (string, error)
}

// ExecRunner is the Runner backed by os/exec.
type ExecRunner struct {
	logger zerolog.Logger
}

// NewExecRunner creates a runner that logs each invocation at debug level.
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger.With().Str("component", "exec").Logger()}
}

// Run executes name with args and captures its output.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*CmdResult, error) {
	return r.RunCommand(ctx, Command{Name: name, Args: args})
}

// RunCommand executes cmd and captures its output.
func (r *ExecRunner) RunCommand(ctx context.Context, cmd Command) (*CmdResult, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("command is required")
	}

	name, args := cmd.Name, cmd.Args
	if cmd.Sudo {
		args = append([]string{"-n", name}, args...)
		name = "sudo"
	}

	c := exec.CommandContext(ctx, name, args...)
	if cmd.Dir != "" {
		c.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		env := os.Environ()
		for k, v := range cmd.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		c.Env = env
	}
	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	result := &CmdResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", cmd.Name, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	r.logger.Debug().
		Str("command", cmd.String()).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Command finished")

	return result, nil
}

// RunInteractive runs a command wired to the process's own stdio.
func (r *ExecRunner) RunInteractive(ctx context.Context, name string, args ...string) error {
	c := exec.CommandContext(ctx, name, args...)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr

	r.logger.Debug().Str("command", name).Strs("args", args).Msg("Running interactive command")
	if err := c.Run(); err != nil {
		return fmt.Errorf("failed to run %s: %w", name, err)
	}
	return nil
}

// LookPath reports where name would be found on PATH.
func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
