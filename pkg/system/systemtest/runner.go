// Package systemtest provides a scripted system.Runner for tests.
package systemtest

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/macforge/macforge/pkg/system"
)

// FakeRunner answers commands from a table keyed by the full command line
// ("brew list --formula -1"). Unknown commands exit 127.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]*system.CmdResult
	handlers  map[string]func(args []string) *system.CmdResult
	paths     map[string]string
	calls     []string
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		responses: make(map[string]*system.CmdResult),
		handlers:  make(map[string]func(args []string) *system.CmdResult),
		paths:     make(map[string]string),
	}
}

// On registers stdout and exit code for an exact command line.
func (f *FakeRunner) On(cmdline, stdout string, exitCode int) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[cmdline] = &system.CmdResult{Stdout: stdout, ExitCode: exitCode}
	return f
}

// Handle registers a function answering every invocation of name.
func (f *FakeRunner) Handle(name string, fn func(args []string) *system.CmdResult) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = fn
	return f
}

// WithPath makes LookPath resolve name.
func (f *FakeRunner) WithPath(name, path string) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[name] = path
	return f
}

// Calls returns every command line seen so far.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Called reports whether a command line starting with prefix was run.
func (f *FakeRunner) Called(prefix string) bool {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (*system.CmdResult, error) {
	return f.RunCommand(ctx, system.Command{Name: name, Args: args})
}

func (f *FakeRunner) RunCommand(_ context.Context, cmd system.Command) (*system.CmdResult, error) {
	line := strings.TrimSpace(strings.Join(append([]string{cmd.Name}, cmd.Args...), " "))

	f.mu.Lock()
	f.calls = append(f.calls, line)
	resp, ok := f.responses[line]
	handler := f.handlers[cmd.Name]
	f.mu.Unlock()

	if ok {
		copied := *resp
		return &copied, nil
	}
	if handler != nil {
		return handler(cmd.Args), nil
	}
	return &system.CmdResult{ExitCode: 127, Stderr: fmt.Sprintf("%s: command not found", cmd.Name)}, nil
}

func (f *FakeRunner) RunInteractive(ctx context.Context, name string, args ...string) error {
	res, _ := f.Run(ctx, name, args...)
	if !res.Success() {
		return fmt.Errorf("%s exited with status %d", name, res.ExitCode)
	}
	return nil
}

func (f *FakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.paths[name]; ok {
		return p, nil
	}
	return "", exec.ErrNotFound
}
