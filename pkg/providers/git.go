package providers

import (
	"context"

	"github.com/macforge/macforge/pkg/system"
)

// Git drives the git command line.
type Git struct {
	runner system.Runner
}

// NewGit creates a git provider.
func NewGit(runner system.Runner) *Git {
	return &Git{runner: runner}
}

// IsRepo reports whether dir is inside a git working tree.
func (g *Git) IsRepo(ctx context.Context, dir string) bool {
	res, err := g.runner.Run(ctx, "git", "-C", dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && res.Success() && res.Output() == "true"
}

// Clone clones url into dir, checking out branch when it is set.
func (g *Git) Clone(ctx context.Context, url, branch, dir string) error {
	args := []string{"clone"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, url, dir)
	res, err := g.runner.RunCommand(ctx, system.Command{
		Name: "git",
		Args: args,
		Env:  map[string]string{"GIT_TERMINAL_PROMPT": "0"},
	})
	return commandError("clone "+url, res, err)
}

// HasUpstream reports whether the current branch tracks a remote branch.
func (g *Git) HasUpstream(ctx context.Context, dir string) bool {
	res, err := g.runner.Run(ctx, "git", "-C", dir, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}")
	return err == nil && res.Success() && res.Output() != ""
}

// Pull fast-forwards the current branch.
func (g *Git) Pull(ctx context.Context, dir string) error {
	res, err := g.runner.RunCommand(ctx, system.Command{
		Name: "git",
		Args: []string{"-C", dir, "pull", "--ff-only"},
		Env:  map[string]string{"GIT_TERMINAL_PROMPT": "0"},
	})
	return commandError("pull "+dir, res, err)
}
