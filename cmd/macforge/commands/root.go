package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/macforge/macforge/pkg/engine"
	"github.com/macforge/macforge/pkg/modules"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	version = "dev"
)

// ExitError carries a process exit code for an outcome that has already
// been reported to the user.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command
func Execute(ctx context.Context, ver, commit, buildDate string) error {
	version = ver
	rootCmd := newRootCommand(ver, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(ver, commit, buildDate string) *cobra.Command {
	var (
		resume bool
		force  []string
		yes    bool
	)

	rootCmd := &cobra.Command{
		Use:   "macforge",
		Short: "macforge - provision a Mac from a single profile",
		Long: `macforge turns a freshly unboxed Mac into a working development machine.

Run without arguments it executes the whole pipeline in order:
  1. preflight   macOS, network, disk space, Xcode Command Line Tools
  2. homebrew    Homebrew, taps, formulae and casks
  3. ssh         1Password SSH agent and ~/.ssh/config
  4. dotfiles    clone or update the dotfiles repository
  5. macos       user defaults
  6. mackup      application settings sync
  7. verify      health checks
  8. cleanup     caches, app restarts and the setup report

Progress is saved after every module, so an interrupted run resumes where
it stopped.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", ver, commit, buildDate),
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Flags parsed; from here on errors are ours, not usage errors.
			cmd.SilenceUsage = true
		},
		Example: `  # Provision this Mac, resuming any earlier run
  macforge

  # Start over but keep answers non-interactive
  macforge --resume=false --yes

  # Re-run two modules even though they completed
  macforge --force ssh,macos`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkModuleNames(force); err != nil {
				return err
			}
			a, err := newApp(cmd, appOptions{assumeDefaults: yes, detect: true})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			mods := modules.Default(a.deps())
			a.printer.Banner("macforge", a.subtitle())
			return a.runPipeline(cmd, mods, engine.RunOptions{
				Resume:     resume,
				ForceRerun: engine.ForceSet(force...),
				Command:    "setup",
			})
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "profile path (default $MACFORGE_PROFILE or ~/.config/macforge/profile.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.Flags().BoolVar(&resume, "resume", true, "skip modules that already completed")
	rootCmd.Flags().StringSliceVar(&force, "force", nil, "modules to re-run even if completed")
	rootCmd.Flags().BoolVarP(&yes, "yes", "y", false, "answer every prompt with its default")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newCleanupCommand())
	rootCmd.AddCommand(newResetCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newModulesCommand())

	return rootCmd
}

// checkModuleNames rejects names that are not pipeline modules.
func checkModuleNames(names []string) error {
	known := engine.Names(modules.Default(&modules.Deps{}))
	for _, name := range names {
		if !slices.Contains(known, name) {
			return fmt.Errorf("unknown module %q (valid: %s)", name, strings.Join(known, ", "))
		}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
