package commands

import (
	"github.com/spf13/cobra"

	"github.com/macforge/macforge/pkg/engine"
	"github.com/macforge/macforge/pkg/modules"
)

func newCleanupCommand() *cobra.Command {
	var (
		quick     bool
		full      bool
		noRestart bool
		noReport  bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Clear caches, restart apps and write the setup report",
		Long: `Run the cleanup module on its own.

  --quick  brew cleanup and the Homebrew download cache
  --full   also temporary files, old reports and old run history (default)

Finder and Dock are restarted and a report is written to the report
directory unless disabled.`,
		Example: `  # Quick tidy-up without touching running apps
  macforge cleanup --quick --no-restart`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, appOptions{detect: true})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			cfg := &a.profile.Cleanup
			switch {
			case quick:
				cfg.Mode = "quick"
			case full:
				cfg.Mode = "full"
			}
			cfg.NoRestart = cfg.NoRestart || noRestart
			cfg.NoReport = cfg.NoReport || noReport

			selected, err := engine.Select(modules.Default(a.deps()), []string{modules.NameCleanup}, false)
			if err != nil {
				return err
			}
			a.printer.Banner("macforge cleanup", a.subtitle())
			return a.runPipeline(cmd, selected, engine.RunOptions{
				Resume:     true,
				ForceRerun: engine.ForceSet(modules.NameCleanup),
				Command:    "cleanup",
			})
		},
	}

	cmd.Flags().BoolVar(&quick, "quick", false, "only clear Homebrew caches")
	cmd.Flags().BoolVar(&full, "full", false, "also remove temporary files and old reports")
	cmd.Flags().BoolVar(&noRestart, "no-restart", false, "do not restart Finder and Dock")
	cmd.Flags().BoolVar(&noReport, "no-report", false, "do not write a setup report")
	cmd.MarkFlagsMutuallyExclusive("quick", "full")

	return cmd
}
