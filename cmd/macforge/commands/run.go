package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/macforge/macforge/pkg/engine"
	"github.com/macforge/macforge/pkg/modules"
)

func newRunCommand() *cobra.Command {
	var (
		withRequires bool
		yes          bool
	)

	cmd := &cobra.Command{
		Use:   "run <module>...",
		Short: "Run individual modules",
		Long: `Run the named modules in pipeline order, whether or not they completed
before. Use "macforge modules" to list the names.

With --with-requires the modules each named module depends on are added;
those still follow the saved progress and are skipped if they completed.`,
		Example: `  # Re-apply macOS preferences
  macforge run macos

  # Reconfigure SSH, installing Homebrew first if it never ran
  macforge run ssh --with-requires`,
		Args: cobra.MinimumNArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return engine.Names(modules.Default(&modules.Deps{})), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, appOptions{assumeDefaults: yes, detect: true})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			selected, err := engine.Select(modules.Default(a.deps()), args, withRequires)
			if err != nil {
				return err
			}

			a.logger.Info().Strs("modules", engine.Names(selected)).Msg("Running modules")
			a.printer.Banner("macforge run "+strings.Join(args, " "), a.subtitle())
			return a.runPipeline(cmd, selected, engine.RunOptions{
				Resume:     true,
				ForceRerun: engine.ForceSet(args...),
				Command:    "run",
			})
		},
	}

	cmd.Flags().BoolVar(&withRequires, "with-requires", false, "also run the modules each named module requires")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "answer every prompt with its default")

	return cmd
}
