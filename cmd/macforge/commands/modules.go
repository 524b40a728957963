package commands

import (
	"github.com/spf13/cobra"

	"github.com/macforge/macforge/pkg/modules"
)

func newModulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List pipeline modules",
		Long: `List the modules in pipeline order. A filled dot marks modules the
saved session has completed. Fatal modules stop the pipeline when they fail.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			mods := modules.Default(a.deps())
			session, err := a.store.Load(ctx)
			if err != nil {
				a.logger.Debug().Err(err).Msg("Saved session ignored")
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), moduleStates(mods, session))
			}
			a.printer.Modules(mods, session)
			return nil
		},
	}

	return cmd
}
