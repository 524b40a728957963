package commands

import (
	"github.com/spf13/cobra"
)

func newResetCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget saved progress",
		Long: `Remove the saved session and completed-module list, clear the cache
and stop any keepalive helpers left behind by an earlier run.

The next "macforge" starts from the first module. Run history is kept.`,
		Example: `  macforge reset --yes`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if !yes && !a.gate.Confirm("Forget all saved progress in "+a.store.Dir()+"?", false) {
				a.printer.Info("Reset cancelled")
				return nil
			}

			if err := a.store.Reset(ctx); err != nil {
				return err
			}
			a.logger.Info().Str("state_dir", a.store.Dir()).Msg("Session reset")

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"state_dir": a.store.Dir(),
					"reset":     true,
				})
			}
			a.printer.Success("Saved progress cleared")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}
