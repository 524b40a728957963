package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/macforge/macforge/pkg/stores"
)

type runJSON struct {
	*stores.Run
	Modules []*stores.ModuleRun `json:"modules"`
}

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past runs",
		Long: `List recent pipeline runs from the run history, newest first.
With --verbose each run's module results are shown as well.`,
		Example: `  macforge history --limit 5 --verbose`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if a.history == nil {
				return errors.New("run history is unavailable")
			}

			runs, err := a.history.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				out := make([]runJSON, 0, len(runs))
				for _, r := range runs {
					mrs, err := a.history.ListModuleRuns(ctx, r.ID)
					if err != nil {
						return err
					}
					out = append(out, runJSON{Run: r, Modules: mrs})
				}
				return printJSON(cmd.OutOrStdout(), out)
			}

			if !verbose {
				a.printer.Runs(runs)
				return nil
			}
			for _, r := range runs {
				a.printer.Runs([]*stores.Run{r})
				mrs, err := a.history.ListModuleRuns(ctx, r.ID)
				if err != nil {
					return err
				}
				a.printer.ModuleRuns(mrs)
			}
			if len(runs) == 0 {
				a.printer.Runs(nil)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show")

	return cmd
}
