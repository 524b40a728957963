package commands

import (
	"github.com/spf13/cobra"

	"github.com/macforge/macforge/pkg/engine"
	"github.com/macforge/macforge/pkg/modules"
	"github.com/macforge/macforge/pkg/stores"
)

type moduleState struct {
	engine.ModuleSpec
	Completed bool `json:"completed"`
}

func moduleStates(mods []engine.Module, session *stores.Session) []moduleState {
	states := make([]moduleState, 0, len(mods))
	for _, m := range mods {
		spec := m.Spec()
		states = append(states, moduleState{
			ModuleSpec: spec,
			Completed:  session != nil && session.IsCompleted(spec.Name),
		})
	}
	return states
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show saved progress",
		Long: `Show the saved session: the machine it was recorded on and which
modules have completed. Completed modules are skipped by the next run.`,
		Example: `  macforge status
  macforge status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			session, err := a.store.Load(ctx)
			if err != nil {
				a.logger.Warn().Err(err).Msg("Saved session ignored")
			}
			mods := modules.Default(a.deps())

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"state_dir": a.store.Dir(),
					"session":   session,
					"modules":   moduleStates(mods, session),
				})
			}
			a.printer.Status(session, mods, a.store.Dir())
			return nil
		},
	}

	return cmd
}
