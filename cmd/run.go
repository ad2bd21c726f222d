package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/listings/internal/bootstrap"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <query-id>",
		Short: "Start a run for a saved search query",
		Long: `run creates a run in the discovering status and enqueues its first discovery
job. A serve process with workers picks the run up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				run, err := app.Orchestrator.StartRun(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("start run: %w", err)
				}
				if outputJSON {
					return writeJSON(cmd.OutOrStdout(), run)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s started for query %s (%s)\n", run.ID, run.QueryID, run.Platform)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "print the run as JSON")
	return cmd
}

func newUnifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unify <group-id>",
		Short: "Unify a listing group now",
		Long: `unify runs the unification engine for one pending group in this process instead
of waiting for the dispatch sweep.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				if err := app.RequireUnifier(); err != nil {
					return err
				}
				if err := app.Unifier.Unify(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("unify group %s: %w", args[0], err)
				}
				group, err := app.Repos.Groups.GetByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Group %s is %s\n", group.ID, group.Status)
				return nil
			})
		},
	}
}

func newReanalyzeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reanalyze <property-id>",
		Short: "Re-run unification for a property",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				if err := app.RequireUnifier(); err != nil {
					return err
				}
				if err := app.Unifier.Reanalyze(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("reanalyze property %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Property %s re-analyzed\n", args[0])
				return nil
			})
		},
	}
}
