package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/listings/internal/bootstrap"
)

func newServeCommand() *cobra.Command {
	opts := bootstrap.ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the stage workers and the scheduler",
		Long: `serve runs the long-lived components of the pipeline. Each can be turned off to
split them across processes, for example a scrape-only worker fleet with
--api=false --scheduler=false and worker.stages set to [scrape].`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				return bootstrap.Serve(cmd.Context(), app, opts)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.API, "api", true, "serve the HTTP API and event stream")
	cmd.Flags().BoolVar(&opts.Workers, "workers", true, "consume the stage queues")
	cmd.Flags().BoolVar(&opts.Scheduler, "scheduler", true, "run sweeps and saved-query schedules")
	return cmd
}
