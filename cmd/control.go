package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	infrajwt "github.com/jonesrussell/north-cloud/listings/infrastructure/jwt"
	"github.com/jonesrussell/north-cloud/listings/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/listings/internal/control"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
)

const defaultTokenTTL = 24 * time.Hour

func newControlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "control",
		Short: "Inspect and halt pipeline stages",
	}
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print reports as JSON")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "depth",
			Short: "Show queue depth and backlog per stage",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), func(app *bootstrap.App) error {
					report, err := app.Control.QueueDepth(cmd.Context())
					if err != nil {
						return err
					}
					if outputJSON {
						return writeJSON(cmd.OutOrStdout(), report)
					}
					renderDepth(cmd.OutOrStdout(), report)
					return nil
				})
			},
		},
		newStageCommand("cancel", "Pause a stage, purge its queue and reset orphaned work",
			func(c *control.Controller, cmd *cobra.Command, stage queue.Stage) (any, error) {
				return c.CancelStage(cmd.Context(), stage)
			}),
		newStageCommand("resume", "Unpause a stage and re-enqueue its pending work",
			func(c *control.Controller, cmd *cobra.Command, stage queue.Stage) (any, error) {
				return c.ResumeStage(cmd.Context(), stage)
			}),
		&cobra.Command{
			Use:   "cancel-run <run-id>",
			Short: "Stop a run and fail its pending jobs",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(app *bootstrap.App) error {
					report, err := app.Control.CancelRun(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return printReport(cmd.OutOrStdout(), report)
				})
			},
		},
		newTokenCommand(),
	)
	return cmd
}

func newStageCommand(
	use, short string,
	fn func(c *control.Controller, cmd *cobra.Command, stage queue.Stage) (any, error),
) *cobra.Command {
	return &cobra.Command{
		Use:       use + " <stage>",
		Short:     short,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(queue.StageDiscovery), string(queue.StageScrape), string(queue.StageUnify)},
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := queue.ParseStage(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				report, runErr := fn(app.Control, cmd, stage)
				if runErr != nil {
					return runErr
				}
				return printReport(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newTokenCommand() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token for the control API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := infrajwt.NewToken(cfg.Auth.JWTSecret, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime")
	return cmd
}

func printReport(w io.Writer, report any) error {
	if outputJSON {
		return writeJSON(w, report)
	}

	t := newTable(w, "")
	switch r := report.(type) {
	case *control.StageReport:
		t.SetTitle("Stage " + string(r.Stage) + " cancelled")
		t.AppendRows([]table.Row{
			{"Tasks purged", r.TasksPurged},
			{"Runs stopped", len(r.Runs)},
			{"Candidates reset", r.CandidatesReset},
			{"Groups reset", r.GroupsReset},
		})
	case *control.ResumeReport:
		t.SetTitle("Stage " + string(r.Stage) + " resumed")
		t.AppendRow(table.Row{"Tasks enqueued", r.Enqueued})
	case *control.RunReport:
		t.SetTitle("Run " + r.RunID)
		t.AppendRows([]table.Row{
			{"Stopped", r.Stopped},
			{"Jobs failed", r.JobsFailed},
			{"Candidates reset", r.CandidatesReset},
		})
	default:
		return writeJSON(w, report)
	}
	t.Render()
	return nil
}

func renderDepth(w io.Writer, report *control.DepthReport) {
	stages := newTable(w, "Stage queues")
	stages.AppendHeader(table.Row{"Stage", "Length", "Pending", "Delayed", "Paused"})
	for _, s := range report.Stages {
		stages.AppendRow(table.Row{s.Stage, s.Length, s.Pending, s.Delayed, s.Paused})
	}
	stages.Render()

	backlog := newTable(w, "Backlog")
	backlog.AppendHeader(table.Row{"Entity", "Status", "Count"})
	appendCounts(backlog, "runs", report.Runs)
	appendCounts(backlog, "pending jobs", report.Jobs)
	appendCounts(backlog, "candidates", report.Candidates)
	appendCounts(backlog, "groups", report.Groups)
	backlog.Render()
}

func appendCounts[K ~string](t table.Writer, entity string, counts map[K]int) {
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		t.AppendRow(table.Row{entity, string(k), counts[k]})
	}
}
