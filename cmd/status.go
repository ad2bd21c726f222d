package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/listings/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

const defaultStatusLimit = 20

func newStatusCommand() *cobra.Command {
	var (
		queryID  string
		statuses []string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show recent runs, or one run and its jobs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					return showRun(cmd, app, args[0])
				}

				params := database.ListParams{QueryID: queryID, Limit: limit}
				for _, s := range statuses {
					params.Statuses = append(params.Statuses, domain.RunStatus(strings.TrimSpace(s)))
				}
				runs, err := app.Repos.Runs.List(cmd.Context(), params)
				if err != nil {
					return err
				}
				if outputJSON {
					return writeJSON(out, runs)
				}
				renderRuns(out, runs)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&queryID, "query", "", "only runs of this query")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only runs in these statuses")
	cmd.Flags().IntVar(&limit, "limit", defaultStatusLimit, "maximum runs to show")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "print as JSON")
	return cmd
}

func showRun(cmd *cobra.Command, app *bootstrap.App, runID string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	run, err := app.Repos.Runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	jobs, err := app.Repos.Jobs.ListByRun(ctx, runID, "")
	if err != nil {
		return err
	}
	if outputJSON {
		return writeJSON(out, map[string]any{"run": run, "jobs": jobs})
	}

	renderRuns(out, []*domain.ScrapeRun{run})
	if run.ErrorMessage != nil {
		fmt.Fprintf(out, "Error: %s\n", *run.ErrorMessage)
	}

	counts := make(map[domain.JobType]map[domain.JobStatus]int)
	for _, j := range jobs {
		if counts[j.JobType] == nil {
			counts[j.JobType] = make(map[domain.JobStatus]int)
		}
		counts[j.JobType][j.Status]++
	}
	t := newTable(out, "Jobs")
	t.AppendHeader(table.Row{"Type", "Status", "Count"})
	for _, jobType := range []domain.JobType{domain.JobTypeDiscovery, domain.JobTypeListing} {
		appendCounts(t, string(jobType), counts[jobType])
	}
	t.Render()
	return nil
}

func renderRuns(w io.Writer, runs []*domain.ScrapeRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found")
		return
	}

	t := newTable(w, "Runs")
	t.AppendHeader(table.Row{"ID", "Platform", "Status", "Pages", "Listings", "Failed", "Started", "Finished"})
	for _, r := range runs {
		finished := r.CompletedAt
		if finished == nil {
			finished = r.StoppedAt
		}
		t.AppendRow(table.Row{
			r.ID,
			r.Platform,
			r.Status,
			fmt.Sprintf("%d/%d", r.PagesDone, r.PagesTotal),
			fmt.Sprintf("%d/%d", r.ListingsScraped, r.ListingsFound),
			r.PagesFailed + r.ListingsFailed,
			formatTime(&r.StartedAt),
			formatTime(finished),
		})
	}
	t.Render()
}
