package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"OneChain-Portal/sdk/go/portal"
)

func newJobCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Submit and inspect asynchronous jobs",
	}
	cmd.AddCommand(newJobSubmitCommand(app), newJobGetCommand(app), newJobListCommand(app))
	return cmd
}

func newJobSubmitCommand(app *App) *cobra.Command {
	var (
		flags planFlags
		kind  string
		id    string
		wait  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a simulation or execution",
		Long: `Queue a simulation or execution job. With --wait the command blocks
until the job finishes or the wait elapses (at most one minute).

Example:
  portalctl job submit --kind simulate --preset oct-transfer --param recipient=0x2 --wait 10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request(app.network())
			if err != nil {
				return err
			}
			job, err := app.client().SubmitJob(cmd.Context(), portal.JobSubmission{ID: id, Kind: kind, Request: req}, wait)
			if err != nil {
				return err
			}
			if err := app.emit(job, func() string { return renderJob(app.Styles, job) }); err != nil {
				return err
			}
			if job.Status == "failed" {
				return NewExitError(2, nil)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&kind, "kind", portal.JobSimulate, "job kind: simulate or execute")
	cmd.Flags().StringVar(&id, "id", "", "idempotency id, generated when empty")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait for the job to finish")
	return cmd
}

func newJobGetCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := app.client().GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.emit(job, func() string { return renderJob(app.Styles, job) })
		},
	}
}

func newJobListCommand(app *App) *cobra.Command {
	var (
		statuses []string
		kinds    []string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, stats, err := app.client().ListJobs(cmd.Context(), portal.JobFilter{
				Statuses: statuses,
				Kinds:    kinds,
				Network:  app.network(),
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			out := map[string]any{"jobs": jobs, "stats": stats}
			return app.emit(out, func() string {
				lines := []string{app.Styles.Title.Render(fmt.Sprintf(
					"共 %d 个作业: pending %d / running %d / succeeded %d / failed %d",
					stats.Total, stats.Pending, stats.Running, stats.Succeeded, stats.Failed))}
				for _, job := range jobs {
					lines = append(lines, fmt.Sprintf("%-36s %-8s %s", job.ID, job.Kind, app.Styles.status(job.Status)))
				}
				return strings.Join(lines, "\n")
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "filter by kind")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs")
	return cmd
}

func newRunsCommand(app *App) *cobra.Command {
	var filter portal.RunFilter
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded simulations and executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := app.client().Runs(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return app.emit(runs, func() string { return renderRuns(app.Styles, runs, app.Now()) })
		},
	}
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of runs")
	cmd.Flags().StringVar(&filter.Sender, "sender", "", "filter by sender address")
	cmd.Flags().StringVar(&filter.Kind, "kind", "", "filter by kind")
	return cmd
}
