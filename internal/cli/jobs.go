package cli

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
)

func newJobsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and submit jobs",
	}
	cmd.AddCommand(
		newJobsStatsCmd(opts),
		newJobsListCmd(opts),
		newJobsGetCmd(opts),
		newJobsSubmitCmd(opts),
	)
	return cmd
}

func newJobsStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count jobs per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Engine().Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, st)
			}
			tw := newTable(out)
			fmt.Fprintf(tw, "pending\t%d\nrunning\t%d\nretrying\t%d\n", st.Pending, st.Running, st.Retrying)
			fmt.Fprintf(tw, "completed\t%d\nfailed\t%d\ncancelled\t%d\ntimed_out\t%d\n", st.Completed, st.Failed, st.Cancelled, st.TimedOut)
			fmt.Fprintf(tw, "processed\t%d\naverage\t%s\n", st.TotalProcessed, st.AverageExecution.Round(time.Millisecond))
			return tw.Flush()
		},
	}
}

func newJobsListCmd(opts *rootOptions) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs with a status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := job.Status(status)
			if !slices.Contains(job.Statuses, st) {
				return fmt.Errorf("unknown status %q", status)
			}
			a, err := opts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := a.Store().ListJobsByStatus(cmd.Context(), st, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, jobs)
			}
			tw := newTable(out)
			fmt.Fprintln(tw, "ID\tTYPE\tTENANT\tATTEMPTS\tCREATED\tLAST ERROR")
			for _, j := range jobs {
				lastErr := ""
				if j.LastError != nil {
					lastErr = j.LastError.Message
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					j.ID, j.Type, j.TenantID, j.Attempts, j.MaxAttempts,
					j.CreatedAt.Format(time.RFC3339), lastErr)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", string(job.StatusFailed), "job status")
	cmd.Flags().IntVar(&limit, "limit", job.DefaultListLimit, "maximum jobs listed")
	return cmd
}

func newJobsGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Print one job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			a, err := opts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			j, err := a.Engine().GetJob(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), j)
		},
	}
}

func newJobsSubmitCmd(opts *rootOptions) *cobra.Command {
	var (
		tenant   string
		priority int
		delay    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit <job-type> [payload-json]",
		Short: "Persist a pending job for a running node to pick up",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload json.RawMessage
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON")
				}
				payload = json.RawMessage(args[1])
			}
			a, err := opts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			jobOpts := []job.Option{job.WithPriority(job.Priority(priority))}
			if tenant != "" {
				jobOpts = append(jobOpts, job.WithTenant(tenant))
			}
			if delay > 0 {
				jobOpts = append(jobOpts, job.WithDelay(delay))
			}
			h, err := a.Engine().Submit(cmd.Context(), job.NewDefinition(args[0], payload, jobOpts...))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), h.ID())
			return err
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant the job belongs to")
	cmd.Flags().IntVar(&priority, "priority", int(job.PriorityNormal), "0 low, 1 normal, 2 high, 3 critical")
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay before the job becomes eligible")
	return cmd
}
