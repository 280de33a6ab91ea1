package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/secondbrain/strata/scheduler"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var (
		tenants  []string
		parallel int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one lifecycle sweep now",
		Long:  "Moves every capture entity past the transition age to transitional. Without --tenant all tenants are swept together.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var results []*scheduler.BatchResult
			if len(tenants) == 0 {
				res, err := a.Sweeper().ProcessLifecycles(cmd.Context(), "")
				if err != nil {
					return err
				}
				results = []*scheduler.BatchResult{res}
			} else {
				results, err = a.Sweeper().ProcessTenants(cmd.Context(), tenants, parallel)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, results)
			}
			tw := newTable(out)
			fmt.Fprintln(tw, "TENANT\tPROCESSED\tTRANSITIONED\tERRORS")
			for _, r := range results {
				tenant := r.TenantID
				if tenant == "" {
					tenant = "*"
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", tenant, r.Processed, r.Transitioned, len(r.Errors))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, r := range results {
				for _, e := range r.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", e)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tenants, "tenant", nil, "tenant to sweep (repeatable)")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "tenants swept at once")
	return cmd
}
