package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/lifecycle"
)

type dueReport struct {
	Transitions  []lifecycle.Due      `json:"transitions"`
	Dissolutions []*entity.Entity     `json:"dissolutions"`
	States       map[entity.State]int `json:"states"`
}

func newDueCmd(opts *rootOptions) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List entities due for transition or dissolution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			var rep dueReport
			if rep.Transitions, err = a.Machine().DueForTransition(ctx, tenant, a.Config().SweepBatchSize); err != nil {
				return err
			}
			if rep.Dissolutions, err = a.Dissolution().DueForDissolution(ctx, tenant); err != nil {
				return err
			}
			if rep.States, err = a.Sweeper().Statistics(ctx, tenant); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, rep)
			}

			tw := newTable(out)
			fmt.Fprintln(tw, "KIND\tENTITY\tTENANT\tDETAIL")
			for _, d := range rep.Transitions {
				fmt.Fprintf(tw, "transition\t%s\t%s\t%s -> %s (age %s)\n",
					d.EntityID, d.TenantID, d.From, d.To, d.Age.Truncate(time.Minute))
			}
			now := a.Machine().Now()
			for _, e := range rep.Dissolutions {
				fmt.Fprintf(tw, "dissolution\t%s\t%s\t%q (age %s)\n",
					e.ID, e.TenantID, e.Title, e.Age(now).Truncate(time.Minute))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\ncapture=%d transitional=%d permanent=%d archived=%d\n",
				rep.States[entity.StateCapture], rep.States[entity.StateTransitional],
				rep.States[entity.StatePermanent], rep.States[entity.StateArchived])
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "restrict to one tenant")
	return cmd
}
