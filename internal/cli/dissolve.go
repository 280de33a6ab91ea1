package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/secondbrain/strata/dissolution"
)

func newDissolveCmd(opts *rootOptions) *cobra.Command {
	var (
		due    bool
		tenant string
	)
	cmd := &cobra.Command{
		Use:   "dissolve [entity-id...]",
		Short: "Dissolve notes into permanent records and archive them",
		Long: "Dissolves the given notes, or with --due every note past the dissolution age. " +
			"Failures are reported per note and do not stop the batch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if due == (len(args) > 0) {
				return errors.New("pass entity ids or --due, not both")
			}
			a, err := opts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ids := args
			if due {
				notes, err := a.Dissolution().DueForDissolution(cmd.Context(), tenant)
				if err != nil {
					return err
				}
				for _, n := range notes {
					ids = append(ids, n.ID)
				}
			}

			batch := a.Dissolution().DissolveMultiple(cmd.Context(), ids)
			if opts.json {
				if err := printJSON(cmd.OutOrStdout(), batch); err != nil {
					return err
				}
			} else {
				printBatch(cmd, batch)
			}
			if len(batch.Failures) > 0 {
				return fmt.Errorf("%d of %d dissolutions failed", len(batch.Failures), len(ids))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&due, "due", false, "dissolve every note due for dissolution")
	cmd.Flags().StringVar(&tenant, "tenant", "", "restrict --due to one tenant")
	return cmd
}

func printBatch(cmd *cobra.Command, batch *dissolution.Batch) {
	out := cmd.OutOrStdout()
	if len(batch.Results) == 0 && len(batch.Failures) == 0 {
		fmt.Fprintln(out, "nothing to dissolve")
		return
	}
	for _, r := range batch.Results {
		fmt.Fprintf(out, "%s\t%s\n", r.SourceID, r.Summary)
	}
	for _, f := range batch.Failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s\tfailed: %s\n", f.EntityID, f.Error)
	}
}
