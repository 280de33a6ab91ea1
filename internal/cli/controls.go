package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/secondbrain/strata/entity"
)

func newPreventCmd(opts *rootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "prevent <entity-id>",
		Short: "Exclude a note from dissolution until allowed again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.Dissolution().PreventDissolution(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return printControl(cmd, opts, e, "prevented: "+e.MetaString("prevent_dissolve_reason"))
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the note must be kept")
	return cmd
}

func newPostponeCmd(opts *rootOptions) *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "postpone <entity-id>",
		Short: "Defer a note's dissolution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.Dissolution().PostponeDissolution(cmd.Context(), args[0], hours)
			if err != nil {
				return err
			}
			return printControl(cmd, opts, e, "postponed until "+e.MetaString("postpone_until"))
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 48, "hours to postpone by")
	return cmd
}

func newAllowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "allow <entity-id>",
		Short: "Clear a prevention or postponement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.Dissolution().AllowDissolution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printControl(cmd, opts, e, "allowed")
		},
	}
}

func printControl(cmd *cobra.Command, opts *rootOptions, e *entity.Entity, msg string) error {
	if opts.json {
		return printJSON(cmd.OutOrStdout(), e)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.ID, msg)
	return err
}
