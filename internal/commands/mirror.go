package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newMirrorCommand(open Openers) *cobra.Command {
	var year int

	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "List the ledger events mirrored to the spreadsheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if open.Mirror == nil {
				return ErrNoMirror
			}
			lister, err := open.Mirror(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := lister.ListRows(cmd.Context(), year)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "OCCURRED\tKIND\tUSER\tTRANSACTION\tTYPE\tAMOUNT\tBALANCE")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.OccurredAt.Format(time.RFC3339), r.Kind, r.UserID, r.TransactionID, r.Type, r.Amount, r.Balance)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rows\n", len(rows))
			return nil
		},
	}

	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "calendar year of the mirror sheet")
	return cmd
}
