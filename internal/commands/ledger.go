package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fintrack/internal/backend"
	"fintrack/internal/core"
	"fintrack/internal/services"
)

func newMigrateCommand(open Openers) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long:  "Opens the configured store, which brings its schema up to date, then exits.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd.Context(), open, func(res *backend.BackendResult) error {
				if err := res.Store.Ping(cmd.Context()); err != nil {
					return fmt.Errorf("ping store: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func newAuditCommand(open Openers) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare every cached balance with its ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd.Context(), open, func(res *backend.BackendResult) error {
				svc := services.NewLedgerService(res.Store, nil, res.Stats)
				audits, err := svc.AuditAll(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					if err := writeJSON(out, audits); err != nil {
						return err
					}
				} else if err := writeAudits(out, audits); err != nil {
					return err
				}

				drifted := 0
				for _, a := range audits {
					if !a.Consistent() {
						drifted++
					}
				}
				if drifted > 0 {
					return fmt.Errorf("%d of %d balances drifted; run 'fintrackctl repair'", drifted, len(audits))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print audits as JSON")
	return cmd
}

func newRepairCommand(open Openers) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "repair [user-id...]",
		Short: "Reset cached balances to the ledger sum",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return fmt.Errorf("pass user ids or --all, not both or neither")
			}
			return withBackend(cmd.Context(), open, func(res *backend.BackendResult) error {
				svc := services.NewLedgerService(res.Store, nil, res.Stats)
				ids := args
				if all {
					var err error
					if ids, err = res.Store.ListUserIDs(cmd.Context()); err != nil {
						return err
					}
				}

				audits := make([]services.BalanceAudit, 0, len(ids))
				repaired := 0
				for _, id := range ids {
					a, err := svc.RepairBalance(cmd.Context(), id)
					if err != nil {
						return fmt.Errorf("user %s: %w", id, err)
					}
					if !a.Consistent() {
						repaired++
					}
					audits = append(audits, a)
				}

				out := cmd.OutOrStdout()
				if err := writeAudits(out, audits); err != nil {
					return err
				}
				fmt.Fprintf(out, "repaired %d of %d balances\n", repaired, len(audits))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "repair every user")
	return cmd
}

func newStatsCommand(open Openers) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "stats <user-id>",
		Short: "Print monthly statistics for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := time.Now().UTC()
			if date != "" {
				var err error
				if ref, err = time.Parse(time.DateOnly, date); err != nil {
					return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
				}
			}
			return withBackend(cmd.Context(), open, func(res *backend.BackendResult) error {
				svc := services.NewLedgerService(res.Store, nil, res.Stats)
				stats, err := svc.MonthlyStatistics(cmd.Context(), args[0], ref)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), stats)
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "any day of the month to report (default today)")
	return cmd
}

func newProcessRecurringCommand(open Openers) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "process-recurring",
		Short: "Materialise every periodic transaction that is due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now().UTC()
			if at != "" {
				var err error
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at %q: want RFC 3339", at)
				}
			}
			return withBackend(cmd.Context(), open, func(res *backend.BackendResult) error {
				ledgerSvc := services.NewLedgerService(res.Store, res.Publisher, res.Stats)
				n, err := services.NewRecurringProcessor(res.Store, ledgerSvc).ProcessDue(cmd.Context(), now)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %d transactions\n", n)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "processing instant, RFC 3339 (default now)")
	return cmd
}

func writeAudits(w io.Writer, audits []services.BalanceAudit) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tCACHED\tLEDGER\tDRIFT")
	for _, a := range audits {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.UserID, a.Cached, a.Ledger, driftLabel(a.Drift))
	}
	return tw.Flush()
}

func driftLabel(d core.Money) string {
	if d.IsZero() {
		return "ok"
	}
	return d.String()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
