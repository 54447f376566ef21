// Package commands implements fintrackctl, the operator CLI for balance audits,
// repairs and one-off batch runs.
package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"fintrack/internal/backend"
	"fintrack/internal/sheets"
)

// Openers lets the commands reach infrastructure lazily, so --help never
// touches a database.
type Openers struct {
	Backend func(ctx context.Context) (*backend.BackendResult, error)
	// Mirror is nil when no spreadsheet is configured.
	Mirror func(ctx context.Context) (sheets.RowLister, error)
}

var ErrNoMirror = errors.New("no spreadsheet mirror configured (set GOOGLE_SPREADSHEET_ID)")

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand(open Openers) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fintrackctl",
		Short: "Operate the fintrack ledger",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newMigrateCommand(open),
		newAuditCommand(open),
		newRepairCommand(open),
		newStatsCommand(open),
		newProcessRecurringCommand(open),
		newMirrorCommand(open),
	)

	return rootCmd
}

// withBackend opens the backend for the duration of fn.
func withBackend(ctx context.Context, open Openers, fn func(*backend.BackendResult) error) (err error) {
	res, err := open.Backend(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := res.Cleanup(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(res)
}
