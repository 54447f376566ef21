package main

import (
	"context"
	"os"

	"fintrack/internal/backend"
	"fintrack/internal/cli"
	"fintrack/internal/commands"
	applog "fintrack/internal/log"
	"fintrack/internal/sheets"
	gsheet "fintrack/internal/sheets/google"
)

func main() {
	open := commands.Openers{
		Backend: func(ctx context.Context) (*backend.BackendResult, error) {
			cfg, err := cli.LoadConfig(false)
			if err != nil {
				return nil, err
			}
			logger := cli.SetupLogger(cfg, applog.ComponentApp)
			return cli.OpenBackend(ctx, logger, cfg)
		},
		Mirror: func(ctx context.Context) (sheets.RowLister, error) {
			cfg, err := cli.LoadConfig(false)
			if err != nil {
				return nil, err
			}
			if cfg.GoogleSpreadsheetID == "" {
				return nil, commands.ErrNoMirror
			}
			client, err := gsheet.New(ctx, gsheet.Config{
				SpreadsheetID:      cfg.GoogleSpreadsheetID,
				SheetName:          cfg.GoogleSheetName,
				ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
				ServiceAccountFile: cfg.GoogleServiceAccountFile,
			})
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}

	if err := commands.NewRootCommand(open).Execute(); err != nil {
		os.Exit(1)
	}
}
