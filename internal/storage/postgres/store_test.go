package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/ledger"
	"fintrack/internal/ledger/ledgertest"
)

func TestPostgresConformance(t *testing.T) {
	url := os.Getenv("FINTRACK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FINTRACK_TEST_DATABASE_URL not set")
	}

	ledgertest.Run(t, func(t *testing.T) ledger.Store {
		ctx := context.Background()
		s, err := Open(ctx, url)
		require.NoError(t, err)
		require.NoError(t, s.Truncate(ctx))
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@localhost:5432/db", migrateURL("postgres://u:p@localhost:5432/db"))
	assert.Equal(t, "pgx5://h/db?sslmode=disable", migrateURL("postgresql://h/db?sslmode=disable"))
	assert.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}
