//go:build integration

package google

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
)

// Integration tests require a real spreadsheet shared with the service account.
// Run with: go test -tags=integration ./internal/sheets/google

func TestIntegration_MirrorFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	spreadsheetID := os.Getenv("GOOGLE_SPREADSHEET_ID")
	if spreadsheetID == "" {
		t.Skip("GOOGLE_SPREADSHEET_ID not set, skipping integration test")
	}
	saJSON := os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")
	saFile := os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE")
	if saJSON == "" && saFile == "" && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		t.Skip("service account credentials not configured, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := New(ctx, Config{
		SpreadsheetID:      spreadsheetID,
		SheetName:          "Ledger Integration",
		ServiceAccountJSON: saJSON,
		ServiceAccountFile: saFile,
	})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	ev := amqp.NewLedgerEvent(amqp.TransactionCreated, core.Transaction{
		ID:     uuid.NewString(),
		UserID: "integration-user",
		Type:   core.Expense,
		Amount: core.Money{Cents: 1234},
		Date:   now,
	}, core.Money{Cents: -1234})
	ev.OccurredAt = now

	ref, err := client.AppendEvent(ctx, ev)
	require.NoError(t, err)
	t.Logf("Mirrored event %s at %s", ev.EventID, ref)

	rows, err := client.ListRows(ctx, now.Year())
	require.NoError(t, err)

	var found bool
	for _, r := range rows {
		if r.EventID == ev.EventID {
			found = true
			assert.Equal(t, ev.Amount, r.Amount)
			assert.Equal(t, ev.Balance, r.Balance)
		}
	}
	assert.True(t, found, "appended event not found in sheet")
}
