package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/amqp"
	"fintrack/internal/backend"
	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/ledger/ledgertest"
	"fintrack/internal/ledger/memory"
	"fintrack/internal/services"
	"fintrack/internal/sheets"
	sheetsmem "fintrack/internal/sheets/memory"
)

func memoryOpeners(store ledger.Store) Openers {
	return Openers{
		Backend: func(context.Context) (*backend.BackendResult, error) {
			return &backend.BackendResult{Store: store, Cleanup: func() error { return nil }}, nil
		},
	}
}

func run(t *testing.T, open Openers, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand(open)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedExpense(t *testing.T, store ledger.Store, userID string, cents int64) {
	t.Helper()
	_, err := services.NewLedgerService(store, nil, nil).CreateTransaction(context.Background(), userID, services.TransactionInput{
		Amount: core.Money{Cents: cents},
		Type:   core.Expense,
	})
	require.NoError(t, err)
}

func corruptBalance(t *testing.T, store ledger.Store, userID string, cents int64) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		return tx.SetBalance(context.Background(), userID, core.Money{Cents: cents})
	})
	require.NoError(t, err)
}

func TestMigrate(t *testing.T) {
	out, err := run(t, memoryOpeners(memory.New()), "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date")
}

func TestAuditAndRepair(t *testing.T) {
	store := memory.New()
	ok := ledgertest.SeedUser(t, store, "ok@example.com")
	bad := ledgertest.SeedUser(t, store, "bad@example.com")
	seedExpense(t, store, ok.ID, 1000)
	seedExpense(t, store, bad.ID, 2500)
	corruptBalance(t, store, bad.ID, 500)

	out, err := run(t, memoryOpeners(store), "audit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 balances drifted")
	assert.Contains(t, out, "USER")
	assert.Contains(t, out, "30.00")

	out, err = run(t, memoryOpeners(store), "audit", "--json")
	require.Error(t, err)
	var audits []services.BalanceAudit
	require.NoError(t, json.Unmarshal([]byte(out), &audits))
	assert.Len(t, audits, 2)

	out, err = run(t, memoryOpeners(store), "repair", bad.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "repaired 1 of 1 balances")

	u, err := store.GetUser(context.Background(), bad.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-2500), u.Balance.Cents)

	_, err = run(t, memoryOpeners(store), "audit")
	assert.NoError(t, err)
}

func TestRepairArgs(t *testing.T) {
	store := memory.New()
	u := ledgertest.SeedUser(t, store, "args@example.com")

	_, err := run(t, memoryOpeners(store), "repair")
	assert.Error(t, err)

	_, err = run(t, memoryOpeners(store), "repair", "--all", u.ID)
	assert.Error(t, err)

	out, err := run(t, memoryOpeners(store), "repair", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "repaired 0 of 1 balances")

	_, err = run(t, memoryOpeners(store), "repair", "missing-user")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStats(t *testing.T) {
	store := memory.New()
	u := ledgertest.SeedUser(t, store, "stats@example.com")
	seedExpense(t, store, u.ID, 4200)

	out, err := run(t, memoryOpeners(store), "stats", u.ID)
	require.NoError(t, err)

	var stats core.MonthlyStatistics
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(4200), stats.CurrentMonth.Expenses.Cents)

	_, err = run(t, memoryOpeners(store), "stats", u.ID, "--date", "March")
	assert.ErrorContains(t, err, "invalid --date")
}

func TestProcessRecurring(t *testing.T) {
	store := memory.New()
	u := ledgertest.SeedUser(t, store, "recurring@example.com")
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ledgerSvc := services.NewLedgerService(store, nil, nil)
	_, err := services.NewRecurringProcessor(store, ledgerSvc).CreatePeriodic(context.Background(), u.ID, services.PeriodicInput{
		Amount:    core.Money{Cents: 990},
		Type:      core.Expense,
		Frequency: core.Daily,
		StartDate: start,
	})
	require.NoError(t, err)

	out, err := run(t, memoryOpeners(store), "process-recurring", "--at", "2025-01-05T10:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "created 1 transactions")

	out, err = run(t, memoryOpeners(store), "process-recurring", "--at", "2025-01-05T18:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "created 0 transactions")

	_, err = run(t, memoryOpeners(store), "process-recurring", "--at", "tomorrow")
	assert.ErrorContains(t, err, "invalid --at")
}

func TestMirror(t *testing.T) {
	_, err := run(t, memoryOpeners(memory.New()), "mirror")
	assert.ErrorIs(t, err, ErrNoMirror)

	mirror := sheetsmem.New()
	_, err = mirror.AppendEvent(context.Background(), &amqp.LedgerEvent{
		EventID:       "ev-1",
		Kind:          amqp.TransactionCreated,
		UserID:        "u1",
		TransactionID: "t1",
		Type:          core.Income,
		Amount:        core.Money{Cents: 5000},
		Balance:       core.Money{Cents: 5000},
		Date:          time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		OccurredAt:    time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	open := memoryOpeners(memory.New())
	open.Mirror = func(context.Context) (sheets.RowLister, error) { return mirror, nil }

	out, err := run(t, open, "mirror", "--year", "2024")
	require.NoError(t, err)
	assert.Contains(t, out, "transaction.created")
	assert.Contains(t, out, "50.00")
	assert.Contains(t, out, "1 rows")
}
