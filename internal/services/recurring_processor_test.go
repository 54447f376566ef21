package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/ledger/ledgertest"
)

func TestProcessDue(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		ledgerSvc := NewLedgerService(store, nil, nil)
		proc := NewRecurringProcessor(store, ledgerSvc)
		u := ledgertest.SeedUser(t, store, "recurring@example.com")

		start := time.Date(2025, time.January, 31, 9, 0, 0, 0, time.UTC)
		rent, err := proc.CreatePeriodic(ctx, u.ID, PeriodicInput{
			Amount: money(80000), Type: core.Expense, Description: "rent",
			Frequency: core.Monthly, StartDate: start,
		})
		require.NoError(t, err)
		_, err = proc.CreatePeriodic(ctx, u.ID, PeriodicInput{
			Amount: money(300000), Type: core.Income, Description: "salary",
			Frequency: core.Yearly, StartDate: start.AddDate(1, 0, 0),
		})
		require.NoError(t, err)

		n, err := proc.ProcessDue(ctx, start)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "schedules that have not started are skipped")
		assertConsistent(t, store, u.ID, -80000)

		n, err = proc.ProcessDue(ctx, start.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, n, "already processed this month")

		feb := time.Date(2025, time.February, 28, 9, 0, 0, 0, time.UTC)
		n, err = proc.ProcessDue(ctx, feb)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "day 31 clamps to the end of february")
		assert.Equal(t, 2, assertConsistent(t, store, u.ID, -160000))

		got, err := store.GetPeriodic(ctx, rent.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastProcessedDate)
		assert.True(t, got.LastProcessedDate.Equal(feb))

		page, err := ledgerSvc.ListTransactions(ctx, u.ID, ledger.TransactionFilter{})
		require.NoError(t, err)
		assert.True(t, page.Transactions[0].Date.Equal(feb))
		assert.Equal(t, "rent", page.Transactions[0].Description)
	})
}

func TestProcessDueSkipsFailures(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		ledgerSvc := NewLedgerService(store, nil, nil)
		proc := NewRecurringProcessor(store, ledgerSvc)
		u := ledgertest.SeedUser(t, store, "recurring-fail@example.com")

		start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
		_, err := proc.CreatePeriodic(ctx, u.ID, PeriodicInput{
			Amount: money(500), Type: core.Income, Frequency: core.Daily, StartDate: start,
		})
		require.NoError(t, err)

		broken := core.PeriodicTransaction{
			ID: "a6f0bd4e-5b4d-4c1e-9d55-000000000001", UserID: u.ID,
			Amount: money(100), Type: core.Income, Frequency: core.Frequency("FORTNIGHTLY"),
			StartDate: start, CreatedAt: start,
		}
		err = store.WithinTx(ctx, func(tx ledger.Tx) error { return tx.InsertPeriodic(ctx, broken) })
		if err != nil {
			t.Skip("backend rejects unknown frequencies at write time")
		}

		n, err := proc.ProcessDue(ctx, start.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assertConsistent(t, store, u.ID, 500)
	})
}

func TestPeriodicCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		proc := NewRecurringProcessor(store, NewLedgerService(store, nil, nil))
		u := ledgertest.SeedUser(t, store, "periodic@example.com")
		other := ledgertest.SeedUser(t, store, "periodic-other@example.com")

		_, err := proc.CreatePeriodic(ctx, u.ID, PeriodicInput{Amount: money(100), Type: core.Income, Frequency: core.Frequency("HOURLY")})
		assert.ErrorIs(t, err, core.ErrInvalidFrequency)

		pt, err := proc.CreatePeriodic(ctx, u.ID, PeriodicInput{Amount: money(100), Type: core.Income, Frequency: core.Weekly})
		require.NoError(t, err)
		assert.False(t, pt.StartDate.IsZero(), "start date defaults to now")

		items, err := proc.ListPeriodic(ctx, u.ID)
		require.NoError(t, err)
		assert.Len(t, items, 1)

		assert.ErrorIs(t, proc.DeletePeriodic(ctx, pt.ID, other.ID), core.ErrNotFound)
		require.NoError(t, proc.DeletePeriodic(ctx, pt.ID, u.ID))

		items, err = proc.ListPeriodic(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}
