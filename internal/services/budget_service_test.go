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

func mainBudgets(t *testing.T, store ledger.Store, userID string) []string {
	t.Helper()
	budgets, err := store.ListBudgets(context.Background(), userID)
	require.NoError(t, err)
	var ids []string
	for _, b := range budgets {
		if b.IsMain {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

func TestBudgetMainFlagIsExclusive(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		svc := NewBudgetService(store)
		u := ledgertest.SeedUser(t, store, "budget@example.com")
		other := ledgertest.SeedUser(t, store, "budget-other@example.com")

		theirs, err := svc.CreateBudget(ctx, other.ID, BudgetInput{Name: "Theirs", Amount: money(1000), IsMain: true})
		require.NoError(t, err)

		first, err := svc.CreateBudget(ctx, u.ID, BudgetInput{Name: "Groceries", Amount: money(40000), IsMain: true})
		require.NoError(t, err)
		second, err := svc.CreateBudget(ctx, u.ID, BudgetInput{Name: "Household", Amount: money(90000), IsMain: true})
		require.NoError(t, err)
		assert.Equal(t, []string{second.ID}, mainBudgets(t, store, u.ID))

		isMain := true
		_, err = svc.UpdateBudget(ctx, first.ID, u.ID, BudgetPatch{IsMain: &isMain})
		require.NoError(t, err)
		assert.Equal(t, []string{first.ID}, mainBudgets(t, store, u.ID))

		main, err := svc.GetMainBudget(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, main.ID)

		assert.Equal(t, []string{theirs.ID}, mainBudgets(t, store, other.ID), "other users are untouched")
	})
}

func TestBudgetUpdateIsPartial(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		svc := NewBudgetService(store)
		u := ledgertest.SeedUser(t, store, "patch@example.com")

		b, err := svc.CreateBudget(ctx, u.ID, BudgetInput{Name: "Travel", Amount: money(50000), Period: "monthly", Description: "trips"})
		require.NoError(t, err)
		assert.Equal(t, "MONTHLY", b.Period)

		amount := money(60000)
		updated, err := svc.UpdateBudget(ctx, b.ID, u.ID, BudgetPatch{Amount: &amount})
		require.NoError(t, err)
		assert.Equal(t, int64(60000), updated.Amount.Cents)
		assert.Equal(t, "Travel", updated.Name)
		assert.Equal(t, "trips", updated.Description)

		empty := " "
		_, err = svc.UpdateBudget(ctx, b.ID, u.ID, BudgetPatch{Name: &empty})
		assert.ErrorIs(t, err, core.ErrEmptyName)

		start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 0, -1)
		_, err = svc.UpdateBudget(ctx, b.ID, u.ID, BudgetPatch{StartDate: &start, EndDate: &end})
		assert.ErrorIs(t, err, core.ErrInvalidInput)

		got, err := svc.GetBudget(ctx, b.ID, u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(60000), got.Amount.Cents, "failed updates leave the row untouched")
	})
}

func TestBudgetOwnership(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		svc := NewBudgetService(store)
		owner := ledgertest.SeedUser(t, store, "b-owner@example.com")
		intruder := ledgertest.SeedUser(t, store, "b-intruder@example.com")

		b, err := svc.CreateBudget(ctx, owner.ID, BudgetInput{Name: "Rent", Amount: money(120000)})
		require.NoError(t, err)

		_, err = svc.GetBudget(ctx, b.ID, intruder.ID)
		assert.ErrorIs(t, err, core.ErrForbidden)
		name := "Mine now"
		_, err = svc.UpdateBudget(ctx, b.ID, intruder.ID, BudgetPatch{Name: &name})
		assert.ErrorIs(t, err, core.ErrForbidden)
		assert.ErrorIs(t, svc.DeleteBudget(ctx, b.ID, intruder.ID), core.ErrNotFound)

		require.NoError(t, svc.DeleteBudget(ctx, b.ID, owner.ID))
		assert.ErrorIs(t, svc.DeleteBudget(ctx, b.ID, owner.ID), core.ErrNotFound)
	})
}

func TestMainBudgetUsage(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		budgets := NewBudgetService(store)
		ledgerSvc := NewLedgerService(store, nil, nil)
		u := ledgertest.SeedUser(t, store, "usage@example.com")

		ref := time.Date(2025, time.May, 20, 10, 0, 0, 0, time.UTC)
		_, err := budgets.MainBudgetUsage(ctx, u.ID, ref)
		assert.ErrorIs(t, err, core.ErrNotFound)

		_, err = budgets.CreateBudget(ctx, u.ID, BudgetInput{Name: "Monthly", Amount: money(30000), IsMain: true})
		require.NoError(t, err)

		for _, d := range []time.Time{
			time.Date(2025, time.May, 2, 0, 0, 0, 0, time.UTC),
			time.Date(2025, time.May, 18, 0, 0, 0, 0, time.UTC),
			time.Date(2025, time.April, 30, 23, 0, 0, 0, time.UTC),
		} {
			_, err := ledgerSvc.CreateTransaction(ctx, u.ID, TransactionInput{Amount: money(10000), Type: core.Expense, Date: &d})
			require.NoError(t, err)
		}
		_, err = ledgerSvc.CreateTransaction(ctx, u.ID, TransactionInput{Amount: money(50000), Type: core.Income, Date: &ref})
		require.NoError(t, err)

		usage, err := budgets.MainBudgetUsage(ctx, u.ID, ref)
		require.NoError(t, err)
		assert.Equal(t, "2025-05", usage.Month)
		assert.Equal(t, int64(20000), usage.Spent.Cents)
		assert.Equal(t, int64(10000), usage.Remaining.Cents)
		assert.Equal(t, 66.7, usage.PercentUsed)
	})
}
