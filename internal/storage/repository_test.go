package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/ledger/ledgertest"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "fintrack.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteConformance(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Store { return newTestRepo(t) })
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	require.NoError(t, RunMigrations(path))
	require.NoError(t, RunMigrations(path))

	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	defer repo.Close()
	require.NoError(t, repo.Ping(context.Background()))
}

func TestSecondMainBudgetViolatesIndex(t *testing.T) {
	repo := newTestRepo(t)
	u := ledgertest.SeedUser(t, repo, "main@example.com")
	ctx := context.Background()
	now := time.Now()

	err := repo.WithinTx(ctx, func(tx ledger.Tx) error {
		for _, id := range []string{"b1", "b2"} {
			b := core.Budget{ID: id, UserID: u.ID, Name: id, Amount: core.Money{Cents: 100}, IsMain: true, CreatedAt: now, UpdatedAt: now}
			if err := tx.InsertBudget(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
	assert.ErrorIs(t, err, core.ErrConflict)

	list, err := repo.ListBudgets(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTransactionForMissingUser(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	err := repo.WithinTx(ctx, func(tx ledger.Tx) error {
		return tx.InsertTransaction(ctx, core.Transaction{
			ID: "t1", UserID: "ghost", Amount: core.Money{Cents: 1}, Type: core.Income,
			Date: time.Now(), CreatedAt: time.Now(),
		})
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestConcurrentBalanceAdjustments(t *testing.T) {
	repo := newTestRepo(t)
	u := ledgertest.SeedUser(t, repo, "concurrent@example.com")
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.WithinTx(ctx, func(tx ledger.Tx) error {
				_, err := tx.AdjustBalance(ctx, u.ID, core.Money{Cents: 25})
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := repo.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, core.Money{Cents: 500}, got.Balance)
}

func TestTimeRoundTripKeepsOrdering(t *testing.T) {
	a := time.Date(2025, 3, 9, 23, 0, 0, 0, time.FixedZone("CET", 3600))
	b := time.Date(2025, 3, 9, 22, 30, 0, 0, time.UTC)
	assert.Less(t, formatTime(a), formatTime(b))

	parsed, err := parseTime(formatTime(a))
	require.NoError(t, err)
	assert.True(t, a.Equal(parsed))
}
