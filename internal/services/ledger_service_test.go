package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/ledger/ledgertest"
	"fintrack/internal/ledger/memory"
	"fintrack/internal/storage"
)

// forEachStore runs fn against a fresh memory store and a fresh SQLite database.
func forEachStore(t *testing.T, fn func(t *testing.T, store ledger.Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, memory.New())
	})
	t.Run("sqlite", func(t *testing.T) {
		repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "services.db"))
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		fn(t, repo)
	})
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
	err    error
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, ev *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) kinds() []amqp.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventKind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

func money(cents int64) core.Money { return core.Money{Cents: cents} }

func input(cents int64, typ core.TransactionType) TransactionInput {
	return TransactionInput{Amount: money(cents), Type: typ}
}

// assertConsistent checks the cached balance against the ledger and returns the row count.
func assertConsistent(t *testing.T, store ledger.Store, userID string, want int64) int {
	t.Helper()
	ctx := context.Background()

	u, err := store.GetUser(ctx, userID)
	require.NoError(t, err)
	total, err := store.LedgerTotal(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, want, u.Balance.Cents, "cached balance")
	assert.Equal(t, want, total.Cents, "ledger sum")

	_, n, err := store.ListTransactions(ctx, ledger.TransactionFilter{UserID: userID}.Normalize())
	require.NoError(t, err)
	return n
}

func TestCreateTransaction(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		pub := &recordingPublisher{}
		svc := NewLedgerService(store, pub, nil)
		u := ledgertest.SeedUser(t, store, "create@example.com")

		res, err := svc.CreateTransaction(ctx, u.ID, input(10000, core.Income))
		require.NoError(t, err)
		assert.Equal(t, int64(10000), res.Balance.Cents)
		assert.Equal(t, u.ID, res.Transaction.UserID)
		assert.False(t, res.Transaction.Date.IsZero(), "date defaults to now")

		assert.Equal(t, 1, assertConsistent(t, store, u.ID, 10000))
		assert.Equal(t, []amqp.EventKind{amqp.TransactionCreated}, pub.kinds())
	})
}

func TestCreateTransactionValidation(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		svc := NewLedgerService(store, nil, nil)
		u := ledgertest.SeedUser(t, store, "validate@example.com")
		other := ledgertest.SeedUser(t, store, "other@example.com")

		foreignTag, err := NewTagService(store).CreateTag(ctx, other.ID, TagInput{Name: "theirs"})
		require.NoError(t, err)

		tests := []struct {
			name  string
			owner string
			in    TransactionInput
			want  error
		}{
			{"zero amount", u.ID, input(0, core.Income), core.ErrInvalidAmount},
			{"negative amount", u.ID, input(-5, core.Expense), core.ErrInvalidAmount},
			{"bad type", u.ID, input(100, core.TransactionType("TRANSFER")), core.ErrInvalidType},
			{"foreign tag", u.ID, TransactionInput{Amount: money(100), Type: core.Income, TagID: &foreignTag.ID}, core.ErrInvalidInput},
			{"unknown owner", "7f1d5c52-0000-4000-8000-000000000000", input(100, core.Income), core.ErrUnauthorized},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.CreateTransaction(ctx, tt.owner, tt.in)
				assert.ErrorIs(t, err, tt.want)
			})
		}
		assert.Equal(t, 0, assertConsistent(t, store, u.ID, 0))
	})
}

func TestCreateIsNotIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		svc := NewLedgerService(store, nil, nil)
		u := ledgertest.SeedUser(t, store, "retry@example.com")

		for range 2 {
			_, err := svc.CreateTransaction(ctx, u.ID, input(2500, core.Income))
			require.NoError(t, err)
		}
		assert.Equal(t, 2, assertConsistent(t, store, u.ID, 5000))
	})
}

func TestDeleteIsInverseOfCreate(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		svc := NewLedgerService(store, nil, nil)
		u := ledgertest.SeedUser(t, store, "inverse@example.com")

		_, err := svc.CreateTransaction(ctx, u.ID, input(7000, core.Income))
		require.NoError(t, err)
		before := assertConsistent(t, store, u.ID, 7000)

		res, err := svc.CreateTransaction(ctx, u.ID, input(1234, core.Expense))
		require.NoError(t, err)
		assert.Equal(t, int64(5766), res.Balance.Cents)

		balance, err := svc.DeleteTransaction(ctx, res.Transaction.ID, u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(7000), balance.Cents)
		assert.Equal(t, before, assertConsistent(t, store, u.ID, 7000))

		_, err = svc.DeleteTransaction(ctx, res.Transaction.ID, u.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestUpdateTransitions(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		pub := &recordingPublisher{}
		svc := NewLedgerService(store, pub, nil)
		u := ledgertest.SeedUser(t, store, "update@example.com")

		created, err := svc.CreateTransaction(ctx, u.ID, input(5000, core.Expense))
		require.NoError(t, err)
		assert.Equal(t, int64(-5000), created.Balance.Cents)
		id := created.Transaction.ID

		res, err := svc.UpdateTransaction(ctx, id, u.ID, input(5000, core.Income))
		require.NoError(t, err)
		assert.Equal(t, int64(5000), res.Balance.Cents, "type flip swings by twice the amount")

		_, err = svc.UpdateTransaction(ctx, id, u.ID, input(5000, core.Expense))
		require.NoError(t, err)
		res, err = svc.UpdateTransaction(ctx, id, u.ID, input(8000, core.Expense))
		require.NoError(t, err)
		assert.Equal(t, int64(-8000), res.Balance.Cents)

		assert.True(t, res.Transaction.CreatedAt.Equal(created.Transaction.CreatedAt), "created_at is immutable")
		assert.True(t, res.Transaction.Date.Equal(created.Transaction.Date), "omitted date is kept")
		assert.Equal(t, 1, assertConsistent(t, store, u.ID, -8000))

		pub.mu.Lock()
		last := pub.events[len(pub.events)-1]
		pub.mu.Unlock()
		assert.Equal(t, amqp.TransactionUpdated, last.Kind)
		require.NotNil(t, last.PreviousAmount)
		assert.Equal(t, int64(5000), last.PreviousAmount.Cents)
	})
}

func TestUpdateMissingTransaction(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		svc := NewLedgerService(store, nil, nil)
		u := ledgertest.SeedUser(t, store, "missing@example.com")

		_, err := svc.UpdateTransaction(context.Background(), "0c6a1f0e-0000-4000-8000-000000000000", u.ID, input(100, core.Income))
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestOwnershipIsEnforced(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		svc := NewLedgerService(store, nil, nil)
		owner := ledgertest.SeedUser(t, store, "owner@example.com")
		intruder := ledgertest.SeedUser(t, store, "intruder@example.com")

		res, err := svc.CreateTransaction(ctx, owner.ID, input(4200, core.Income))
		require.NoError(t, err)
		id := res.Transaction.ID

		_, err = svc.UpdateTransaction(ctx, id, intruder.ID, input(1, core.Expense))
		assert.ErrorIs(t, err, core.ErrForbidden)

		_, err = svc.DeleteTransaction(ctx, id, intruder.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)

		_, err = svc.GetTransaction(ctx, id, intruder.ID)
		assert.ErrorIs(t, err, core.ErrForbidden)

		got, err := svc.GetTransaction(ctx, id, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(4200), got.Amount.Cents)
		assert.Equal(t, core.Income, got.Type)

		assert.Equal(t, 1, assertConsistent(t, store, owner.ID, 4200))
		assert.Equal(t, 0, assertConsistent(t, store, intruder.ID, 0))
	})
}

func TestConcurrentCreatesLoseNoUpdates(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		svc := NewLedgerService(store, nil, nil)
		u := ledgertest.SeedUser(t, store, "race@example.com")

		const n = 50
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.CreateTransaction(ctx, u.ID, input(100, core.Income))
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		assert.Equal(t, n, assertConsistent(t, store, u.ID, n*100))
	})
}

func TestConcurrentMixedWritesKeepInvariant(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		svc := NewLedgerService(store, nil, nil)
		u := ledgertest.SeedUser(t, store, "mixed@example.com")

		ids := make([]string, 10)
		for i := range ids {
			res, err := svc.CreateTransaction(ctx, u.ID, input(1000, core.Expense))
			require.NoError(t, err)
			ids[i] = res.Transaction.ID
		}

		var wg sync.WaitGroup
		for i, id := range ids {
			wg.Add(2)
			go func() {
				defer wg.Done()
				if i%2 == 0 {
					_, err := svc.DeleteTransaction(ctx, id, u.ID)
					assert.NoError(t, err)
					return
				}
				_, err := svc.UpdateTransaction(ctx, id, u.ID, input(1000, core.Income))
				assert.NoError(t, err)
			}()
			go func() {
				defer wg.Done()
				_, err := svc.CreateTransaction(ctx, u.ID, input(1, core.Income))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		// 5 deleted, 5 flipped to +1000, 10 new +1.
		assert.Equal(t, 15, assertConsistent(t, store, u.ID, 5*1000+10))
	})
}

func TestFailureInsideUnitOfWorkRollsBack(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		pub := &recordingPublisher{}
		svc := NewLedgerService(store, pub, nil)
		u := ledgertest.SeedUser(t, store, "rollback@example.com")

		boom := errors.New("boom")
		_, err := svc.create(ctx, u.ID, input(900, core.Income), func(ledger.Tx) error { return boom })
		assert.ErrorIs(t, err, boom)

		assert.Equal(t, 0, assertConsistent(t, store, u.ID, 0))
		assert.Empty(t, pub.kinds(), "nothing is published for a rolled back write")
	})
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		pub := &recordingPublisher{err: errors.New("broker down")}
		svc := NewLedgerService(store, pub, nil)
		u := ledgertest.SeedUser(t, store, "broker@example.com")

		res, err := svc.CreateTransaction(ctx, u.ID, input(300, core.Income))
		require.NoError(t, err)
		assert.Equal(t, int64(300), res.Balance.Cents)
		assert.Len(t, pub.kinds(), 1)
	})
}

func TestMonthlyStatistics(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		stats := cache.NewLRUStatsCache(100, time.Minute)
		svc := NewLedgerService(store, nil, stats)
		u := ledgertest.SeedUser(t, store, "stats@example.com")

		at := func(y int, m time.Month, d, h int) *time.Time {
			v := time.Date(y, m, d, h, 0, 0, 0, time.UTC)
			return &v
		}
		seed := []TransactionInput{
			{Amount: money(10000), Type: core.Income, Date: at(2025, time.February, 3, 9)},
			{Amount: money(4000), Type: core.Expense, Date: at(2025, time.February, 28, 23)},
			{Amount: money(15000), Type: core.Income, Date: at(2025, time.March, 1, 0)},
			{Amount: money(2000), Type: core.Expense, Date: at(2025, time.March, 31, 23)},
			{Amount: money(99900), Type: core.Income, Date: at(2025, time.April, 1, 0)},
		}
		for _, in := range seed {
			_, err := svc.CreateTransaction(ctx, u.ID, in)
			require.NoError(t, err)
		}

		ref := time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
		first, err := svc.MonthlyStatistics(ctx, u.ID, ref)
		require.NoError(t, err)

		assert.Equal(t, int64(15000), first.CurrentMonth.Income.Cents)
		assert.Equal(t, int64(2000), first.CurrentMonth.Expenses.Cents)
		assert.Equal(t, int64(13000), first.CurrentMonth.Balance.Cents)
		assert.Equal(t, int64(10000), first.PreviousMonth.Income.Cents)
		assert.Equal(t, int64(4000), first.PreviousMonth.Expenses.Cents)
		assert.Equal(t, 50.0, first.PercentageChanges.Income)
		assert.Equal(t, -50.0, first.PercentageChanges.Expenses)
		assert.Equal(t, 116.7, first.PercentageChanges.Balance)

		second, err := svc.MonthlyStatistics(ctx, u.ID, ref)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		_, err = svc.CreateTransaction(ctx, u.ID, TransactionInput{Amount: money(500), Type: core.Expense, Date: at(2025, time.March, 20, 8)})
		require.NoError(t, err)
		third, err := svc.MonthlyStatistics(ctx, u.ID, ref)
		require.NoError(t, err)
		assert.Equal(t, int64(2500), third.CurrentMonth.Expenses.Cents, "writes invalidate cached statistics")
	})
}

// racingStore commits a write right after the first current-month aggregate,
// before the service gets to fill the cache.
type racingStore struct {
	ledger.Store
	month core.MonthWindow
	once  sync.Once
	write func()
}

func (s *racingStore) SumByType(ctx context.Context, userID string, from, to time.Time) (core.Money, core.Money, error) {
	income, expenses, err := s.Store.SumByType(ctx, userID, from, to)
	if from.Equal(s.month.Start) {
		s.once.Do(s.write)
	}
	return income, expenses, err
}

func TestMonthlyStatisticsWriteDuringAggregation(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		ref := time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
		racing := &racingStore{Store: store, month: core.MonthOf(ref)}
		svc := NewLedgerService(racing, nil, cache.NewLRUStatsCache(100, 5*time.Minute))
		u := ledgertest.SeedUser(t, store, "race@example.com")

		racing.write = func() {
			d := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
			_, err := svc.CreateTransaction(ctx, u.ID, TransactionInput{Amount: money(10000), Type: core.Income, Date: &d})
			assert.NoError(t, err)
		}

		_, err := svc.MonthlyStatistics(ctx, u.ID, ref)
		require.NoError(t, err)

		after, err := svc.MonthlyStatistics(ctx, u.ID, ref)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), after.CurrentMonth.Income.Cents, "a committed write must show in later reads")
	})
}

func TestMonthlyStatisticsEmpty(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		svc := NewLedgerService(store, nil, nil)
		u := ledgertest.SeedUser(t, store, "empty@example.com")

		got, err := svc.MonthlyStatistics(context.Background(), u.ID, time.Now())
		require.NoError(t, err)
		assert.Equal(t, core.MonthlyStatistics{}, got)
	})
}

func TestListTransactions(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		svc := NewLedgerService(store, nil, nil)
		u := ledgertest.SeedUser(t, store, "list@example.com")
		other := ledgertest.SeedUser(t, store, "list-other@example.com")

		for i := range 5 {
			d := time.Date(2025, time.January, i+1, 12, 0, 0, 0, time.UTC)
			typ := core.Income
			if i%2 == 1 {
				typ = core.Expense
			}
			_, err := svc.CreateTransaction(ctx, u.ID, TransactionInput{Amount: money(100), Type: typ, Date: &d})
			require.NoError(t, err)
		}
		_, err := svc.CreateTransaction(ctx, other.ID, input(100, core.Income))
		require.NoError(t, err)

		page, err := svc.ListTransactions(ctx, u.ID, ledger.TransactionFilter{UserID: other.ID, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total, "filter is scoped to the caller")
		require.Len(t, page.Transactions, 2)
		assert.Equal(t, 5, page.Transactions[0].Date.Day(), "newest first")

		page, err = svc.ListTransactions(ctx, u.ID, ledger.TransactionFilter{Type: core.Expense})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
		assert.Equal(t, ledger.DefaultLimit, page.Limit)

		from := time.Date(2025, time.January, 3, 0, 0, 0, 0, time.UTC)
		_, err = svc.ListTransactions(ctx, u.ID, ledger.TransactionFilter{From: &from, To: &from})
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})
}

func TestAuditAndRepair(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		svc := NewLedgerService(store, nil, nil)
		u := ledgertest.SeedUser(t, store, "audit@example.com")

		_, err := svc.CreateTransaction(ctx, u.ID, input(1500, core.Income))
		require.NoError(t, err)

		audit, err := svc.AuditBalance(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, audit.Consistent())

		require.NoError(t, store.WithinTx(ctx, func(tx ledger.Tx) error {
			return tx.SetBalance(ctx, u.ID, money(99))
		}))

		audits, err := svc.AuditAll(ctx)
		require.NoError(t, err)
		require.Len(t, audits, 1)
		assert.Equal(t, int64(99-1500), audits[0].Drift.Cents)

		repaired, err := svc.RepairBalance(ctx, u.ID)
		require.NoError(t, err)
		assert.False(t, repaired.Consistent(), "report describes the state before repair")
		assertConsistent(t, store, u.ID, 1500)

		again, err := svc.AuditBalance(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, again.Consistent())
	})
}
