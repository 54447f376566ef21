// Package ledgertest holds the behaviour every ledger.Store backend must share.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

// Run exercises a fresh store per subtest.
func Run(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s ledger.Store)
	}{
		{"users", testUsers},
		{"update user", testUpdateUser},
		{"delete user cascades", testDeleteUser},
		{"transactions round trip", testTransactionRoundTrip},
		{"list filters and pagination", testListTransactions},
		{"sum by type uses half open window", testSumByType},
		{"adjust balance", testAdjustBalance},
		{"rollback discards every write", testRollback},
		{"tx observes own writes", testReadOwnWrites},
		{"delete tag detaches references", testDeleteTag},
		{"main budget", testMainBudget},
		{"periodic schedules", testPeriodic},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			tc.fn(t, s)
		})
	}
}

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func cents(n int64) core.Money { return core.Money{Cents: n} }

// SeedUser inserts a user with a zero balance.
func SeedUser(t *testing.T, s ledger.Store, email string) core.User {
	t.Helper()
	u := core.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "hash",
		FullName:     "Test User",
		CreatedAt:    base,
		UpdatedAt:    base,
	}
	require.NoError(t, s.WithinTx(context.Background(), func(tx ledger.Tx) error {
		return tx.InsertUser(context.Background(), u)
	}))
	return u
}

func newTx(userID string, amount int64, typ core.TransactionType, date time.Time) core.Transaction {
	return core.Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      cents(amount),
		Type:        typ,
		Description: fmt.Sprintf("%s %d", typ, amount),
		Date:        date,
		CreatedAt:   base,
	}
}

func insert(t *testing.T, s ledger.Store, txs ...core.Transaction) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error {
		for _, tr := range txs {
			if err := tx.InsertTransaction(ctx, tr); err != nil {
				return err
			}
		}
		return nil
	}))
}

func testUsers(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "Alice@Example.com")

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.True(t, got.Balance.IsZero())

	byEmail, err := s.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	err = s.WithinTx(ctx, func(tx ledger.Tx) error {
		dup := u
		dup.ID = uuid.NewString()
		dup.Email = "ALICE@example.com"
		return tx.InsertUser(ctx, dup)
	})
	assert.ErrorIs(t, err, core.ErrConflict)

	_, err = s.GetUser(ctx, uuid.NewString())
	assert.ErrorIs(t, err, core.ErrNotFound)

	ids, err := s.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{u.ID}, ids)
}

func testUpdateUser(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "mallory@example.com")
	other := SeedUser(t, s, "taken@example.com")

	u.Email = "mallory.new@example.com"
	u.FullName = "Mallory New"
	u.UpdatedAt = base.Add(time.Hour)
	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.UpdateUser(ctx, u) }))

	got, err := s.GetUserByEmail(ctx, "mallory.new@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "Mallory New", got.FullName)
	assert.Equal(t, "hash", got.PasswordHash)
	_, err = s.GetUserByEmail(ctx, "mallory@example.com")
	assert.ErrorIs(t, err, core.ErrNotFound)

	u.Email = "TAKEN@example.com"
	err = s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.UpdateUser(ctx, u) })
	assert.ErrorIs(t, err, core.ErrConflict)
	still, err := s.GetUserByEmail(ctx, "taken@example.com")
	require.NoError(t, err)
	assert.Equal(t, other.ID, still.ID)

	missing := u
	missing.ID = uuid.NewString()
	missing.Email = "ghost@example.com"
	err = s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.UpdateUser(ctx, missing) })
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testDeleteUser(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "oscar@example.com")
	keep := SeedUser(t, s, "peggy@example.com")

	tag := core.Tag{ID: uuid.NewString(), UserID: u.ID, Name: "Gym", Color: core.DefaultTagColor, CreatedAt: base}
	geo := core.Geopoint{ID: uuid.NewString(), UserID: u.ID, Name: "Shop", Type: core.Expense, Latitude: 45, Longitude: 9, CreatedAt: base}
	budget := core.Budget{ID: uuid.NewString(), UserID: u.ID, Name: "Main", Amount: cents(5000), IsMain: true, CreatedAt: base, UpdatedAt: base}
	periodic := core.PeriodicTransaction{
		ID: uuid.NewString(), UserID: u.ID, Amount: cents(100), Type: core.Expense,
		Frequency: core.Daily, StartDate: base, CreatedAt: base,
	}
	tr := newTx(u.ID, 700, core.Expense, base)
	tr.TagID = &tag.ID
	tr.GeopointID = &geo.ID
	kept := newTx(keep.ID, 300, core.Income, base)

	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error {
		return errors.Join(
			tx.InsertTag(ctx, tag),
			tx.InsertGeopoint(ctx, geo),
			tx.InsertBudget(ctx, budget),
			tx.InsertPeriodic(ctx, periodic),
			tx.InsertTransaction(ctx, tr),
			tx.InsertTransaction(ctx, kept),
		)
	}))

	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.DeleteUser(ctx, u.ID) }))

	_, err := s.GetUser(ctx, u.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetUserByEmail(ctx, u.Email)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetTransaction(ctx, tr.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetTag(ctx, tag.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetGeopoint(ctx, geo.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetBudget(ctx, budget.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetPeriodic(ctx, periodic.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.GetTransaction(ctx, kept.ID)
	assert.NoError(t, err)
	ids, err := s.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{keep.ID}, ids)

	err = s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.DeleteUser(ctx, u.ID) })
	assert.ErrorIs(t, err, core.ErrNotFound)

	// The email is free again.
	SeedUser(t, s, "oscar@example.com")
}

func testTransactionRoundTrip(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "bob@example.com")

	tag := core.Tag{ID: uuid.NewString(), UserID: u.ID, Name: "Food", Color: core.DefaultTagColor, CreatedAt: base}
	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.InsertTag(ctx, tag) }))

	tr := newTx(u.ID, 1250, core.Expense, base)
	tr.TagID = &tag.ID
	insert(t, s, tr)

	got, err := s.GetTransaction(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.Amount, got.Amount)
	assert.Equal(t, tr.Type, got.Type)
	assert.Equal(t, tr.Description, got.Description)
	assert.True(t, tr.Date.Equal(got.Date))
	require.NotNil(t, got.TagID)
	assert.Equal(t, tag.ID, *got.TagID)
	assert.Nil(t, got.GeopointID)

	tr.Amount = cents(990)
	tr.Type = core.Income
	tr.TagID = nil
	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.UpdateTransaction(ctx, tr) }))

	got, err = s.GetTransaction(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, cents(990), got.Amount)
	assert.Equal(t, core.Income, got.Type)
	assert.Nil(t, got.TagID)

	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.DeleteTransaction(ctx, tr.ID) }))
	_, err = s.GetTransaction(ctx, tr.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.DeleteTransaction(ctx, tr.ID) })
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testListTransactions(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "carol@example.com")
	other := SeedUser(t, s, "dave@example.com")

	var all []core.Transaction
	for i := 0; i < 5; i++ {
		typ := core.Expense
		if i%2 == 0 {
			typ = core.Income
		}
		all = append(all, newTx(u.ID, int64(100*(i+1)), typ, base.AddDate(0, 0, i)))
	}
	insert(t, s, all...)
	insert(t, s, newTx(other.ID, 999, core.Income, base))

	page, total, err := s.ListTransactions(ctx, ledger.TransactionFilter{UserID: u.ID, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, all[4].ID, page[0].ID, "newest first")
	assert.Equal(t, all[3].ID, page[1].ID)

	page, total, err = s.ListTransactions(ctx, ledger.TransactionFilter{UserID: u.ID, Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 1)
	assert.Equal(t, all[0].ID, page[0].ID)

	page, total, err = s.ListTransactions(ctx, ledger.TransactionFilter{UserID: u.ID, Type: core.Expense})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, tr := range page {
		assert.Equal(t, core.Expense, tr.Type)
	}

	from, to := base.AddDate(0, 0, 1), base.AddDate(0, 0, 3)
	page, total, err = s.ListTransactions(ctx, ledger.TransactionFilter{UserID: u.ID, From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 2)
	assert.Equal(t, all[2].ID, page[0].ID)
	assert.Equal(t, all[1].ID, page[1].ID)

	page, total, err = s.ListTransactions(ctx, ledger.TransactionFilter{UserID: u.ID, Offset: 50})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, page)
}

func testSumByType(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "erin@example.com")
	w := core.MonthOf(base)

	insert(t, s,
		newTx(u.ID, 10000, core.Income, w.Start),
		newTx(u.ID, 2500, core.Expense, w.End.Add(-time.Second)),
		newTx(u.ID, 700, core.Expense, base),
		newTx(u.ID, 5000, core.Income, w.End),
		newTx(u.ID, 300, core.Expense, w.Start.Add(-time.Second)),
	)

	income, expenses, err := s.SumByType(ctx, u.ID, w.Start, w.End)
	require.NoError(t, err)
	assert.Equal(t, cents(10000), income)
	assert.Equal(t, cents(3200), expenses)

	total, err := s.LedgerTotal(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, cents(10000+5000-2500-700-300), total)

	income, expenses, err = s.SumByType(ctx, uuid.NewString(), w.Start, w.End)
	require.NoError(t, err)
	assert.True(t, income.IsZero())
	assert.True(t, expenses.IsZero())
}

func testAdjustBalance(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "frank@example.com")

	var after core.Money
	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.AdjustBalance(ctx, u.ID, cents(1000)); err != nil {
			return err
		}
		var err error
		after, err = tx.AdjustBalance(ctx, u.ID, cents(-250))
		return err
	}))
	assert.Equal(t, cents(750), after)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, cents(750), got.Balance)

	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.SetBalance(ctx, u.ID, cents(42)) }))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, cents(42), got.Balance)

	err = s.WithinTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.AdjustBalance(ctx, uuid.NewString(), cents(1))
		return err
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testRollback(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "grace@example.com")
	boom := errors.New("boom")

	tr := newTx(u.ID, 5000, core.Income, base)
	err := s.WithinTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertTransaction(ctx, tr); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, u.ID, cents(5000)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetTransaction(ctx, tr.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
}

func testReadOwnWrites(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "heidi@example.com")
	tr := newTx(u.ID, 800, core.Expense, base)

	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertTransaction(ctx, tr); err != nil {
			return err
		}
		got, err := tx.GetTransactionForUpdate(ctx, tr.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, tr.Amount, got.Amount)
		total, err := tx.LedgerTotal(ctx, u.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, cents(-800), total)
		return nil
	}))
}

func testDeleteTag(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "ivan@example.com")
	tag := core.Tag{ID: uuid.NewString(), UserID: u.ID, Name: "Rent", Color: "#ff0000", CreatedAt: base}
	tr := newTx(u.ID, 90000, core.Expense, base)
	tr.TagID = &tag.ID
	p := core.PeriodicTransaction{
		ID: uuid.NewString(), UserID: u.ID, TagID: &tag.ID, Amount: cents(90000), Type: core.Expense,
		Frequency: core.Monthly, StartDate: base, CreatedAt: base,
	}

	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertTag(ctx, tag); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, tr); err != nil {
			return err
		}
		return tx.InsertPeriodic(ctx, p)
	}))

	found, err := s.FindTagByName(ctx, u.ID, "rent")
	require.NoError(t, err)
	assert.Equal(t, tag.ID, found.ID)

	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.DeleteTag(ctx, tag.ID) }))

	_, err = s.GetTag(ctx, tag.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	got, err := s.GetTransaction(ctx, tr.ID)
	require.NoError(t, err)
	assert.Nil(t, got.TagID)
	gotP, err := s.GetPeriodic(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, gotP.TagID)
}

func testMainBudget(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "judy@example.com")
	first := core.Budget{ID: uuid.NewString(), UserID: u.ID, Name: "Monthly", Amount: cents(100000), IsMain: true, CreatedAt: base, UpdatedAt: base}
	second := core.Budget{ID: uuid.NewString(), UserID: u.ID, Name: "Holidays", Amount: cents(50000), CreatedAt: base.Add(time.Hour), UpdatedAt: base}

	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertBudget(ctx, first); err != nil {
			return err
		}
		return tx.InsertBudget(ctx, second)
	}))

	main, err := s.GetMainBudget(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, main.ID)

	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error {
		if err := tx.ClearMainBudget(ctx, u.ID, second.ID); err != nil {
			return err
		}
		second.IsMain = true
		return tx.UpdateBudget(ctx, second)
	}))

	main, err = s.GetMainBudget(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, main.ID)

	list, err := s.ListBudgets(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	mains := 0
	for _, b := range list {
		if b.IsMain {
			mains++
		}
	}
	assert.Equal(t, 1, mains)

	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.DeleteBudget(ctx, second.ID) }))
	_, err = s.GetMainBudget(ctx, u.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testPeriodic(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "ken@example.com")
	ended := base.AddDate(0, -1, 0)
	active := core.PeriodicTransaction{
		ID: uuid.NewString(), UserID: u.ID, Amount: cents(120000), Type: core.Income,
		Description: "Salary", Frequency: core.Monthly, StartDate: base.AddDate(0, -3, 0), CreatedAt: base,
	}
	expired := core.PeriodicTransaction{
		ID: uuid.NewString(), UserID: u.ID, Amount: cents(999), Type: core.Expense,
		Frequency: core.Weekly, StartDate: base.AddDate(-1, 0, 0), EndDate: &ended, CreatedAt: base,
	}
	future := core.PeriodicTransaction{
		ID: uuid.NewString(), UserID: u.ID, Amount: cents(500), Type: core.Expense,
		Frequency: core.Daily, StartDate: base.AddDate(0, 1, 0), CreatedAt: base,
	}
	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error {
		for _, p := range []core.PeriodicTransaction{active, expired, future} {
			if err := tx.InsertPeriodic(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}))

	list, err := s.ListActivePeriodic(ctx, base)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, active.ID, list[0].ID)
	assert.Nil(t, list[0].LastProcessedDate)

	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.MarkPeriodicProcessed(ctx, active.ID, base) }))
	got, err := s.GetPeriodic(ctx, active.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastProcessedDate)
	assert.True(t, base.Equal(*got.LastProcessedDate))

	all, err := s.ListPeriodic(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.DeletePeriodic(ctx, expired.ID) }))
	_, err = s.GetPeriodic(ctx, expired.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
