package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/ledger/ledgertest"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		svc := NewUserService(store)

		u, err := svc.Register(ctx, " Ada@Example.com ", "correct horse", "Ada Lovelace")
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", u.Email)
		assert.True(t, u.Balance.IsZero())
		assert.NotEqual(t, "correct horse", u.PasswordHash)

		_, err = svc.Register(ctx, "ADA@example.com", "another password", "Impostor")
		assert.ErrorIs(t, err, core.ErrConflict)

		got, err := svc.Authenticate(ctx, "ada@example.com", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		_, err = svc.Authenticate(ctx, "ada@example.com", "wrong password")
		assert.ErrorIs(t, err, core.ErrUnauthorized)
		_, err = svc.Authenticate(ctx, "nobody@example.com", "correct horse")
		assert.ErrorIs(t, err, core.ErrUnauthorized)

		profile, err := svc.GetProfile(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", profile.FullName)
	})
}

func TestRegisterValidation(t *testing.T) {
	svc := NewUserService(nil)
	tests := []struct {
		name, email, password string
	}{
		{"empty email", "", "long enough"},
		{"malformed email", "not-an-email", "long enough"},
		{"short password", "short@example.com", "1234567"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.email, tt.password, "x")
			assert.ErrorIs(t, err, core.ErrInvalidInput)
		})
	}
}

func TestUpdateProfile(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		svc := NewUserService(store)
		u, err := svc.Register(ctx, "grace@example.com", "long enough", "Grace")
		require.NoError(t, err)
		_, err = svc.Register(ctx, "taken@example.com", "long enough", "Taken")
		require.NoError(t, err)

		email, name := " Grace.Hopper@Example.com ", " Grace Hopper "
		updated, err := svc.UpdateProfile(ctx, u.ID, ProfilePatch{Email: &email, FullName: &name})
		require.NoError(t, err)
		assert.Equal(t, "grace.hopper@example.com", updated.Email)
		assert.Equal(t, "Grace Hopper", updated.FullName)

		_, err = svc.Authenticate(ctx, "grace.hopper@example.com", "long enough")
		require.NoError(t, err, "password survives a profile update")

		onlyName := "G. Hopper"
		updated, err = svc.UpdateProfile(ctx, u.ID, ProfilePatch{FullName: &onlyName})
		require.NoError(t, err)
		assert.Equal(t, "grace.hopper@example.com", updated.Email)

		taken := "TAKEN@example.com"
		_, err = svc.UpdateProfile(ctx, u.ID, ProfilePatch{Email: &taken})
		assert.ErrorIs(t, err, core.ErrConflict)

		bad := "not-an-email"
		_, err = svc.UpdateProfile(ctx, u.ID, ProfilePatch{Email: &bad})
		assert.ErrorIs(t, err, core.ErrInvalidInput)

		_, err = svc.UpdateProfile(ctx, "00000000-0000-0000-0000-000000000000", ProfilePatch{FullName: &name})
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestDeleteUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		users := NewUserService(store)
		ledgerSvc := NewLedgerService(store, nil, nil)
		budgets := NewBudgetService(store)
		tags := NewTagService(store)

		u := ledgertest.SeedUser(t, store, "leaving@example.com")
		stay := ledgertest.SeedUser(t, store, "staying@example.com")

		tag, err := tags.CreateTag(ctx, u.ID, TagInput{Name: "Food"})
		require.NoError(t, err)
		in := input(2500, core.Expense)
		in.TagID = &tag.ID
		created, err := ledgerSvc.CreateTransaction(ctx, u.ID, in)
		require.NoError(t, err)
		b, err := budgets.CreateBudget(ctx, u.ID, BudgetInput{Name: "Main", Amount: money(10000), IsMain: true})
		require.NoError(t, err)
		kept, err := ledgerSvc.CreateTransaction(ctx, stay.ID, input(700, core.Income))
		require.NoError(t, err)

		require.NoError(t, users.DeleteUser(ctx, u.ID))

		_, err = users.GetProfile(ctx, u.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = store.GetTransaction(ctx, created.Transaction.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = store.GetTag(ctx, tag.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = store.GetBudget(ctx, b.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)

		_, err = store.GetTransaction(ctx, kept.Transaction.ID)
		require.NoError(t, err)
		audit, err := ledgerSvc.AuditBalance(ctx, stay.ID)
		require.NoError(t, err)
		assert.True(t, audit.Consistent())

		assert.ErrorIs(t, users.DeleteUser(ctx, u.ID), core.ErrNotFound)
	})
}

func TestTagLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		tags := NewTagService(store)
		ledgerSvc := NewLedgerService(store, nil, nil)
		u := ledgertest.SeedUser(t, store, "tags@example.com")
		other := ledgertest.SeedUser(t, store, "tags-other@example.com")

		food, err := tags.CreateTag(ctx, u.ID, TagInput{Name: "Food"})
		require.NoError(t, err)
		assert.Equal(t, core.DefaultTagColor, food.Color)

		_, err = tags.CreateTag(ctx, u.ID, TagInput{Name: "food"})
		assert.ErrorIs(t, err, core.ErrConflict)
		_, err = tags.CreateTag(ctx, other.ID, TagInput{Name: "Food"})
		require.NoError(t, err, "names are unique per user")

		travel, err := tags.CreateTag(ctx, u.ID, TagInput{Name: "Travel", Color: "#ff0000"})
		require.NoError(t, err)
		clash := "FOOD"
		_, err = tags.UpdateTag(ctx, travel.ID, u.ID, TagPatch{Name: &clash})
		assert.ErrorIs(t, err, core.ErrConflict)

		rename := "Groceries"
		renamed, err := tags.UpdateTag(ctx, food.ID, u.ID, TagPatch{Name: &rename})
		require.NoError(t, err)
		assert.Equal(t, "Groceries", renamed.Name)
		assert.Equal(t, core.DefaultTagColor, renamed.Color)

		res, err := ledgerSvc.CreateTransaction(ctx, u.ID, TransactionInput{Amount: money(1200), Type: core.Expense, TagID: &food.ID})
		require.NoError(t, err)

		assert.ErrorIs(t, tags.DeleteTag(ctx, food.ID, other.ID), core.ErrNotFound)
		require.NoError(t, tags.DeleteTag(ctx, food.ID, u.ID))

		got, err := ledgerSvc.GetTransaction(ctx, res.Transaction.ID, u.ID)
		require.NoError(t, err)
		assert.Nil(t, got.TagID, "transactions survive their tag")
		assertConsistent(t, store, u.ID, -1200)

		list, err := tags.ListTags(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Travel", list[0].Name)
	})
}

func TestGeopoints(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ledger.Store) {
		ctx := context.Background()
		svc := NewGeopointService(store)
		u := ledgertest.SeedUser(t, store, "geo@example.com")

		_, err := svc.CreateGeopoint(ctx, u.ID, GeopointInput{Name: "North", Type: core.Expense, Latitude: 91})
		assert.ErrorIs(t, err, core.ErrInvalidInput)
		_, err = svc.CreateGeopoint(ctx, u.ID, GeopointInput{Name: "West", Type: core.Expense, Longitude: -180.5})
		assert.ErrorIs(t, err, core.ErrInvalidInput)

		g, err := svc.CreateGeopoint(ctx, u.ID, GeopointInput{
			Name: "Office", Type: core.Income, Latitude: 45.4642, Longitude: 9.19, Address: "Piazza del Duomo",
		})
		require.NoError(t, err)

		points, err := svc.ListGeopoints(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, points, 1)
		assert.Equal(t, g.ID, points[0].ID)
		assert.InDelta(t, 45.4642, points[0].Latitude, 1e-9)
	})
}
