package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransactionType(t *testing.T) {
	for _, in := range []string{"income", "INCOME", " Income "} {
		got, err := ParseTransactionType(in)
		require.NoError(t, err, in)
		assert.Equal(t, Income, got)
	}
	got, err := ParseTransactionType("expense")
	require.NoError(t, err)
	assert.Equal(t, Expense, got)

	_, err = ParseTransactionType("transfer")
	assert.ErrorIs(t, err, ErrInvalidType)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDelta(t *testing.T) {
	amount := Money{Cents: 1500}
	assert.Equal(t, Money{Cents: 1500}, Delta(amount, Income))
	assert.Equal(t, Money{Cents: -1500}, Delta(amount, Expense))
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
}

func TestTransactionValidate(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	good := Transaction{Amount: Money{Cents: 100}, Type: Expense, Date: now}
	require.NoError(t, good.Validate())

	bads := []Transaction{
		{Amount: Money{Cents: 0}, Type: Expense, Date: now},
		{Amount: Money{Cents: 100}, Type: "TRANSFER", Date: now},
		{Amount: Money{Cents: 100}, Type: Income},
	}
	for i, tx := range bads {
		err := tx.Validate()
		if err == nil {
			t.Fatalf("case %d expected error", i)
		}
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
	}
}

func TestBudgetValidate(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, -1, 0)

	assert.NoError(t, Budget{Name: "Groceries", Amount: Money{Cents: 40000}}.Validate())
	assert.ErrorIs(t, Budget{Name: " ", Amount: Money{Cents: 1}}.Validate(), ErrEmptyName)
	assert.ErrorIs(t, Budget{Name: "x", Amount: Money{Cents: -1}}.Validate(), ErrInvalidAmount)
	assert.ErrorIs(t, Budget{Name: "x", Amount: Money{Cents: 1}, StartDate: &start, EndDate: &end}.Validate(), ErrInvalidInput)
}

func TestGeopointValidate(t *testing.T) {
	ok := Geopoint{Name: "Office", Type: Income, Latitude: 45.46, Longitude: 9.19}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.Latitude = 91
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)

	bad = ok
	bad.Longitude = -181
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)
}

func TestPeriodicTransactionActiveAt(t *testing.T) {
	start := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	p := PeriodicTransaction{StartDate: start, EndDate: &end}

	assert.False(t, p.ActiveAt(start.Add(-time.Hour)))
	assert.True(t, p.ActiveAt(start))
	assert.True(t, p.ActiveAt(end))
	assert.False(t, p.ActiveAt(end.Add(time.Hour)))

	p.EndDate = nil
	assert.True(t, p.ActiveAt(end.AddDate(5, 0, 0)))
}

func TestParseFrequency(t *testing.T) {
	f, err := ParseFrequency("monthly")
	require.NoError(t, err)
	assert.Equal(t, Monthly, f)

	_, err = ParseFrequency("hourly")
	assert.ErrorIs(t, err, ErrInvalidFrequency)
}
