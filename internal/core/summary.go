package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonthWindow is the half-open interval [Start, End) covering one calendar month.
type MonthWindow struct {
	Start time.Time
	End   time.Time
}

// MonthOf returns the calendar month containing ref, in ref's location.
func MonthOf(ref time.Time) MonthWindow {
	y, m, _ := ref.Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, ref.Location())
	return MonthWindow{Start: start, End: start.AddDate(0, 1, 0)}
}

// Previous returns the month immediately before w.
func (w MonthWindow) Previous() MonthWindow {
	start := w.Start.AddDate(0, -1, 0)
	return MonthWindow{Start: start, End: w.Start}
}

func (w MonthWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Key identifies the window in caches, e.g. "2025-03".
func (w MonthWindow) Key() string {
	return w.Start.Format("2006-01")
}

// PeriodTotals aggregates one window of the ledger.
type PeriodTotals struct {
	Income   Money `json:"income"`
	Expenses Money `json:"expenses"`
	Balance  Money `json:"balance"`
}

func NewPeriodTotals(income, expenses Money) PeriodTotals {
	return PeriodTotals{Income: income, Expenses: expenses, Balance: income.Sub(expenses)}
}

// PercentageChanges holds month-over-month changes rounded to one decimal.
type PercentageChanges struct {
	Income   float64 `json:"income"`
	Expenses float64 `json:"expenses"`
	Balance  float64 `json:"balance"`
}

// MonthlyStatistics compares the month containing a reference date with the month before it.
type MonthlyStatistics struct {
	CurrentMonth      PeriodTotals      `json:"currentMonth"`
	PreviousMonth     PeriodTotals      `json:"previousMonth"`
	PercentageChanges PercentageChanges `json:"percentageChanges"`
}

func NewMonthlyStatistics(current, previous PeriodTotals) MonthlyStatistics {
	return MonthlyStatistics{
		CurrentMonth:  current,
		PreviousMonth: previous,
		PercentageChanges: PercentageChanges{
			Income:   PercentageChange(current.Income, previous.Income),
			Expenses: PercentageChange(current.Expenses, previous.Expenses),
			Balance:  PercentageChange(current.Balance, previous.Balance),
		},
	}
}

var hundred = decimal.NewFromInt(100)

// PercentageChange returns (current-previous)/previous*100 rounded to one decimal.
// A zero previous value yields 0 when current is also zero, otherwise ±100 following current's sign.
func PercentageChange(current, previous Money) float64 {
	if previous.IsZero() {
		switch {
		case current.Cents > 0:
			return 100
		case current.Cents < 0:
			return -100
		default:
			return 0
		}
	}
	change := current.Sub(previous).Decimal().
		Div(previous.Decimal()).
		Mul(hundred).
		Round(1)
	return change.InexactFloat64()
}

// Ratio returns part/whole*100 rounded to one decimal; 0 when whole is zero.
func Ratio(part, whole Money) float64 {
	if whole.IsZero() {
		return 0
	}
	return part.Decimal().Div(whole.Decimal()).Mul(hundred).Round(1).InexactFloat64()
}
