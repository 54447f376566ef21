package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestDuenessCheckers(t *testing.T) {
	tests := []struct {
		name      string
		checker   DuenessChecker
		last      time.Time
		now       time.Time
		startDate time.Time
		want      bool
	}{
		{"daily never executed", DailyChecker{}, time.Time{}, day(2024, 1, 15), day(2024, 1, 1), true},
		{"daily executed today", DailyChecker{}, time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC), day(2024, 1, 15), day(2024, 1, 1), false},
		{"daily executed yesterday", DailyChecker{}, day(2024, 1, 14), day(2024, 1, 15), day(2024, 1, 1), true},

		{"weekly executed 3 days ago", WeeklyChecker{}, day(2024, 1, 12), day(2024, 1, 15), day(2024, 1, 1), false},
		{"weekly executed 7 days ago", WeeklyChecker{}, day(2024, 1, 8), day(2024, 1, 15), day(2024, 1, 1), true},

		{"monthly never executed", MonthlyChecker{}, time.Time{}, day(2024, 1, 15), day(2024, 1, 10), true},
		{"monthly executed this month", MonthlyChecker{}, day(2024, 1, 10), day(2024, 1, 15), day(2024, 1, 10), false},
		{"monthly before target day", MonthlyChecker{}, day(2024, 1, 15), day(2024, 2, 10), day(2024, 1, 15), false},
		{"monthly on target day", MonthlyChecker{}, day(2024, 1, 15), day(2024, 2, 15), day(2024, 1, 15), true},
		{"monthly day 31 clamps in leap february", MonthlyChecker{}, day(2024, 1, 31), day(2024, 2, 29), day(2024, 1, 31), true},
		{"monthly day 31 clamps in april", MonthlyChecker{}, day(2025, 3, 31), day(2025, 4, 30), day(2025, 1, 31), true},

		{"yearly executed this year", YearlyChecker{}, day(2024, 3, 15), day(2024, 6, 15), day(2024, 3, 15), false},
		{"yearly before target month", YearlyChecker{}, day(2024, 6, 15), day(2025, 3, 15), day(2024, 6, 15), false},
		{"yearly past target month", YearlyChecker{}, day(2024, 3, 15), day(2025, 6, 15), day(2024, 3, 15), true},
		{"yearly same month before day", YearlyChecker{}, day(2024, 6, 15), day(2025, 6, 10), day(2024, 6, 15), false},
		{"yearly same month on day", YearlyChecker{}, day(2024, 6, 15), day(2025, 6, 15), day(2024, 6, 15), true},
		{"yearly feb 29 in common year", YearlyChecker{}, day(2024, 2, 29), day(2025, 2, 28), day(2024, 2, 29), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.checker.IsDue(tt.last, tt.now, tt.startDate))
		})
	}
}

func TestGetDuenessChecker(t *testing.T) {
	for _, f := range []core.Frequency{core.Daily, core.Weekly, core.Monthly, core.Yearly} {
		checker, err := GetDuenessChecker(f)
		require.NoError(t, err, f)
		assert.NotNil(t, checker)
	}

	_, err := GetDuenessChecker(core.Frequency("BIWEEKLY"))
	assert.Error(t, err)
}
