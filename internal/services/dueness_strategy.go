// Package services holds the business operations behind the HTTP API and the
// background workers.
//
// Dueness of periodic transactions is decided by one strategy per frequency.
package services

import (
	"fmt"
	"time"

	"fintrack/internal/core"
)

// DuenessChecker decides whether a periodic transaction should be materialised
// at now, given when it last was. A zero lastExecution means never.
type DuenessChecker interface {
	IsDue(lastExecution, now, startDate time.Time) bool
}

type DailyChecker struct{}

// IsDue returns true once per calendar day.
func (DailyChecker) IsDue(lastExecution, now, _ time.Time) bool {
	if lastExecution.IsZero() {
		return true
	}
	ly, lm, ld := lastExecution.In(now.Location()).Date()
	ny, nm, nd := now.Date()
	return ly != ny || lm != nm || ld != nd
}

type WeeklyChecker struct{}

// IsDue returns true when seven or more days have passed.
func (WeeklyChecker) IsDue(lastExecution, now, _ time.Time) bool {
	if lastExecution.IsZero() {
		return true
	}
	return now.Sub(lastExecution) >= 7*24*time.Hour
}

type MonthlyChecker struct{}

// IsDue returns true once per month, from the start date's day onward.
// Days past the end of a short month clamp to its last day.
func (MonthlyChecker) IsDue(lastExecution, now, startDate time.Time) bool {
	if lastExecution.IsZero() {
		return true
	}
	last := lastExecution.In(now.Location())
	if last.Year() == now.Year() && last.Month() == now.Month() {
		return false
	}
	return now.Day() >= clampDay(now.Year(), now.Month(), startDate.Day())
}

type YearlyChecker struct{}

// IsDue returns true once per year, from the start date's month and day onward.
func (YearlyChecker) IsDue(lastExecution, now, startDate time.Time) bool {
	if lastExecution.IsZero() {
		return true
	}
	if lastExecution.In(now.Location()).Year() == now.Year() {
		return false
	}
	switch {
	case now.Month() < startDate.Month():
		return false
	case now.Month() > startDate.Month():
		return true
	}
	return now.Day() >= clampDay(now.Year(), now.Month(), startDate.Day())
}

// clampDay returns day, or the last day of the month when the month is shorter.
func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}

var duenessStrategies = map[core.Frequency]DuenessChecker{
	core.Daily:   DailyChecker{},
	core.Weekly:  WeeklyChecker{},
	core.Monthly: MonthlyChecker{},
	core.Yearly:  YearlyChecker{},
}

func GetDuenessChecker(frequency core.Frequency) (DuenessChecker, error) {
	checker, ok := duenessStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("unknown frequency: %s", frequency)
	}
	return checker, nil
}
