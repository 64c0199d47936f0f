// Package core holds the pure billing-cycle domain: period arithmetic,
// installment planning and money handling. Nothing in this package does I/O;
// all date math happens on UTC calendar days because statement boundaries
// are a property of the account configuration, not of any local timezone.
package core

import (
	"fmt"
	"time"
)

// Period identifies one statement month as YYYY-MM.
type Period string

// NewPeriod builds a Period from a year and month.
func NewPeriod(year int, month time.Month) Period {
	return Period(fmt.Sprintf("%04d-%02d", year, int(month)))
}

// ParsePeriod parses a YYYY-MM string.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return "", fmt.Errorf("parse period %q: %w", s, err)
	}
	return NewPeriod(t.Year(), t.Month()), nil
}

func (p Period) String() string { return string(p) }

// Year and Month panic-free accessors; a malformed Period yields zero values.
func (p Period) Year() int {
	y, _ := p.split()
	return y
}

func (p Period) Month() time.Month {
	_, m := p.split()
	return m
}

func (p Period) split() (int, time.Month) {
	t, err := time.Parse("2006-01", string(p))
	if err != nil {
		return 0, 0
	}
	return t.Year(), t.Month()
}

// AddMonths rolls the period forward (or back) by n months using a flat
// month index, so there is no day-of-month component to drift.
func (p Period) AddMonths(n int) Period {
	y, m := p.split()
	idx := y*12 + int(m) - 1 + n
	return NewPeriod(idx/12, time.Month(idx%12+1))
}

// Before reports whether p sorts before q. The YYYY-MM encoding makes
// lexicographic order equal to chronological order.
func (p Period) Before(q Period) bool { return string(p) < string(q) }

// lastDayOfMonth uses the day-zero normalization of time.Date.
func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// clampDay pulls a configured day-of-month back to the last existing day
// of short months (closing day 30 in February behaves as Feb 28/29).
func clampDay(year int, month time.Month, day int) int {
	if last := lastDayOfMonth(year, month); day > last {
		return last
	}
	return day
}

// DateOnly truncates to a UTC calendar day.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PeriodForDate resolves which statement a purchase date belongs to: the
// period whose closing boundary is the first occurrence of closingDay on or
// after the date. A purchase on the closing day itself still makes the
// current statement; the day after opens the next one.
func PeriodForDate(date time.Time, closingDay int) Period {
	d := DateOnly(date)
	closing := clampDay(d.Year(), d.Month(), closingDay)
	p := NewPeriod(d.Year(), d.Month())
	if d.Day() <= closing {
		return p
	}
	return p.AddMonths(1)
}

// PeriodForClosingDate resolves a date against an explicitly observed
// closing date, e.g. one reported by an imported statement. This decouples
// the decision from day-of-month clamping: whatever calendar quirks produced
// the closing date, a purchase on or before it belongs to that statement.
func PeriodForClosingDate(date, closingDate time.Time) Period {
	d := DateOnly(date)
	c := DateOnly(closingDate)
	p := NewPeriod(c.Year(), c.Month())
	if d.After(c) {
		return p.AddMonths(1)
	}
	return p
}

// ClosingDateForPeriod is the day the period's window closes.
func ClosingDateForPeriod(p Period, closingDay int) time.Time {
	y, m := p.split()
	return time.Date(y, m, clampDay(y, m, closingDay), 0, 0, 0, 0, time.UTC)
}

// PeriodWindowStart is the first day of the period's window: the day after
// the previous period closed. Installments after the first have no real
// transaction date of their own and are anchored here.
func PeriodWindowStart(p Period, closingDay int) time.Time {
	return ClosingDateForPeriod(p.AddMonths(-1), closingDay).AddDate(0, 0, 1)
}

// DueDateForPeriod is paymentDueDay in the month after the period's closing
// month, clamped like any other configured day. The due month is always
// period + 1 regardless of how the due day relates to the closing day.
func DueDateForPeriod(p Period, paymentDueDay int) time.Time {
	next := p.AddMonths(1)
	y, m := next.split()
	return time.Date(y, m, clampDay(y, m, paymentDueDay), 0, 0, 0, 0, time.UTC)
}

// AddMonthsClamped advances a date by n calendar months preserving the
// day-of-month, clamped when the target month is shorter.
func AddMonthsClamped(date time.Time, n int) time.Time {
	d := DateOnly(date)
	idx := d.Year()*12 + int(d.Month()) - 1 + n
	y, m := idx/12, time.Month(idx%12+1)
	return time.Date(y, m, clampDay(y, m, d.Day()), 0, 0, 0, 0, time.UTC)
}
