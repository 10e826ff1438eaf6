package core

import (
	"fmt"
	"time"
)

// SalaryMonth is the rolling one-month window anchored to a salary day.
// Both ends are inclusive.
type SalaryMonth struct {
	StartDate Date
	EndDate   Date
}

// Contains reports whether d falls inside the window.
func (s SalaryMonth) Contains(d Date) bool {
	return !d.Before(s.StartDate) && !d.After(s.EndDate)
}

func (s SalaryMonth) String() string {
	return fmt.Sprintf("%s..%s", s.StartDate, s.EndDate)
}

// ValidateSalaryDay rejects anchors outside 1-31.
func ValidateSalaryDay(salaryDay int) error {
	if salaryDay < 1 || salaryDay > 31 {
		return NewValidationError("salary_day", fmt.Sprintf("%d is outside 1-31", salaryDay))
	}
	return nil
}

// ComputeSalaryMonth returns the salary month containing now.
//
// When salaryDay exceeds the length of a month the anchor is clamped to that
// month's last day, so consecutive windows tile the calendar without gaps.
// For salaryDay <= 28 the window is exactly [salaryDay-th, +1 month - 1 day].
func ComputeSalaryMonth(salaryDay int, now time.Time) (SalaryMonth, error) {
	if err := ValidateSalaryDay(salaryDay); err != nil {
		return SalaryMonth{}, err
	}

	today := DateOf(now)
	start := anchorIn(today.Year(), today.Month(), salaryDay)
	if today.Before(start) {
		prev := NewDate(today.Year(), today.Month(), 1).AddMonths(-1)
		start = anchorIn(prev.Year(), prev.Month(), salaryDay)
	}

	next := NewDate(start.Year(), start.Month(), 1).AddMonths(1)
	end := anchorIn(next.Year(), next.Month(), salaryDay).AddDays(-1)

	return SalaryMonth{StartDate: start, EndDate: end}, nil
}

func anchorIn(year, month, salaryDay int) Date {
	day := salaryDay
	if last := daysIn(year, time.Month(month)); day > last {
		day = last
	}
	return NewDate(year, month, day)
}
