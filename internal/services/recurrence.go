// Package services provides business logic and orchestration services.
//
// This file implements the Strategy Pattern for recurring payment scheduling.
// Each interval (monthly, quarterly, yearly) has its own stepper that knows
// how to advance a due date by one period.

package services

import (
	"sync"
	"time"

	"ledger/internal/core"
)

// IntervalStepper is the strategy interface for advancing a due date.
type IntervalStepper interface {
	// Next returns the due date one period after last.
	Next(last core.Date) core.Date
}

// MonthStepper advances by a fixed number of months, clamping to month end.
type MonthStepper struct {
	Months int
}

func (s MonthStepper) Next(last core.Date) core.Date {
	return last.AddMonths(s.Months)
}

var (
	stepperMu        sync.RWMutex
	intervalSteppers = map[core.Interval]IntervalStepper{
		core.Monthly:   MonthStepper{Months: 1},
		core.Quarterly: MonthStepper{Months: 3},
		core.Yearly:    MonthStepper{Months: 12},
	}
)

// GetIntervalStepper returns the stepper registered for interval.
func GetIntervalStepper(interval core.Interval) (IntervalStepper, bool) {
	stepperMu.RLock()
	defer stepperMu.RUnlock()
	s, ok := intervalSteppers[interval]
	return s, ok
}

// RegisterIntervalStepper allows registering custom steppers for new intervals.
func RegisterIntervalStepper(interval core.Interval, stepper IntervalStepper) {
	stepperMu.Lock()
	defer stepperMu.Unlock()
	intervalSteppers[interval] = stepper
}

// NextDueDate returns the next occurrence after last. An unrecognized
// interval returns last unchanged.
func NextDueDate(last core.Date, interval core.Interval) core.Date {
	stepper, ok := GetIntervalStepper(interval)
	if !ok {
		return last
	}
	return stepper.Next(last)
}

// requireNextDueDate is NextDueDate for callers that need a concrete date.
func requireNextDueDate(last core.Date, interval core.Interval) (core.Date, error) {
	stepper, ok := GetIntervalStepper(interval)
	if !ok {
		return core.Date{}, core.NewValidationError("recurring_interval", "unrecognized interval "+string(interval))
	}
	return stepper.Next(last), nil
}

// IsDue reports whether a recurring transaction falls due inside the salary
// month containing now. A template that was never confirmed is always due.
func IsDue(tx core.Transaction, salaryDay int, now time.Time) (bool, error) {
	window, err := core.ComputeSalaryMonth(salaryDay, now)
	if err != nil {
		return false, err
	}
	return isDueInWindow(tx, window), nil
}

func isDueInWindow(tx core.Transaction, window core.SalaryMonth) bool {
	if !tx.IsTemplate() {
		return false
	}
	if tx.LastConfirmedDate == nil {
		return true
	}
	return window.Contains(NextDueDate(*tx.LastConfirmedDate, tx.RecurringInterval))
}
