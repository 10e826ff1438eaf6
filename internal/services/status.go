package services

import (
	"time"

	"ledger/internal/core"
)

// ClassifyStatus derives the badge and bucketing state of tx for the salary
// month containing now.
func ClassifyStatus(tx core.Transaction, salaryDay int, now time.Time) (core.DueStatus, error) {
	window, err := core.ComputeSalaryMonth(salaryDay, now)
	if err != nil {
		return "", err
	}
	return classifyInWindow(tx, window), nil
}

func classifyInWindow(tx core.Transaction, window core.SalaryMonth) core.DueStatus {
	switch {
	case tx.IsConfirmed:
		return core.StatusConfirmed
	case isDueInWindow(tx, window):
		return core.StatusPending
	default:
		return core.StatusUnconfirmed
	}
}
