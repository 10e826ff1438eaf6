package core

import "github.com/shopspring/decimal"

// DueStatus is the tri-state shown on badges and used to bucket amounts.
type DueStatus string

const (
	StatusConfirmed   DueStatus = "confirmed"
	StatusPending     DueStatus = "pending"
	StatusUnconfirmed DueStatus = "unconfirmed"
)

// CategorySlice is one entry of the per-category expense breakdown.
type CategorySlice struct {
	Name  string
	Value decimal.Decimal
	Color string
}

// UpcomingPayment is a template together with its next computed due date.
type UpcomingPayment struct {
	Template Transaction
	DueDate  Date
}

// Totals is the folded view of a user's ledger for one salary month.
type Totals struct {
	Window               SalaryMonth
	CurrentIncome        decimal.Decimal
	CurrentExpenses      decimal.Decimal
	TotalIncome          decimal.Decimal
	TotalExpenses        decimal.Decimal
	TotalPendingExpenses decimal.Decimal
	Available            decimal.Decimal
	UpcomingRecurring    []UpcomingPayment
}

// Uncategorized is the bucket for expenses whose merchant has no category.
const (
	UncategorizedName  = "Uncategorized"
	UncategorizedColor = "#9CA3AF"
)

// Summary is everything the dashboard shows for one user and salary month.
type Summary struct {
	Totals
	Distribution []CategorySlice
}
