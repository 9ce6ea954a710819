package service

import (
	"context"
	"time"

	"farmdash/entities"
)

// ExpenseInput is a new ledger entry as submitted by the user.
type ExpenseInput struct {
	Description string                   `json:"description" validate:"max=500"`
	Amount      float64                  `json:"amount" validate:"required,finite,gt=0"`
	Category    entities.ExpenseCategory `json:"category" validate:"required,expense_category"`
	Date        time.Time                `json:"date"` // zero means "now"
}

type LedgerService interface {
	// AppendExpense inserts the expense and adds its amount to the field's
	// total in one transaction. Either both writes commit or neither does.
	AppendExpense(ctx context.Context, uid, fieldID string, in ExpenseInput) (*entities.Expense, error)
	// ListExpenses returns the field's expenses, newest date first.
	ListExpenses(ctx context.Context, uid, fieldID string) (*entities.Field, []entities.Expense, error)
}
