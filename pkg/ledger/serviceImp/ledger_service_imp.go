package serviceImp

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"farmdash/entities"
	"farmdash/pkg/apperror"
	"farmdash/pkg/ledger/service"
	"farmdash/pkg/logger"
	"farmdash/pkg/store/repository"
)

type ledgerSvc struct {
	store repository.Store
	v     *validator.Validate
	log   *zap.Logger
}

func NewLedgerService(store repository.Store, log *zap.Logger) service.LedgerService {
	return &ledgerSvc{store: store, v: apperror.NewValidator(), log: logger.OrNop(log)}
}

func (s *ledgerSvc) AppendExpense(ctx context.Context, uid, fieldID string, in service.ExpenseInput) (*entities.Expense, error) {
	if fieldID == "" {
		return nil, &apperror.ValidationError{Fields: map[string]string{"field_id": "is required"}}
	}
	if err := apperror.Validate(s.v, in); err != nil {
		return nil, err
	}

	amount := decimal.NewFromFloat(in.Amount)
	date := in.Date
	if date.IsZero() {
		date = s.store.Now()
	}

	var (
		out      *entities.Expense
		attempts int
	)
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		attempts++
		f, err := tx.GetField(uid, fieldID)
		if err != nil {
			return err
		}
		// A zero Decimal is 0, so a field that never had a total starts there.
		if err := tx.SetFieldTotal(f, f.TotalExpense.Add(amount)); err != nil {
			return err
		}
		e := &entities.Expense{
			FieldID:     fieldID,
			UserID:      uid,
			Description: in.Description,
			Amount:      amount,
			Category:    in.Category,
			Date:        date.UTC(),
		}
		if err := tx.InsertExpense(e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		s.log.Warn("append expense failed",
			zap.String("field_id", fieldID),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return nil, appendError(fieldID, err)
	}

	s.log.Info("expense appended",
		zap.String("field_id", fieldID),
		zap.String("expense_id", out.ExpenseID),
		zap.String("amount", amount.String()),
		zap.String("category", string(in.Category)),
		zap.Int("attempts", attempts))
	return out, nil
}

// appendError maps a failed transaction onto the error taxonomy. A missing
// field is both an abort and a not-found.
func appendError(fieldID string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, repository.ErrClosed):
		return &apperror.TransportError{Op: "append expense", Err: err}
	case errors.Is(err, repository.ErrNotFound):
		return &apperror.TransactionAbortedError{
			FieldID: fieldID,
			Reason:  "field not found",
			Err:     &apperror.NotFoundError{Kind: "field", ID: fieldID, Err: err},
		}
	case errors.Is(err, repository.ErrTooManyAttempts):
		return &apperror.TransactionAbortedError{FieldID: fieldID, Reason: "too many concurrent updates", Err: err}
	default:
		return &apperror.TransactionAbortedError{FieldID: fieldID, Reason: "aborted", Err: err}
	}
}

func (s *ledgerSvc) ListExpenses(ctx context.Context, uid, fieldID string) (*entities.Field, []entities.Expense, error) {
	f, err := s.store.GetField(ctx, uid, fieldID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, &apperror.NotFoundError{Kind: "field", ID: fieldID, Err: err}
		}
		return nil, nil, &apperror.TransportError{Op: "get field", Err: err}
	}
	snap, err := s.store.Run(ctx, repository.Query{
		Collection: repository.CollectionExpenses,
		UserID:     uid,
		FieldID:    fieldID,
		OrderBy:    "date",
		Descending: true,
	})
	if err != nil {
		return nil, nil, &apperror.TransportError{Op: "list expenses", Err: err}
	}
	// The field and the rows are two reads; an append may commit between
	// them. The total returned always matches the rows returned.
	total := decimal.Zero
	for _, e := range snap.Expenses {
		total = total.Add(e.Amount)
	}
	if !total.Equal(f.TotalExpense) {
		s.log.Debug("total moved between reads",
			zap.String("field_id", fieldID),
			zap.String("stored", f.TotalExpense.String()),
			zap.String("listed", total.String()))
	}
	out := *f
	out.TotalExpense = total
	return &out, snap.Expenses, nil
}
