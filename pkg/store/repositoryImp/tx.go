package repositoryImp

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"farmdash/entities"
	"farmdash/pkg/store/repository"
)

const (
	baseBackoff = 2 * time.Millisecond
	maxBackoff  = 50 * time.Millisecond
)

// retryConflicts re-runs attempt while it fails with ErrConflict, up to
// maxAttempts times, with jittered backoff between attempts.
func retryConflicts(ctx context.Context, maxAttempts int, log *zap.Logger, attempt func(ctx context.Context, n int) error) error {
	for n := 1; n <= maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := attempt(ctx, n)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
		log.Debug("transaction conflict", zap.Int("attempt", n))
		if n == maxAttempts {
			break
		}
		d := baseBackoff << (n - 1)
		if d > maxBackoff {
			d = maxBackoff
		}
		d = d/2 + time.Duration(rand.Int63n(int64(d)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	return eris.Wrapf(repository.ErrTooManyAttempts, "gave up after %d attempts", maxAttempts)
}

// txBuffer records the read set and buffers the writes of one attempt.
type txBuffer struct {
	reads   map[string]int64
	totals  map[string]decimal.Decimal
	inserts []*entities.Expense
}

func newTxBuffer() *txBuffer {
	return &txBuffer{reads: map[string]int64{}, totals: map[string]decimal.Decimal{}}
}

func (b *txBuffer) recordRead(f *entities.Field) {
	if _, ok := b.reads[f.FieldID]; !ok {
		b.reads[f.FieldID] = f.Version
	}
}

func (b *txBuffer) setTotal(f *entities.Field, total decimal.Decimal) error {
	if f == nil {
		return eris.New("set total: nil field")
	}
	if _, ok := b.reads[f.FieldID]; !ok {
		return eris.Errorf("set total: field %q was not read in this transaction", f.FieldID)
	}
	if total.IsNegative() {
		return eris.Errorf("set total: negative total %s", total)
	}
	b.totals[f.FieldID] = total
	return nil
}

func (b *txBuffer) insertExpense(e *entities.Expense) error {
	if e == nil || e.FieldID == "" {
		return eris.New("insert expense: missing field id")
	}
	if _, ok := b.reads[e.FieldID]; !ok {
		return eris.Errorf("insert expense: parent field %q was not read in this transaction", e.FieldID)
	}
	if e.ExpenseID == "" {
		e.ExpenseID = uuid.NewString()
	}
	b.inserts = append(b.inserts, e)
	return nil
}

func (b *txBuffer) empty() bool { return len(b.totals) == 0 && len(b.inserts) == 0 }
