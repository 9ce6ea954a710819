package serviceImp

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"farmdash/entities"
	"farmdash/pkg/apperror"
	"farmdash/pkg/ledger/service"
	"farmdash/pkg/store/repository"
	"farmdash/pkg/store/repositoryImp"
)

// countingStore fails the test if the ledger touches storage.
type countingStore struct {
	repository.Store
	calls atomic.Int32
}

func (s *countingStore) RunTransaction(ctx context.Context, fn repository.TxFunc) error {
	s.calls.Add(1)
	return s.Store.RunTransaction(ctx, fn)
}

func (s *countingStore) GetField(ctx context.Context, uid, id string) (*entities.Field, error) {
	s.calls.Add(1)
	return s.Store.GetField(ctx, uid, id)
}

// racingStore commits an append right after the field read of a listing.
type racingStore struct {
	repository.Store
	between func()
	once    sync.Once
}

func (s *racingStore) Run(ctx context.Context, q repository.Query) (repository.Snapshot, error) {
	if q.Collection == repository.CollectionExpenses {
		s.once.Do(s.between)
	}
	return s.Store.Run(ctx, q)
}

func seed(t *testing.T, st repository.Store) string {
	t.Helper()
	f := &entities.Field{UserID: "u1", FieldName: "Plot 7", CropType: "pomegranate", Acreage: 1.2}
	require.NoError(t, st.CreateField(context.Background(), f))
	return f.FieldID
}

func expenseCount(t *testing.T, st repository.Store, fid string) int {
	t.Helper()
	snap, err := st.Run(context.Background(), repository.Query{Collection: repository.CollectionExpenses, FieldID: fid})
	require.NoError(t, err)
	return len(snap.Expenses)
}

func TestAppendExpense_RoundTrip(t *testing.T) {
	st := repositoryImp.NewMemory()
	fid := seed(t, st)
	svc := NewLedgerService(st, zaptest.NewLogger(t))
	ctx := context.Background()

	e, err := svc.AppendExpense(ctx, "u1", fid, service.ExpenseInput{Amount: 42.50, Category: entities.CategoryFertilizer, Description: "urea"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ExpenseID)
	assert.False(t, e.CreatedAt.IsZero())

	f, expenses, err := svc.ListExpenses(ctx, "u1", fid)
	require.NoError(t, err)
	assert.True(t, f.TotalExpense.Equal(decimal.RequireFromString("42.50")), "total %s", f.TotalExpense)
	require.Len(t, expenses, 1)
	assert.Equal(t, entities.CategoryFertilizer, expenses[0].Category)
	assert.True(t, expenses[0].Amount.Equal(decimal.RequireFromString("42.5")))
}

func TestAppendExpense_ValidationNeverTouchesStorage(t *testing.T) {
	st := &countingStore{Store: repositoryImp.NewMemory()}
	fid := seed(t, st)
	svc := NewLedgerService(st, nil)

	bad := []service.ExpenseInput{
		{Amount: 0, Category: entities.CategorySeeds},
		{Amount: -5, Category: entities.CategorySeeds},
		{Amount: math.Inf(1), Category: entities.CategorySeeds},
		{Amount: math.NaN(), Category: entities.CategorySeeds},
		{Amount: 5},
		{Amount: 5, Category: "Fuel"},
	}
	for _, in := range bad {
		_, err := svc.AppendExpense(context.Background(), "u1", fid, in)
		assert.True(t, apperror.IsValidation(err), "input %+v: %v", in, err)
	}
	_, err := svc.AppendExpense(context.Background(), "u1", "", service.ExpenseInput{Amount: 1, Category: entities.CategoryOther})
	assert.True(t, apperror.IsValidation(err))

	assert.EqualValues(t, 0, st.calls.Load())
}

func TestAppendExpense_ConcurrentWritersKeepTotalExact(t *testing.T) {
	st := repositoryImp.NewMemory(repositoryImp.WithMaxAttempts(1000))
	fid := seed(t, st)
	svc := NewLedgerService(st, nil)

	const n = 50
	want := decimal.Zero
	g, ctx := errgroup.WithContext(context.Background())
	for i := 1; i <= n; i++ {
		amount := float64(i) + 0.25
		want = want.Add(decimal.NewFromFloat(amount))
		g.Go(func() error {
			_, err := svc.AppendExpense(ctx, "u1", fid, service.ExpenseInput{Amount: amount, Category: entities.CategoryLabor})
			return err
		})
	}
	require.NoError(t, g.Wait())

	f, expenses, err := svc.ListExpenses(context.Background(), "u1", fid)
	require.NoError(t, err)
	assert.Len(t, expenses, n)
	assert.True(t, f.TotalExpense.Equal(want), "total %s want %s", f.TotalExpense, want)
}

func TestAppendExpense_InducedRetries(t *testing.T) {
	var hits atomic.Int32
	st := repositoryImp.NewMemory(repositoryImp.WithBeforeCommit(func(_ context.Context, attempt int) error {
		hits.Add(1)
		if attempt < 3 {
			return repository.ErrConflict
		}
		return nil
	}))
	fid := seed(t, st)
	svc := NewLedgerService(st, nil)

	_, err := svc.AppendExpense(context.Background(), "u1", fid, service.ExpenseInput{Amount: 10, Category: entities.CategorySeeds})
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, 1, expenseCount(t, st, fid))
}

func TestAppendExpense_AbortLeavesStateUntouched(t *testing.T) {
	st := repositoryImp.NewMemory(repositoryImp.WithBeforeCommit(func(context.Context, int) error {
		return errors.New("simulated abort")
	}))
	fid := seed(t, st)
	svc := NewLedgerService(st, nil)

	_, err := svc.AppendExpense(context.Background(), "u1", fid, service.ExpenseInput{Amount: 99, Category: entities.CategoryMachinery})
	require.Error(t, err)
	assert.True(t, apperror.IsAborted(err))

	f, err := st.GetField(context.Background(), "u1", fid)
	require.NoError(t, err)
	assert.True(t, f.TotalExpense.IsZero())
	assert.Equal(t, 0, expenseCount(t, st, fid))
}

func TestAppendExpense_RetryBudgetExhausted(t *testing.T) {
	st := repositoryImp.NewMemory(
		repositoryImp.WithMaxAttempts(2),
		repositoryImp.WithBeforeCommit(func(context.Context, int) error { return repository.ErrConflict }),
	)
	fid := seed(t, st)
	svc := NewLedgerService(st, nil)

	_, err := svc.AppendExpense(context.Background(), "u1", fid, service.ExpenseInput{Amount: 1, Category: entities.CategorySeeds})
	var ta *apperror.TransactionAbortedError
	require.ErrorAs(t, err, &ta)
	assert.Equal(t, fid, ta.FieldID)
	assert.ErrorIs(t, err, repository.ErrTooManyAttempts)
}

func TestAppendExpense_MissingFieldAborts(t *testing.T) {
	st := repositoryImp.NewMemory()
	fid := seed(t, st)
	svc := NewLedgerService(st, nil)

	_, err := svc.AppendExpense(context.Background(), "someone-else", fid, service.ExpenseInput{Amount: 1, Category: entities.CategorySeeds})
	assert.True(t, apperror.IsAborted(err))
	assert.True(t, apperror.IsNotFound(err))
}

func TestAppendExpense_CanceledContextIsTransport(t *testing.T) {
	st := repositoryImp.NewMemory()
	fid := seed(t, st)
	svc := NewLedgerService(st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.AppendExpense(ctx, "u1", fid, service.ExpenseInput{Amount: 1, Category: entities.CategorySeeds})
	assert.True(t, apperror.IsTransport(err))
}

func TestAppendExpense_DefaultsDateToServerTime(t *testing.T) {
	st := repositoryImp.NewMemory()
	fid := seed(t, st)
	svc := NewLedgerService(st, nil)

	before := time.Now().Add(-time.Second)
	e, err := svc.AppendExpense(context.Background(), "u1", fid, service.ExpenseInput{Amount: 3, Category: entities.CategoryIrrigation})
	require.NoError(t, err)
	assert.True(t, e.Date.After(before))
	assert.Equal(t, time.UTC, e.Date.Location())
}

func TestListExpenses_NewestDateFirst(t *testing.T) {
	st := repositoryImp.NewMemory()
	fid := seed(t, st)
	svc := NewLedgerService(st, nil)
	ctx := context.Background()

	for i, d := range []string{"2025-03-01", "2025-05-01", "2025-04-01"} {
		date, err := time.Parse("2006-01-02", d)
		require.NoError(t, err)
		_, err = svc.AppendExpense(ctx, "u1", fid, service.ExpenseInput{Amount: float64(i + 1), Category: entities.CategorySeeds, Date: date})
		require.NoError(t, err)
	}

	_, expenses, err := svc.ListExpenses(ctx, "u1", fid)
	require.NoError(t, err)
	require.Len(t, expenses, 3)
	assert.Equal(t, "2025-05-01", expenses[0].Date.Format("2006-01-02"))
	assert.Equal(t, "2025-03-01", expenses[2].Date.Format("2006-01-02"))

	_, _, err = svc.ListExpenses(ctx, "u2", fid)
	assert.True(t, apperror.IsNotFound(err))
}

func TestListExpenses_TotalMatchesListedRows(t *testing.T) {
	mem := repositoryImp.NewMemory()
	fid := seed(t, mem)
	ctx := context.Background()
	writer := NewLedgerService(mem, nil)
	_, err := writer.AppendExpense(ctx, "u1", fid, service.ExpenseInput{Amount: 10, Category: entities.CategorySeeds})
	require.NoError(t, err)

	st := &racingStore{Store: mem, between: func() {
		_, err := writer.AppendExpense(ctx, "u1", fid, service.ExpenseInput{Amount: 5, Category: entities.CategoryLabor})
		require.NoError(t, err)
	}}
	f, expenses, err := NewLedgerService(st, zaptest.NewLogger(t)).ListExpenses(ctx, "u1", fid)
	require.NoError(t, err)
	require.Len(t, expenses, 2)
	assert.True(t, f.TotalExpense.Equal(decimal.NewFromInt(15)), "total %s", f.TotalExpense)

	stored, err := mem.GetField(ctx, "u1", fid)
	require.NoError(t, err)
	assert.True(t, stored.TotalExpense.Equal(f.TotalExpense))
}
