package repositoryImp

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"farmdash/database"
	"farmdash/entities"
	"farmdash/pkg/store/repository"
)

func newTestSQLiteStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	db, err := database.OpenSQLiteQuiet(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	st := newSQLite(db, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func TestSQLite_CreateAndGetField(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	f := seedField(t, st, "u1")
	require.NotEmpty(t, f.FieldID)

	got, err := st.GetField(ctx, "u1", f.FieldID)
	require.NoError(t, err)
	assert.Equal(t, "wheat", got.CropType)
	assert.True(t, got.TotalExpense.IsZero())

	_, err = st.GetField(ctx, "someone-else", f.FieldID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSQLite_TransactionRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	f := seedField(t, st, "u1")

	require.NoError(t, st.RunTransaction(ctx, appendTx("u1", f.FieldID, decimal.RequireFromString("42.50"))))
	require.NoError(t, st.RunTransaction(ctx, appendTx("u1", f.FieldID, decimal.RequireFromString("0.10"))))

	got, err := st.GetField(ctx, "u1", f.FieldID)
	require.NoError(t, err)
	assert.Equal(t, "42.6", got.TotalExpense.String())
	assert.EqualValues(t, 2, got.Version)

	snap, err := st.Run(ctx, repository.Query{
		Collection: repository.CollectionExpenses, UserID: "u1", FieldID: f.FieldID, OrderBy: "created_at", Descending: true,
	})
	require.NoError(t, err)
	require.Len(t, snap.Expenses, 2)
	assert.Equal(t, "0.1", snap.Expenses[0].Amount.String())
	assert.True(t, snap.Expenses[0].CreatedAt.After(snap.Expenses[1].CreatedAt))
}

func TestSQLite_AbortRollsBack(t *testing.T) {
	errAbort := errors.New("simulated abort")
	st := newTestSQLiteStore(t, WithBeforeCommit(func(context.Context, int) error { return errAbort }))
	ctx := context.Background()
	f := seedField(t, st, "u1")

	err := st.RunTransaction(ctx, appendTx("u1", f.FieldID, decimal.NewFromInt(9)))
	assert.ErrorIs(t, err, errAbort)

	got, err := st.GetField(ctx, "u1", f.FieldID)
	require.NoError(t, err)
	assert.True(t, got.TotalExpense.IsZero())
	assert.EqualValues(t, 0, got.Version)

	snap, err := st.Run(ctx, repository.Query{Collection: repository.CollectionExpenses, FieldID: f.FieldID})
	require.NoError(t, err)
	assert.Empty(t, snap.Expenses)
}

func TestSQLite_MissingFieldAbortsTransaction(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.RunTransaction(context.Background(), appendTx("u1", "nope", decimal.NewFromInt(1)))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSQLite_ConcurrentAppends(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	f := seedField(t, st, "u1")

	const n = 20
	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= n; i++ {
		amount := decimal.NewFromInt(int64(i))
		g.Go(func() error {
			return st.RunTransaction(gctx, appendTx("u1", f.FieldID, amount))
		})
	}
	require.NoError(t, g.Wait())

	got, err := st.GetField(ctx, "u1", f.FieldID)
	require.NoError(t, err)
	assert.True(t, got.TotalExpense.Equal(decimal.NewFromInt(n*(n+1)/2)), "total %s", got.TotalExpense)

	snap, err := st.Run(ctx, repository.Query{Collection: repository.CollectionExpenses, FieldID: f.FieldID})
	require.NoError(t, err)
	assert.Len(t, snap.Expenses, n)
}

func TestSQLite_ReadingsWindowQuery(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		require.NoError(t, st.InsertReading(ctx, &entities.SensorReading{
			FieldID: "f1", SensorID: "probe-1", Value: float64(40 + i), Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	snap, err := st.Run(ctx, repository.Query{
		Collection: repository.CollectionReadings, FieldID: "f1", OrderBy: "timestamp", Descending: true, Limit: 4,
	})
	require.NoError(t, err)
	require.Len(t, snap.Readings, 4)
	assert.Equal(t, 49.0, snap.Readings[0].Value)
	assert.Equal(t, 46.0, snap.Readings[3].Value)

	bySensor, err := st.Run(ctx, repository.Query{Collection: repository.CollectionReadings, SensorID: "probe-1", Limit: 1, Descending: true})
	require.NoError(t, err)
	require.Len(t, bySensor.Readings, 1)
	assert.Equal(t, 49.0, bySensor.Readings[0].Value)
}

func TestSQLite_WatchSeesCommits(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	f := seedField(t, st, "u1")

	c := newCollector()
	l, err := st.Watch(repository.Query{Collection: repository.CollectionFields, UserID: "u1", FieldID: f.FieldID}, c.next, c.fail)
	require.NoError(t, err)
	defer l.Stop()
	c.wait(t)

	require.NoError(t, st.RunTransaction(ctx, appendTx("u1", f.FieldID, decimal.NewFromInt(15))))
	c.wait(t)

	last := c.last()
	require.Len(t, last.Fields, 1)
	assert.Equal(t, "15", last.Fields[0].TotalExpense.String())

	l.Stop()
	assert.Equal(t, 0, st.ActiveWatchers())
}
