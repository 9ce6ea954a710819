package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"farmdash/entities"
	"farmdash/pkg/apperror"
	"farmdash/pkg/store/repository"
	"farmdash/pkg/store/repositoryImp"
)

type recorder struct {
	mu      sync.Mutex
	updates []Update
	errs    []error
	ch      chan struct{}
}

func newRecorder() *recorder { return &recorder{ch: make(chan struct{}, 64)} }

func (r *recorder) update(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) fail(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates), len(r.errs)
}

func (r *recorder) last() Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

func newField(t *testing.T, st repository.Store, uid string) string {
	t.Helper()
	f := &entities.Field{UserID: uid, FieldName: "East", CropType: "rice", Acreage: 1}
	require.NoError(t, st.CreateField(context.Background(), f))
	return f.FieldID
}

func TestSubscribe_BecomesActiveOnFirstDelivery(t *testing.T) {
	st := repositoryImp.NewMemory()
	m := New(st, "u1", Options{}, zaptest.NewLogger(t))
	fid := newField(t, st, "u1")

	r := newRecorder()
	h, err := m.Subscribe(fid, StreamExpenses, r.update, r.fail)
	require.NoError(t, err)
	r.wait(t)

	assert.Equal(t, Active, h.State())
	u := r.last()
	assert.Equal(t, fid, u.FieldID())
	assert.Equal(t, h.ID(), u.HandleID)
	assert.True(t, u.Snapshot.Empty())
}

func TestSubscribe_SameKeyReplacesPrevious(t *testing.T) {
	st := repositoryImp.NewMemory()
	m := New(st, "u1", Options{}, nil)
	fid := newField(t, st, "u1")

	first := newRecorder()
	h1, err := m.Subscribe(fid, StreamLatestReading, first.update, first.fail)
	require.NoError(t, err)
	first.wait(t)

	second := newRecorder()
	h2, err := m.Subscribe(fid, StreamLatestReading, second.update, second.fail)
	require.NoError(t, err)
	second.wait(t)

	assert.Equal(t, TerminatedByCaller, h1.State())
	assert.Equal(t, 1, m.Len())
	active, ok := m.Active(Key{FieldID: fid, Kind: StreamLatestReading})
	require.True(t, ok)
	assert.Same(t, h2, active)

	require.NoError(t, st.InsertReading(context.Background(), &entities.SensorReading{FieldID: fid, Value: 55, Timestamp: time.Now()}))
	second.wait(t)

	n, _ := first.counts()
	assert.Equal(t, 1, n, "replaced handle must not deliver again")
	assert.Equal(t, 1, st.ActiveWatchers())
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	st := repositoryImp.NewMemory()
	m := New(st, "u1", Options{}, nil)
	fid := newField(t, st, "u1")

	r := newRecorder()
	h, err := m.Subscribe(fid, StreamField, r.update, r.fail)
	require.NoError(t, err)
	r.wait(t)

	m.Unsubscribe(h)
	m.Unsubscribe(h)
	m.Unsubscribe(nil)

	assert.Equal(t, TerminatedByCaller, h.State())
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, st.ActiveWatchers())
}

func TestSubscribe_ErrorTerminatesOnce(t *testing.T) {
	st := repositoryImp.NewMemory()
	core, logs := observer.New(zap.WarnLevel)
	m := New(st, "u1", Options{}, zap.New(core))

	r := newRecorder()
	h, err := m.Subscribe("f1", StreamTelemetryWindow, r.update, r.fail)
	require.NoError(t, err)
	r.wait(t)

	st.FailWatchers(repository.CollectionReadings, errors.New("permission denied"))
	r.wait(t)

	require.NoError(t, st.InsertReading(context.Background(), &entities.SensorReading{FieldID: "f1", Timestamp: time.Now()}))
	time.Sleep(50 * time.Millisecond)

	updates, errs := r.counts()
	assert.Equal(t, 1, updates)
	assert.Equal(t, 1, errs)
	assert.Equal(t, TerminatedByError, h.State())
	assert.Equal(t, 0, m.Len())
	failed := logs.FilterMessage("subscription failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "f1/telemetryWindow", failed[0].ContextMap()["key"])

	// Unsubscribing after an error keeps the error state.
	m.Unsubscribe(h)
	assert.Equal(t, TerminatedByError, h.State())
}

func TestSubscribe_RejectsBadInput(t *testing.T) {
	m := New(repositoryImp.NewMemory(), "u1", Options{}, nil)

	_, err := m.Subscribe("", StreamExpenses, nil, nil)
	assert.True(t, apperror.IsValidation(err))

	_, err = m.Subscribe("f1", StreamKind("weather"), nil, nil)
	assert.True(t, apperror.IsValidation(err))
}

func TestClose_TerminatesEverything(t *testing.T) {
	st := repositoryImp.NewMemory()
	m := New(st, "u1", Options{}, nil)
	fid := newField(t, st, "u1")

	var handles []*Handle
	for _, k := range []StreamKind{StreamExpenses, StreamLatestReading, StreamTelemetryWindow, StreamField} {
		h, err := m.Subscribe(fid, k, nil, nil)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	assert.Equal(t, 4, m.Len())

	m.Close()
	for _, h := range handles {
		assert.True(t, h.State().Terminated())
	}
	assert.Equal(t, 0, m.Len())
	assert.Eventually(t, func() bool { return st.ActiveWatchers() == 0 }, time.Second, 10*time.Millisecond)

	_, err := m.Subscribe(fid, StreamExpenses, nil, nil)
	assert.True(t, apperror.IsTransport(err))
}

func TestUnsubscribeField_LeavesOtherFields(t *testing.T) {
	st := repositoryImp.NewMemory()
	m := New(st, "u1", Options{}, nil)
	a, b := newField(t, st, "u1"), newField(t, st, "u1")

	for _, fid := range []string{a, b} {
		_, err := m.Subscribe(fid, StreamExpenses, nil, nil)
		require.NoError(t, err)
		_, err = m.Subscribe(fid, StreamField, nil, nil)
		require.NoError(t, err)
	}
	m.UnsubscribeField(a)

	assert.Equal(t, 2, m.Len())
	_, ok := m.Active(Key{FieldID: b, Kind: StreamExpenses})
	assert.True(t, ok)
}

func TestQuery_PerKind(t *testing.T) {
	m := New(repositoryImp.NewMemory(), "u1", Options{WindowSize: 30}, nil)

	q, err := m.Query(Key{FieldID: "f1", Kind: StreamExpenses})
	require.NoError(t, err)
	assert.Equal(t, repository.Query{Collection: repository.CollectionExpenses, UserID: "u1", FieldID: "f1", OrderBy: "date", Descending: true}, q)

	q, err = m.Query(Key{FieldID: "f1", Kind: StreamLatestReading})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Limit)
	assert.Equal(t, "f1", q.FieldID)

	q, err = m.Query(Key{FieldID: "f1", Kind: StreamTelemetryWindow})
	require.NoError(t, err)
	assert.Equal(t, 30, q.Limit)
	assert.True(t, q.Descending)

	shared := New(repositoryImp.NewMemory(), "u1", Options{SharedSensorID: "probe-9"}, nil)
	q, err = shared.Query(Key{FieldID: "f1", Kind: StreamTelemetryWindow})
	require.NoError(t, err)
	assert.Empty(t, q.FieldID)
	assert.Equal(t, "probe-9", q.SensorID)
	assert.Equal(t, DefaultWindowSize, q.Limit)
}

func TestSubscribe_FieldStreamTracksTotal(t *testing.T) {
	st := repositoryImp.NewMemory()
	m := New(st, "u1", Options{}, nil)
	fid := newField(t, st, "u1")

	r := newRecorder()
	_, err := m.Subscribe(fid, StreamField, r.update, r.fail)
	require.NoError(t, err)
	r.wait(t)

	err = st.RunTransaction(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		f, err := tx.GetField("u1", fid)
		if err != nil {
			return err
		}
		if err := tx.SetFieldTotal(f, f.TotalExpense.Add(decimal.NewFromInt(80))); err != nil {
			return err
		}
		return tx.InsertExpense(&entities.Expense{FieldID: fid, UserID: "u1", Amount: decimal.NewFromInt(80), Category: entities.CategoryLabor})
	})
	require.NoError(t, err)
	r.wait(t)

	fields := r.last().Snapshot.Fields
	require.Len(t, fields, 1)
	assert.Equal(t, "80", fields[0].TotalExpense.String())
}
