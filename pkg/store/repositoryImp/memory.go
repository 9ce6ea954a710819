package repositoryImp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"farmdash/entities"
	"farmdash/pkg/store/repository"
)

// MemoryStore keeps every collection in process memory. Transactions read
// without holding the write lock and validate document versions on commit,
// so concurrent writers really do conflict and retry.
type MemoryStore struct {
	opts  options
	clock *clock
	hub   *hub

	mu       sync.RWMutex
	fields   map[string]entities.Field
	expenses []entities.Expense
	readings []entities.SensorReading
}

func NewMemory(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	s := &MemoryStore{
		opts:   o,
		clock:  newClock(o.now),
		fields: map[string]entities.Field{},
	}
	s.hub = newHub(s.Run, o.log)
	return s
}

func (s *MemoryStore) Now() time.Time { return s.clock.Now() }

func (s *MemoryStore) GetField(ctx context.Context, uid, fieldID string) (*entities.Field, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	f, ok := s.fields[fieldID]
	s.mu.RUnlock()
	if !ok || (uid != "" && f.UserID != uid) {
		return nil, eris.Wrapf(repository.ErrNotFound, "memory: field %s", fieldID)
	}
	return &f, nil
}

func (s *MemoryStore) CreateField(ctx context.Context, f *entities.Field) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.FieldID == "" {
		f.FieldID = uuid.NewString()
	}
	now := s.clock.Now()
	f.CreatedAt, f.UpdatedAt = now, now
	f.Version = 0
	if f.TotalExpense.IsZero() {
		f.TotalExpense = decimal.Zero
	}

	s.mu.Lock()
	if _, dup := s.fields[f.FieldID]; dup {
		s.mu.Unlock()
		return eris.Errorf("memory: field %s already exists", f.FieldID)
	}
	s.fields[f.FieldID] = *f
	s.mu.Unlock()

	s.hub.notify(repository.CollectionFields)
	return nil
}

func (s *MemoryStore) InsertReading(ctx context.Context, r *entities.SensorReading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ReadingID == "" {
		r.ReadingID = uuid.NewString()
	}
	r.Timestamp = r.Timestamp.UTC()
	r.CreatedAt = s.clock.Now()

	s.mu.Lock()
	s.readings = append(s.readings, *r)
	s.mu.Unlock()

	s.hub.notify(repository.CollectionReadings)
	return nil
}

func (s *MemoryStore) Run(ctx context.Context, q repository.Query) (repository.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return repository.Snapshot{}, err
	}
	col, err := orderColumn(q)
	if err != nil {
		return repository.Snapshot{}, err
	}
	snap := repository.Snapshot{Query: q}

	s.mu.RLock()
	switch q.Collection {
	case repository.CollectionFields:
		snap.Fields = queryFields(s.fields, q)
	case repository.CollectionExpenses:
		snap.Expenses = queryExpenses(s.expenses, q, col)
	case repository.CollectionReadings:
		snap.Readings = queryReadings(s.readings, q, col)
	}
	s.mu.RUnlock()

	snap.ReadAt = s.clock.Now()
	return snap, nil
}

func (s *MemoryStore) Watch(q repository.Query, onNext func(repository.Snapshot), onErr func(error)) (repository.Listener, error) {
	if _, err := orderColumn(q); err != nil {
		return nil, err
	}
	return s.hub.watch(q, onNext, onErr)
}

// FailWatchers terminates every live query on c with err, the way a dropped
// push channel would.
func (s *MemoryStore) FailWatchers(c repository.Collection, err error) {
	s.hub.fail(c, err)
}

// ActiveWatchers reports the number of live queries still registered.
func (s *MemoryStore) ActiveWatchers() int { return s.hub.count() }

type memoryTx struct {
	ctx context.Context // the attempt's context
	s   *MemoryStore
	buf *txBuffer
}

func (t *memoryTx) GetField(uid, fieldID string) (*entities.Field, error) {
	f, err := t.s.GetField(t.ctx, uid, fieldID)
	if err != nil {
		return nil, err
	}
	t.buf.recordRead(f)
	return f, nil
}

func (t *memoryTx) SetFieldTotal(f *entities.Field, total decimal.Decimal) error {
	return t.buf.setTotal(f, total)
}

func (t *memoryTx) InsertExpense(e *entities.Expense) error {
	return t.buf.insertExpense(e)
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn repository.TxFunc) error {
	var touched []repository.Collection
	err := retryConflicts(ctx, s.opts.maxAttempts, s.opts.log, func(ctx context.Context, n int) error {
		tx := &memoryTx{ctx: ctx, s: s, buf: newTxBuffer()}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if err := s.opts.runBeforeCommit(ctx, n); err != nil {
			return err
		}
		var err error
		touched, err = s.commit(tx.buf)
		return err
	})
	if err != nil {
		return err
	}
	s.hub.notify(touched...)
	return nil
}

func (s *MemoryStore) commit(buf *txBuffer) ([]repository.Collection, error) {
	if buf.empty() {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, v := range buf.reads {
		cur, ok := s.fields[id]
		if !ok {
			return nil, eris.Wrapf(repository.ErrNotFound, "memory: commit field %s", id)
		}
		if cur.Version != v {
			return nil, eris.Wrapf(repository.ErrConflict, "memory: field %s at version %d, read %d", id, cur.Version, v)
		}
	}

	var touched []repository.Collection
	now := s.clock.Now()
	for id, total := range buf.totals {
		f := s.fields[id]
		f.TotalExpense = total
		f.Version++
		f.UpdatedAt = now
		s.fields[id] = f
	}
	if len(buf.totals) > 0 {
		touched = append(touched, repository.CollectionFields)
	}
	for _, e := range buf.inserts {
		e.CreatedAt = s.clock.Now()
		e.Date = e.Date.UTC()
		s.expenses = append(s.expenses, *e)
	}
	if len(buf.inserts) > 0 {
		touched = append(touched, repository.CollectionExpenses)
	}
	return touched, nil
}

func (s *MemoryStore) Close() error {
	s.hub.close()
	return nil
}
