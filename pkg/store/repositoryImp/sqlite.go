package repositoryImp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"farmdash/entities"
	"farmdash/pkg/store/repository"
)

// SQLiteStore implements repository.Store on gorm. Live queries are served
// by re-running the query after every commit made through this store.
type SQLiteStore struct {
	db    *gorm.DB
	opts  options
	clock *clock
	hub   *hub
}

func NewSQLite(db *gorm.DB, opts ...Option) repository.Store { return newSQLite(db, opts...) }

func newSQLite(db *gorm.DB, opts ...Option) *SQLiteStore {
	o := buildOptions(opts)
	s := &SQLiteStore{db: db, opts: o, clock: newClock(o.now)}
	s.hub = newHub(s.Run, o.log)
	return s
}

func (s *SQLiteStore) Now() time.Time { return s.clock.Now() }

func (s *SQLiteStore) GetField(ctx context.Context, uid, fieldID string) (*entities.Field, error) {
	return getField(s.db.WithContext(ctx), uid, fieldID)
}

func getField(db *gorm.DB, uid, fieldID string) (*entities.Field, error) {
	var f entities.Field
	q := db.Where("field_id = ?", fieldID)
	if uid != "" {
		q = q.Where("user_id = ?", uid)
	}
	if err := q.First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, eris.Wrapf(repository.ErrNotFound, "sqlite: field %s", fieldID)
		}
		return nil, eris.Wrap(err, "sqlite: get field")
	}
	return &f, nil
}

func (s *SQLiteStore) CreateField(ctx context.Context, f *entities.Field) error {
	if f.FieldID == "" {
		f.FieldID = uuid.NewString()
	}
	now := s.clock.Now()
	f.CreatedAt, f.UpdatedAt = now, now
	f.SowingDate = f.SowingDate.UTC()
	f.Version = 0
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return eris.Wrap(err, "sqlite: create field")
	}
	s.hub.notify(repository.CollectionFields)
	return nil
}

func (s *SQLiteStore) InsertReading(ctx context.Context, r *entities.SensorReading) error {
	if r.ReadingID == "" {
		r.ReadingID = uuid.NewString()
	}
	r.Timestamp = r.Timestamp.UTC()
	r.CreatedAt = s.clock.Now()
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return eris.Wrap(err, "sqlite: insert reading")
	}
	s.hub.notify(repository.CollectionReadings)
	return nil
}

func (s *SQLiteStore) Run(ctx context.Context, q repository.Query) (repository.Snapshot, error) {
	col, err := orderColumn(q)
	if err != nil {
		return repository.Snapshot{}, err
	}
	db := s.db.WithContext(ctx)
	snap := repository.Snapshot{Query: q}

	switch q.Collection {
	case repository.CollectionFields:
		err = scope(db.Model(&entities.Field{}), q, col, "field_id").Find(&snap.Fields).Error
	case repository.CollectionExpenses:
		err = scope(db.Model(&entities.Expense{}), q, col, "expense_id").Find(&snap.Expenses).Error
	case repository.CollectionReadings:
		err = scope(db.Model(&entities.SensorReading{}), q, col, "reading_id").Find(&snap.Readings).Error
	}
	if err != nil {
		return repository.Snapshot{}, eris.Wrapf(err, "sqlite: query %s", q.Collection)
	}
	snap.ReadAt = s.clock.Now()
	return snap, nil
}

func scope(db *gorm.DB, q repository.Query, col, idCol string) *gorm.DB {
	if q.UserID != "" && q.Collection != repository.CollectionReadings {
		db = db.Where("user_id = ?", q.UserID)
	}
	if q.FieldID != "" {
		db = db.Where("field_id = ?", q.FieldID)
	}
	if q.SensorID != "" && q.Collection == repository.CollectionReadings {
		db = db.Where("sensor_id = ?", q.SensorID)
	}
	dir := " ASC"
	if q.Descending {
		dir = " DESC"
	}
	db = db.Order(col + dir)
	if col != "created_at" {
		db = db.Order("created_at" + dir)
	}
	db = db.Order(idCol + dir)
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	return db
}

func (s *SQLiteStore) Watch(q repository.Query, onNext func(repository.Snapshot), onErr func(error)) (repository.Listener, error) {
	if _, err := orderColumn(q); err != nil {
		return nil, err
	}
	return s.hub.watch(q, onNext, onErr)
}

type sqliteTx struct {
	db  *gorm.DB
	buf *txBuffer
}

func (t *sqliteTx) GetField(uid, fieldID string) (*entities.Field, error) {
	f, err := getField(t.db, uid, fieldID)
	if err != nil {
		return nil, err
	}
	t.buf.recordRead(f)
	return f, nil
}

func (t *sqliteTx) SetFieldTotal(f *entities.Field, total decimal.Decimal) error {
	return t.buf.setTotal(f, total)
}

func (t *sqliteTx) InsertExpense(e *entities.Expense) error {
	return t.buf.insertExpense(e)
}

func (s *SQLiteStore) RunTransaction(ctx context.Context, fn repository.TxFunc) error {
	var touched []repository.Collection
	err := retryConflicts(ctx, s.opts.maxAttempts, s.opts.log, func(ctx context.Context, n int) error {
		return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
			tx := &sqliteTx{db: gtx, buf: newTxBuffer()}
			if err := fn(ctx, tx); err != nil {
				return err
			}
			if err := s.opts.runBeforeCommit(ctx, n); err != nil {
				return err
			}
			var err error
			touched, err = s.commit(gtx, tx.buf)
			return err
		})
	})
	if err != nil {
		return err
	}
	s.hub.notify(touched...)
	return nil
}

// commit applies buffered writes. Every field in the read set must still be
// at the version it was read at, otherwise the attempt fails with
// ErrConflict and is rolled back.
func (s *SQLiteStore) commit(gtx *gorm.DB, buf *txBuffer) ([]repository.Collection, error) {
	if buf.empty() {
		return nil, nil
	}
	now := s.clock.Now()
	for id, v := range buf.reads {
		total, written := buf.totals[id]
		var res *gorm.DB
		if written {
			res = gtx.Model(&entities.Field{}).
				Where("field_id = ? AND version = ?", id, v).
				Updates(map[string]any{
					"total_expense": total,
					"version":       gorm.Expr("version + 1"),
					"updated_at":    now,
				})
		} else {
			var n int64
			res = gtx.Model(&entities.Field{}).Where("field_id = ? AND version = ?", id, v).Count(&n)
			res.RowsAffected = n
		}
		if res.Error != nil {
			return nil, eris.Wrapf(res.Error, "sqlite: commit field %s", id)
		}
		if res.RowsAffected == 0 {
			return nil, eris.Wrapf(repository.ErrConflict, "sqlite: field %s moved past version %d", id, v)
		}
	}

	var touched []repository.Collection
	if len(buf.totals) > 0 {
		touched = append(touched, repository.CollectionFields)
	}
	for _, e := range buf.inserts {
		e.CreatedAt = s.clock.Now()
		e.Date = e.Date.UTC()
		if err := gtx.Create(e).Error; err != nil {
			return nil, eris.Wrap(err, "sqlite: insert expense")
		}
	}
	if len(buf.inserts) > 0 {
		touched = append(touched, repository.CollectionExpenses)
	}
	return touched, nil
}

// ActiveWatchers reports the number of live queries still registered.
func (s *SQLiteStore) ActiveWatchers() int { return s.hub.count() }

func (s *SQLiteStore) Close() error {
	s.hub.close()
	sqlDB, err := s.db.DB()
	if err != nil {
		return eris.Wrap(err, "sqlite: close")
	}
	return sqlDB.Close()
}
