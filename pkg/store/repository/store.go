// Package repository declares the storage collaborator the synchronization
// core is written against: point reads, one-shot and live queries returning
// full result sets, an optimistic read-modify-write transaction and a server
// timestamp source.
package repository

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"farmdash/entities"
)

var (
	// ErrNotFound is returned when a document read finds nothing.
	ErrNotFound = eris.New("document not found")
	// ErrConflict marks a commit whose read set changed underneath it.
	ErrConflict = eris.New("transaction conflict")
	// ErrTooManyAttempts is returned once the transaction retry budget is spent.
	ErrTooManyAttempts = eris.New("transaction retry budget exhausted")
	// ErrClosed is returned by stores that have been shut down.
	ErrClosed = eris.New("store closed")
)

type Collection string

const (
	CollectionFields   Collection = "fields"
	CollectionExpenses Collection = "expenses"
	CollectionReadings Collection = "readings"
)

// Query describes a live or one-shot query. Empty filters match everything;
// Limit <= 0 means unlimited.
type Query struct {
	Collection Collection
	UserID     string
	FieldID    string
	SensorID   string
	OrderBy    string // date|timestamp|created_at
	Descending bool
	Limit      int
}

// Snapshot is the complete result set of a query at one point in time. Only
// the slice matching Query.Collection is populated.
type Snapshot struct {
	Query    Query
	Fields   []entities.Field
	Expenses []entities.Expense
	Readings []entities.SensorReading
	ReadAt   time.Time
}

func (s Snapshot) Len() int {
	switch s.Query.Collection {
	case CollectionFields:
		return len(s.Fields)
	case CollectionExpenses:
		return len(s.Expenses)
	case CollectionReadings:
		return len(s.Readings)
	}
	return 0
}

func (s Snapshot) Empty() bool { return s.Len() == 0 }

// Listener is a running live query.
type Listener interface {
	// Stop releases the live query. It is safe to call more than once and
	// from inside a delivery callback.
	Stop()
}

// Tx is the view a transaction function gets of the store. Reads go to the
// store, writes are buffered and applied atomically on commit.
type Tx interface {
	GetField(uid, fieldID string) (*entities.Field, error)
	SetFieldTotal(f *entities.Field, total decimal.Decimal) error
	InsertExpense(e *entities.Expense) error
}

// TxFunc may be invoked several times when commits conflict; it must not
// have side effects outside tx.
type TxFunc func(ctx context.Context, tx Tx) error

type Store interface {
	GetField(ctx context.Context, uid, fieldID string) (*entities.Field, error)
	CreateField(ctx context.Context, f *entities.Field) error
	InsertReading(ctx context.Context, r *entities.SensorReading) error

	Run(ctx context.Context, q Query) (Snapshot, error)
	// Watch delivers the full result set of q once immediately and again
	// after every commit touching q.Collection. Deliveries for one listener
	// are sequential and in emission order. A query failure is reported
	// once through onErr and ends the listener.
	Watch(q Query, onNext func(Snapshot), onErr func(error)) (Listener, error)

	RunTransaction(ctx context.Context, fn TxFunc) error

	// Now returns a server timestamp, strictly increasing per store.
	Now() time.Time

	Close() error
}
