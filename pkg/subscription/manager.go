// Package subscription owns the live queries of one screen instance. It
// guarantees at most one live subscription per (field, stream kind) and
// gives every subscription an explicit, terminal-once lifecycle.
package subscription

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"farmdash/pkg/apperror"
	"farmdash/pkg/logger"
	"farmdash/pkg/store/repository"
)

type StreamKind string

const (
	StreamExpenses        StreamKind = "expenses"
	StreamLatestReading   StreamKind = "latestReading"
	StreamTelemetryWindow StreamKind = "telemetryWindow"
	StreamField           StreamKind = "field"
)

const DefaultWindowSize = 60

type Key struct {
	FieldID string
	Kind    StreamKind
}

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.FieldID, k.Kind) }

// Update is one delivery. FieldID and HandleID tag it with the subscription
// it was produced for so receivers can drop stale deliveries.
type Update struct {
	Key      Key
	HandleID uint64
	Snapshot repository.Snapshot
}

func (u Update) FieldID() string { return u.Key.FieldID }

type Options struct {
	// WindowSize bounds the telemetry window query.
	WindowSize int
	// SharedSensorID, when set, scopes reading queries to this sensor
	// instead of to the field.
	SharedSensorID string
}

type Manager struct {
	store repository.Store
	uid   string
	opts  Options
	log   *zap.Logger

	mu     sync.Mutex
	active map[Key]*Handle
	nextID uint64
	closed bool
}

func New(store repository.Store, uid string, opts Options, log *zap.Logger) *Manager {
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	return &Manager{
		store:  store,
		uid:    uid,
		opts:   opts,
		log:    logger.OrNop(log).With(zap.String("uid", uid)),
		active: map[Key]*Handle{},
	}
}

func (m *Manager) WindowSize() int { return m.opts.WindowSize }

// Query returns the live query backing key.
func (m *Manager) Query(key Key) (repository.Query, error) { return QueryFor(m.uid, m.opts, key) }

// QueryFor maps a stream key onto the store query serving it. Expense and
// field queries are scoped to uid; reading queries are scoped to the field,
// or to opts.SharedSensorID when set.
func QueryFor(uid string, opts Options, key Key) (repository.Query, error) {
	readings := func(limit int) repository.Query {
		q := repository.Query{
			Collection: repository.CollectionReadings,
			FieldID:    key.FieldID,
			OrderBy:    "timestamp",
			Descending: true,
			Limit:      limit,
		}
		if opts.SharedSensorID != "" {
			q.FieldID = ""
			q.SensorID = opts.SharedSensorID
		}
		return q
	}

	switch key.Kind {
	case StreamExpenses:
		return repository.Query{
			Collection: repository.CollectionExpenses,
			UserID:     uid,
			FieldID:    key.FieldID,
			OrderBy:    "date",
			Descending: true,
		}, nil
	case StreamLatestReading:
		return readings(1), nil
	case StreamTelemetryWindow:
		size := opts.WindowSize
		if size <= 0 {
			size = DefaultWindowSize
		}
		return readings(size), nil
	case StreamField:
		return repository.Query{
			Collection: repository.CollectionFields,
			UserID:     uid,
			FieldID:    key.FieldID,
			Limit:      1,
		}, nil
	}
	return repository.Query{}, fmt.Errorf("unknown stream kind %q", key.Kind)
}

// Subscribe opens a live query for (fieldID, kind). An existing subscription
// for the same key is terminated and released first. onUpdate is called
// for every result set in store emission order; onError is called at most
// once, after which the handle is terminated.
func (m *Manager) Subscribe(fieldID string, kind StreamKind, onUpdate func(Update), onError func(error)) (*Handle, error) {
	key := Key{FieldID: fieldID, Kind: kind}
	if fieldID == "" {
		return nil, &apperror.ValidationError{Fields: map[string]string{"field_id": "is required"}}
	}
	q, err := m.Query(key)
	if err != nil {
		return nil, &apperror.ValidationError{Fields: map[string]string{"kind": "is invalid"}, Err: err}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, &apperror.TransportError{Op: "subscribe " + key.String(), Err: repository.ErrClosed}
	}
	prev := m.active[key]
	m.nextID++
	h := &Handle{id: m.nextID, key: key, mgr: m, onUpdate: onUpdate, onError: onError}
	m.active[key] = h
	m.mu.Unlock()

	if prev != nil {
		m.log.Debug("replacing subscription", zap.Stringer("key", key), zap.Uint64("handle", prev.id))
		prev.terminate(TerminatedByCaller)
	}

	l, err := m.store.Watch(q, h.deliver, h.fail)
	if err != nil {
		m.release(h)
		h.terminate(TerminatedByError)
		return nil, &apperror.TransportError{Op: "subscribe " + key.String(), Err: err}
	}
	h.attach(l)
	m.log.Debug("subscribed", zap.Stringer("key", key), zap.Uint64("handle", h.id))
	return h, nil
}

// Unsubscribe terminates h. It is idempotent and safe on nil.
func (m *Manager) Unsubscribe(h *Handle) {
	if h == nil {
		return
	}
	m.release(h)
	if h.terminate(TerminatedByCaller) {
		m.log.Debug("unsubscribed", zap.Stringer("key", h.key), zap.Uint64("handle", h.id))
	}
}

// UnsubscribeField terminates every subscription opened for fieldID.
func (m *Manager) UnsubscribeField(fieldID string) {
	for _, h := range m.take(func(k Key) bool { return k.FieldID == fieldID }) {
		h.terminate(TerminatedByCaller)
	}
}

// Close terminates every subscription; later Subscribe calls fail.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	for _, h := range m.take(func(Key) bool { return true }) {
		h.terminate(TerminatedByCaller)
	}
}

// Active returns the handle currently registered for key, if any.
func (m *Manager) Active(key Key) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.active[key]
	return h, ok
}

// Len reports the number of live subscriptions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) take(match func(Key) bool) []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Handle
	for k, h := range m.active {
		if match(k) {
			out = append(out, h)
			delete(m.active, k)
		}
	}
	return out
}

// release drops h from the active set if it is still the registered handle
// for its key.
func (m *Manager) release(h *Handle) {
	m.mu.Lock()
	if m.active[h.key] == h {
		delete(m.active, h.key)
	}
	m.mu.Unlock()
}
