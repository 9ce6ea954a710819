// Package viewmodel merges the field document, the expense log, the latest
// reading and the telemetry window into one snapshot per update.
package viewmodel

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"farmdash/entities"
	"farmdash/pkg/apperror"
	"farmdash/pkg/logger"
	"farmdash/pkg/store/repository"
	"farmdash/pkg/subscription"
	"farmdash/pkg/telemetry"
)

type Options struct {
	WindowSize     int
	SharedSensorID string
	Bands          *telemetry.Bands
}

var streams = []struct {
	kind   subscription.StreamKind
	source Source
}{
	{subscription.StreamField, SourceField},
	{subscription.StreamExpenses, SourceExpenses},
	{subscription.StreamLatestReading, SourceLatest},
	{subscription.StreamTelemetryWindow, SourceWindow},
}

// Aggregator drives the dashboard of one screen instance. Every source
// update recomputes the whole Snapshot and publishes it to listeners in
// computation order.
//
// Listeners run synchronously on the delivery path and must not call back
// into the Aggregator.
type Aggregator struct {
	store repository.Store
	subs  *subscription.Manager
	uid   string
	opts  Options
	log   *zap.Logger

	subMu sync.Mutex // serializes generation bumps with Subscribe calls; taken before mu

	mu      sync.Mutex
	gen     uint64 // bumped on every Open and Close; callbacks carry the value they were opened under
	fieldID string
	slots   slots
	seq     uint64
	current Snapshot
	closed  bool

	pubMu     sync.Mutex
	listeners map[uint64]func(Snapshot)
	nextL     uint64
}

func New(store repository.Store, uid string, opts Options, log *zap.Logger) *Aggregator {
	if opts.WindowSize <= 0 {
		opts.WindowSize = telemetry.DefaultWindowSize
	}
	if opts.Bands == nil {
		opts.Bands = telemetry.DefaultBands()
	}
	log = logger.OrNop(log).With(zap.String("uid", uid))
	a := &Aggregator{
		store: store,
		subs: subscription.New(store, uid, subscription.Options{
			WindowSize:     opts.WindowSize,
			SharedSensorID: opts.SharedSensorID,
		}, log),
		uid:       uid,
		opts:      opts,
		log:       log,
		slots:     newSlots(opts.WindowSize),
		listeners: map[uint64]func(Snapshot){},
	}
	a.current = a.slots.compute("", opts.Bands)
	return a
}

// Open switches the aggregator to fieldID. Subscriptions for the previous
// field are released before any new one is opened, and late deliveries for
// the previous field are discarded. The field document is fetched once up
// front so a missing field fails synchronously with a NotFoundError.
func (a *Aggregator) Open(ctx context.Context, fieldID string) error {
	if fieldID == "" {
		return &apperror.ValidationError{Fields: map[string]string{"field_id": "is required"}}
	}

	a.subMu.Lock()
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.subMu.Unlock()
		return &apperror.TransportError{Op: "open dashboard", Err: repository.ErrClosed}
	}
	prev := a.fieldID
	a.gen++
	gen := a.gen
	a.fieldID = fieldID
	a.slots = newSlots(a.opts.WindowSize)
	a.mu.Unlock()

	if prev != "" {
		a.subs.UnsubscribeField(prev)
	}
	a.subMu.Unlock()
	a.publish(gen, nil)

	f, err := a.store.GetField(ctx, a.uid, fieldID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = &apperror.NotFoundError{Kind: "field", ID: fieldID, Err: err}
		} else {
			err = &apperror.TransportError{Op: "get field", Err: err}
		}
		a.publish(gen, func(s *slots) { s.errs[SourceField] = err.Error() })
		return err
	}
	if !a.publish(gen, func(s *slots) { s.field = f }) {
		return nil
	}

	handles := make([]*subscription.Handle, 0, len(streams))
	release := func() {
		for _, h := range handles {
			a.subs.Unsubscribe(h)
		}
	}
	for _, st := range streams {
		h, err := a.subscribe(gen, fieldID, st.kind, st.source)
		if err != nil {
			release()
			return err
		}
		if h == nil {
			// A newer Open or Close took over; only this call's handles are
			// released so a newer Open of the same field keeps its streams.
			release()
			a.log.Debug("open superseded", zap.String("field_id", fieldID), zap.Uint64("gen", gen))
			return nil
		}
		handles = append(handles, h)
	}
	a.log.Debug("dashboard opened", zap.String("field_id", fieldID), zap.Uint64("gen", gen))
	return nil
}

// subscribe opens one stream unless gen has been superseded, in which case it
// returns a nil handle. subMu keeps the generation check and the Subscribe
// atomic with respect to Open's release of the previous field.
func (a *Aggregator) subscribe(gen uint64, fieldID string, kind subscription.StreamKind, src Source) (*subscription.Handle, error) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.mu.Lock()
	stale := gen != a.gen
	a.mu.Unlock()
	if stale {
		return nil, nil
	}
	return a.subs.Subscribe(fieldID, kind,
		func(u subscription.Update) { a.apply(gen, src, u) },
		func(err error) { a.fail(gen, fieldID, src, err) })
}

// Close releases every subscription. The last snapshot stays readable.
func (a *Aggregator) Close() {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.gen++
	a.mu.Unlock()
	a.subs.Close()
}

// Snapshot returns the most recently published snapshot.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// FieldID returns the field currently open, if any.
func (a *Aggregator) FieldID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fieldID
}

// Listen registers fn for every future snapshot and returns a cancel func.
func (a *Aggregator) Listen(fn func(Snapshot)) (cancel func()) {
	a.pubMu.Lock()
	a.nextL++
	id := a.nextL
	a.listeners[id] = fn
	a.pubMu.Unlock()
	return func() {
		a.pubMu.Lock()
		delete(a.listeners, id)
		a.pubMu.Unlock()
	}
}

func (a *Aggregator) apply(gen uint64, src Source, u subscription.Update) {
	ok := a.publish(gen, func(s *slots) {
		switch src {
		case SourceField:
			if len(u.Snapshot.Fields) > 0 {
				f := u.Snapshot.Fields[0]
				s.field = &f
			}
		case SourceExpenses:
			s.expenses = u.Snapshot.Expenses
			if s.expenses == nil {
				s.expenses = []entities.Expense{}
			}
		case SourceLatest:
			s.latest = telemetry.NewLatest(u.Snapshot.Readings)
		case SourceWindow:
			s.window = telemetry.NewWindow(a.opts.WindowSize, u.Snapshot.Readings)
		}
	}, u.FieldID())
	if !ok {
		a.log.Debug("discarding stale update",
			zap.String("field_id", u.FieldID()),
			zap.String("source", string(src)),
			zap.Uint64("gen", gen))
	}
}

func (a *Aggregator) fail(gen uint64, fieldID string, src Source, err error) {
	a.publish(gen, func(s *slots) { s.errs[src] = err.Error() }, fieldID)
}

// publish applies mutate to the slots and republishes, unless gen is stale
// or the update was tagged with a different field. pubMu is taken before mu
// is released so listeners observe snapshots in computation order.
func (a *Aggregator) publish(gen uint64, mutate func(*slots), fieldIDs ...string) bool {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return false
	}
	for _, id := range fieldIDs {
		if id != a.fieldID {
			a.mu.Unlock()
			return false
		}
	}
	if mutate != nil {
		mutate(&a.slots)
	}
	a.seq++
	snap := a.slots.compute(a.fieldID, a.opts.Bands)
	snap.Seq = a.seq
	a.current = snap

	a.pubMu.Lock()
	a.mu.Unlock()
	defer a.pubMu.Unlock()
	for _, fn := range a.listeners {
		fn(snap)
	}
	return true
}

// Settled waits until every source has delivered or failed at least once
// and returns that snapshot.
func (a *Aggregator) Settled(ctx context.Context) (Snapshot, error) {
	done := make(chan Snapshot, 1)
	ready := func(s Snapshot) bool {
		l := s.Loading
		_, fErr := s.Errors[SourceField]
		_, eErr := s.Errors[SourceExpenses]
		_, lErr := s.Errors[SourceLatest]
		_, wErr := s.Errors[SourceWindow]
		return (!l.Field || fErr) && (!l.Expenses || eErr) && (!l.Latest || lErr) && (!l.Window || wErr)
	}
	cancel := a.Listen(func(s Snapshot) {
		if ready(s) {
			select {
			case done <- s:
			default:
			}
		}
	})
	defer cancel()

	if s := a.Snapshot(); ready(s) {
		return s, nil
	}
	select {
	case s := <-done:
		return s, nil
	case <-ctx.Done():
		return a.Snapshot(), ctx.Err()
	}
}
