package repositoryImp

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"farmdash/pkg/store/repository"
)

const watchQueryTimeout = 5 * time.Second

type runFunc func(ctx context.Context, q repository.Query) (repository.Snapshot, error)

// hub re-runs every live query touching a collection after a commit and
// queues the fresh result set on each listener.
type hub struct {
	run runFunc
	log *zap.Logger

	// emitMu serializes query execution and enqueueing so that the order
	// of snapshots on a listener follows the order of commits.
	emitMu sync.Mutex

	mu       sync.Mutex
	watchers map[uint64]*watcher
	nextID   uint64
	closed   bool
}

func newHub(run runFunc, log *zap.Logger) *hub {
	return &hub{run: run, log: log, watchers: map[uint64]*watcher{}}
}

type event struct {
	snap repository.Snapshot
	err  error
}

type watcher struct {
	id     uint64
	q      repository.Query
	h      *hub
	onNext func(repository.Snapshot)
	onErr  func(error)

	mu     sync.Mutex
	queue  []event
	failed bool

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (h *hub) watch(q repository.Query, onNext func(repository.Snapshot), onErr func(error)) (*watcher, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, repository.ErrClosed
	}
	h.nextID++
	w := &watcher{
		id:     h.nextID,
		q:      q,
		h:      h,
		onNext: onNext,
		onErr:  onErr,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	h.watchers[w.id] = w
	h.mu.Unlock()

	go w.loop()

	h.emitMu.Lock()
	w.enqueue(h.query(w.q))
	h.emitMu.Unlock()
	return w, nil
}

func (h *hub) query(q repository.Query) event {
	ctx, cancel := context.WithTimeout(context.Background(), watchQueryTimeout)
	defer cancel()
	snap, err := h.run(ctx, q)
	return event{snap: snap, err: err}
}

func (h *hub) matching(c repository.Collection) []*watcher {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*watcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		if w.q.Collection == c {
			out = append(out, w)
		}
	}
	return out
}

// notify re-runs the live queries over the given collections.
func (h *hub) notify(collections ...repository.Collection) {
	h.emitMu.Lock()
	defer h.emitMu.Unlock()
	for _, c := range collections {
		for _, w := range h.matching(c) {
			w.enqueue(h.query(w.q))
		}
	}
}

// fail terminates every listener on c with err.
func (h *hub) fail(c repository.Collection, err error) {
	h.emitMu.Lock()
	defer h.emitMu.Unlock()
	for _, w := range h.matching(c) {
		w.enqueue(event{err: err})
	}
}

func (h *hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.watchers, id)
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	ws := make([]*watcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		ws = append(ws, w)
	}
	h.mu.Unlock()
	for _, w := range ws {
		w.Stop()
	}
}

func (w *watcher) enqueue(ev event) {
	w.mu.Lock()
	if w.failed {
		w.mu.Unlock()
		return
	}
	if ev.err != nil {
		w.failed = true
	}
	w.queue = append(w.queue, ev)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watcher) next() (event, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return event{}, false
	}
	ev := w.queue[0]
	w.queue[0] = event{}
	w.queue = w.queue[1:]
	return ev, true
}

func (w *watcher) stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		}
		for {
			ev, ok := w.next()
			if !ok || w.stopped() {
				break
			}
			if ev.err != nil {
				w.h.log.Warn("live query failed",
					zap.String("collection", string(w.q.Collection)),
					zap.String("field_id", w.q.FieldID),
					zap.Error(ev.err))
				w.Stop()
				if w.onErr != nil {
					w.onErr(ev.err)
				}
				return
			}
			if w.onNext != nil {
				w.onNext(ev.snap)
			}
		}
	}
}

func (w *watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.h.remove(w.id)
	})
}
