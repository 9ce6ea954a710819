package subscription

import (
	"sync"

	"go.uber.org/zap"

	"farmdash/pkg/store/repository"
)

type State int

const (
	Pending State = iota
	Active
	TerminatedByCaller
	TerminatedByError
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case TerminatedByCaller:
		return "terminated_by_caller"
	case TerminatedByError:
		return "terminated_by_error"
	}
	return "unknown"
}

func (s State) Terminated() bool { return s == TerminatedByCaller || s == TerminatedByError }

// Handle is one live subscription. Once terminated it never delivers again.
type Handle struct {
	id       uint64
	key      Key
	mgr      *Manager
	onUpdate func(Update)
	onError  func(error)

	mu       sync.Mutex
	state    State
	listener repository.Listener

	// deliverMu keeps callbacks for one handle sequential.
	deliverMu sync.Mutex
}

func (h *Handle) ID() uint64 { return h.id }
func (h *Handle) Key() Key   { return h.key }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) attach(l repository.Listener) {
	h.mu.Lock()
	if h.state.Terminated() {
		h.mu.Unlock()
		l.Stop()
		return
	}
	h.listener = l
	h.mu.Unlock()
}

// terminate moves h to a terminal state and stops its listener. It reports
// whether this call performed the transition.
func (h *Handle) terminate(to State) bool {
	h.mu.Lock()
	if h.state.Terminated() {
		h.mu.Unlock()
		return false
	}
	h.state = to
	l := h.listener
	h.listener = nil
	h.mu.Unlock()
	if l != nil {
		l.Stop()
	}
	return true
}

func (h *Handle) live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.state.Terminated()
}

func (h *Handle) deliver(s repository.Snapshot) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	if h.state.Terminated() {
		h.mu.Unlock()
		return
	}
	h.state = Active
	h.mu.Unlock()

	if h.onUpdate != nil {
		h.onUpdate(Update{Key: h.key, HandleID: h.id, Snapshot: s})
	}
}

func (h *Handle) fail(err error) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	if !h.live() {
		return
	}
	h.mgr.release(h)
	if !h.terminate(TerminatedByError) {
		return
	}
	h.mgr.log.Warn("subscription failed", zap.Stringer("key", h.key), zap.Error(err))
	if h.onError != nil {
		h.onError(err)
	}
}
