package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"streamsync/internal/logging"
	"streamsync/internal/model"
	"streamsync/internal/view"
)

// ErrWaitTimeout indicates a wait primitive expired before its
// condition held.
var ErrWaitTimeout = errors.New("client: wait timed out")

// DefaultWaitTimeout bounds waitFor-style primitives.
const DefaultWaitTimeout = 20 * time.Second

// StreamHandle wraps a StreamView with serialized access and an
// observer registry. All reconciliation for one stream flows through
// its handle, so no two fold operations for the same stream ever run
// concurrently.
type StreamHandle struct {
	mu   sync.Mutex
	view *view.StreamView

	listenerMu   sync.Mutex
	listeners    map[int]view.Sink
	nextListener int
	stopped      bool

	log *logging.Logger
}

func newStreamHandle(userID string, streamID model.StreamID, emit view.Sink, log *logging.Logger) *StreamHandle {
	if log == nil {
		log = logging.Discard()
	}
	h := &StreamHandle{
		listeners: make(map[int]view.Sink),
		log:       log.Stream(string(streamID)),
	}
	sink := func(ev view.StreamEvent) {
		if emit != nil {
			emit(ev)
		}
		h.dispatch(ev)
	}
	h.view = view.NewStreamView(userID, streamID, sink, log)
	return h
}

func (h *StreamHandle) dispatch(ev view.StreamEvent) {
	h.listenerMu.Lock()
	sinks := make([]view.Sink, 0, len(h.listeners))
	for _, s := range h.listeners {
		sinks = append(sinks, s)
	}
	h.listenerMu.Unlock()
	for _, s := range sinks {
		s(ev)
	}
}

// subscribe registers a listener and returns its removal function.
func (h *StreamHandle) subscribe(s view.Sink) func() {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	if h.stopped {
		return func() {}
	}
	id := h.nextListener
	h.nextListener++
	h.listeners[id] = s
	return func() {
		h.listenerMu.Lock()
		delete(h.listeners, id)
		h.listenerMu.Unlock()
	}
}

// stop drops every listener immediately. The view itself stays usable
// for final reads.
func (h *StreamHandle) stop() {
	h.listenerMu.Lock()
	h.stopped = true
	h.listeners = make(map[int]view.Sink)
	h.listenerMu.Unlock()
}

// withView runs fn with exclusive access to the underlying view.
func (h *StreamHandle) withView(fn func(v *view.StreamView) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.view)
}

// StreamID returns the handle's stream id.
func (h *StreamHandle) StreamID() model.StreamID {
	return h.view.StreamID()
}

// Timeline returns a copy of the current timeline.
func (h *StreamHandle) Timeline() []*model.TimelineEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view.Timeline()
}

// Members returns the membership projection.
func (h *StreamHandle) Members() *view.MemberState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view.Members()
}

// WaitFor blocks until cond holds for some emitted event, or the
// timeout elapses. check is evaluated once up front against current
// state so an already-satisfied wait returns immediately. The listener
// is removed on both success and timeout.
func (h *StreamHandle) WaitFor(ctx context.Context, check func(v *view.StreamView) bool, cond func(ev view.StreamEvent) bool, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	satisfied := make(chan struct{}, 1)
	unsubscribe := h.subscribe(func(ev view.StreamEvent) {
		if cond(ev) {
			select {
			case satisfied <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if check != nil {
		h.mu.Lock()
		ok := check(h.view)
		h.mu.Unlock()
		if ok {
			return nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-satisfied:
		return nil
	case <-timer.C:
		return ErrWaitTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForMembership blocks until userID's membership op is confirmed.
func (h *StreamHandle) WaitForMembership(ctx context.Context, userID string, op model.MembershipOp, timeout time.Duration) error {
	return h.WaitFor(ctx,
		func(v *view.StreamView) bool {
			switch op {
			case model.MembershipJoin:
				return v.Members().IsJoined(userID)
			case model.MembershipInvite:
				return v.Members().IsInvited(userID)
			case model.MembershipLeave:
				return v.Members().IsLeft(userID)
			default:
				return false
			}
		},
		func(ev view.StreamEvent) bool {
			mc, ok := ev.(view.MembershipChanged)
			return ok && mc.UserID == userID && mc.Op == op
		},
		timeout)
}
