package hislip

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-hislip/logger"
)

// SessionState represents the lifecycle stages of a HiSLIP session.
type SessionState uint32

// HiSLIP session states. The states from DisconnectedState to ReadyState are traversed in order by the
// session negotiation; FatalState and ClosedState are terminal and reachable from any state.
const (
	// DisconnectedState indicates that no connection is established.
	DisconnectedState SessionState = iota
	// SyncOpenState indicates that the synchronous channel TCP connection is established.
	SyncOpenState
	// SyncInitializedState indicates that Initialize/InitializeResponse has been exchanged.
	SyncInitializedState
	// AsyncOpenState indicates that the asynchronous channel TCP connection is established.
	AsyncOpenState
	// AsyncInitializedState indicates that AsyncInitialize/AsyncInitializeResponse has been exchanged.
	AsyncInitializedState
	// MaxSizeNegotiatedState indicates that the maximum message size has been agreed.
	MaxSizeNegotiatedState
	// ReadyState indicates that the session is established and commands may be dispatched.
	ReadyState
	// FatalState indicates that the session hit an unrecoverable condition.
	FatalState
	// ClosedState indicates that the session has been closed.
	ClosedState
)

// String returns string representation of the state.
func (s SessionState) String() string {
	switch s {
	case DisconnectedState:
		return "disconnected"
	case SyncOpenState:
		return "sync-open"
	case SyncInitializedState:
		return "sync-initialized"
	case AsyncOpenState:
		return "async-open"
	case AsyncInitializedState:
		return "async-initialized"
	case MaxSizeNegotiatedState:
		return "max-size-negotiated"
	case ReadyState:
		return "ready"
	case FatalState:
		return "fatal"
	case ClosedState:
		return "closed"
	default:
		return "unknown"
	}
}

// IsReady returns if the state is the ready state.
func (s SessionState) IsReady() bool { return s == ReadyState }

// IsTerminal returns if the state is fatal or closed.
func (s SessionState) IsTerminal() bool { return s == FatalState || s == ClosedState }

// IsNegotiating returns if the state is one of the intermediate handshake states.
func (s SessionState) IsNegotiating() bool { return s > DisconnectedState && s < ReadyState }

// StateChangeHandler is a function type that represents a handler for session state changes.
//
// Note: the handler is invoked in a blocking mode while the state manager holds its lock.
// It must not call the transition methods of the state manager.
type StateChangeHandler func(prevState SessionState, newState SessionState)

// StateMgr manages the lifecycle state of a HiSLIP session.
//
// The negotiation states can only be advanced one step at a time, while FatalState and ClosedState
// may be entered from any state. ClosedState is absorbing. State transitions are safe for concurrent use.
type StateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []StateChangeHandler
}

// NewStateMgr creates a new StateMgr in DisconnectedState.
func NewStateMgr(l logger.Logger, handlers ...StateChangeHandler) *StateMgr {
	if l == nil {
		l = logger.NewNop()
	}

	mgr := &StateMgr{
		logger:   l,
		handlers: make([]StateChangeHandler, 0, len(handlers)),
	}
	mgr.cond = sync.NewCond(&mgr.mu)
	mgr.state.Store(uint32(DisconnectedState))

	mgr.AddHandler(handlers...)

	return mgr
}

// State returns the current session state.
func (sm *StateMgr) State() SessionState {
	return SessionState(sm.state.Load())
}

// IsReady returns if the current state is ready.
func (sm *StateMgr) IsReady() bool { return sm.State().IsReady() }

// IsTerminal returns if the current state is fatal or closed.
func (sm *StateMgr) IsTerminal() bool { return sm.State().IsTerminal() }

// AddHandler adds one or more StateChangeHandler functions to be invoked on state changes.
func (sm *StateMgr) AddHandler(handlers ...StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			sm.handlers = append(sm.handlers, h)
		}
	}
}

// Advance moves the session to the next negotiation state.
//
// next must be exactly one step after the current state, and the current state must be earlier than
// ReadyState. Returns ErrInvalidTransition otherwise.
func (sm *StateMgr) Advance(next SessionState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cur := sm.State()
	if cur.IsTerminal() || next > ReadyState || next != cur+1 {
		sm.logger.Debug("reject state transition", "curState", cur, "desiredState", next)
		return ErrInvalidTransition
	}

	sm.setState(cur, next)

	return nil
}

// ToFatal transitions the session to FatalState.
//
// It returns true if this call performed the transition, false if the session was already fatal or closed.
func (sm *StateMgr) ToFatal() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cur := sm.State()
	if cur.IsTerminal() {
		return false
	}

	sm.setState(cur, FatalState)

	return true
}

// ToClosed transitions the session to ClosedState. It is allowed from any state and idempotent.
//
// It returns the state the session was in before the call.
func (sm *StateMgr) ToClosed() SessionState {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cur := sm.State()
	if cur == ClosedState {
		return cur
	}

	sm.setState(cur, ClosedState)

	return cur
}

// WaitState waits until the session reaches the specified state or a terminal state, or until the context is done.
//
// It returns nil if the desired state is reached, ErrSessionFatal or ErrSessionClosed if a terminal state other
// than the desired one is reached, or the context error.
func (sm *StateMgr) WaitState(ctx context.Context, state SessionState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	stopFunc := context.AfterFunc(ctx, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		sm.cond.Broadcast()
	})
	defer stopFunc()

	for {
		cur := sm.State()
		switch {
		case cur == state:
			return nil
		case cur == FatalState:
			return ErrSessionFatal
		case cur == ClosedState:
			return ErrSessionClosed
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		sm.cond.Wait()
	}
}

// setState stores newState, wakes up waiters and invokes the handlers. The caller must hold sm.mu.
func (sm *StateMgr) setState(prevState, newState SessionState) {
	sm.state.Store(uint32(newState))
	sm.cond.Broadcast()

	sm.logger.Debug("session state changed", "prevState", prevState, "curState", newState)

	for _, handler := range sm.handlers {
		handler(prevState, newState)
	}
}
