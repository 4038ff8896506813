package proxy

import (
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-opcua-proxy/backend"
)

// SessionState represents whether the proxy holds a live backend session.
type SessionState uint32

// Session states.
const (
	// Disconnected indicates that no backend session is active.
	Disconnected SessionState = iota
	// Connected indicates that a backend session is active and can serve reads.
	Connected
)

// IsConnected returns if the state is connected.
func (s SessionState) IsConnected() bool { return s == Connected }

// String returns string representation of the state.
func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name, so structured log handlers don't print a number.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SessionStateChangeHandler is invoked after the session state changes.
//
// Note: the handler is invoked while the session lock is held. It must not call back into the
// Dispatcher and should return quickly.
type SessionStateChangeHandler func(prevState SessionState, newState SessionState, target backend.Target)

// SessionInfo is a consistent snapshot of a Session.
type SessionInfo struct {
	State     SessionState
	Target    backend.Target
	Namespace uint16
	Conn      backend.Conn
}

// Session holds the single backend connection shared by all clients along with its
// addressing metadata.
//
// The backend connection is present iff the state is Connected. All mutation happens through
// the Dispatcher while holding mu, so a snapshot never pairs the namespace of one connect with
// the connection of another.
type Session struct {
	mu        sync.Mutex
	state     atomic.Uint32
	conn      backend.Conn
	target    backend.Target
	namespace uint16
	handlers  []SessionStateChangeHandler
}

// NewSession creates a Session in the Disconnected state.
func NewSession(handlers ...SessionStateChangeHandler) *Session {
	s := &Session{}
	s.AddHandler(handlers...)
	s.state.Store(uint32(Disconnected))

	return s
}

// State returns the current state without taking the session lock.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// AddHandler adds one or more SessionStateChangeHandler functions to be invoked on state changes.
func (s *Session) AddHandler(handlers ...SessionStateChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			s.handlers = append(s.handlers, h)
		}
	}
}

// Snapshot returns the current session content. It blocks while a backend call is in progress.
func (s *Session) Snapshot() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionInfo{
		State:     s.State(),
		Target:    s.target,
		Namespace: s.namespace,
		Conn:      s.conn,
	}
}

// replace installs conn as the active connection and returns the previous one, if any.
// The caller must hold mu.
func (s *Session) replace(conn backend.Conn, target backend.Target, namespace uint16) backend.Conn {
	prevConn := s.conn
	prevState := s.State()

	s.conn = conn
	s.target = target
	s.namespace = namespace
	s.state.Store(uint32(Connected))

	s.invokeHandlers(prevState, Connected, target)

	return prevConn
}

// reset drops the active connection and returns it. The caller must hold mu.
func (s *Session) reset() backend.Conn {
	prevConn := s.conn
	prevState := s.State()
	target := s.target

	s.conn = nil
	s.target = backend.Target{}
	s.namespace = 0
	s.state.Store(uint32(Disconnected))

	if prevState != Disconnected {
		s.invokeHandlers(prevState, Disconnected, target)
	}

	return prevConn
}

func (s *Session) invokeHandlers(prevState SessionState, newState SessionState, target backend.Target) {
	for _, handler := range s.handlers {
		handler(prevState, newState, target)
	}
}
