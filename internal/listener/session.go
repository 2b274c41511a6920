package listener

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// ErrSessionExists is returned when this manager already listens on a port.
var ErrSessionExists = errors.New("port already has an open session")

// State is the lifecycle state of a listening session
type State int

const (
	StateUnbound State = iota
	StateListening
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateListening:
		return "listening"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// BindError reports a port that could not be bound.
type BindError struct {
	Port int
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind port %d (%s): %v", e.Port, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Session is one bound, accepting port.
type Session struct {
	Port      int
	Addr      string
	StartedAt time.Time

	state    State // guarded by Manager.mu
	ln       net.Listener
	server   *http.Server
	requests atomic.Int64
	done     chan struct{}
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	Port      int       `json:"port"`
	Address   string    `json:"address"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Requests  int64     `json:"requests"`
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		Port:      s.Port,
		Address:   s.Addr,
		State:     s.state.String(),
		StartedAt: s.StartedAt,
		Requests:  s.requests.Load(),
	}
}
