package socket

import (
	"errors"
	"net"
	"sync"

	"github.com/fspnet/fsp/fsm"
	"github.com/fspnet/fsp/internal"
)

var errAlreadyClosed = errors.New("fsp/socket: listener already closed")

// Factory mints a fresh Socket for an inbound CONNECT_REQUEST, the
// svc-side counterpart of tcp.Listener's pool.GetTCP.
type Factory func() *Socket

// Listener accepts inbound connections bound to one local ALFID, structured
// after tcp.Listener (listener.go): a mutex-guarded pair of incoming/accepted
// slices and a factory standing in for tcp's pool interface, since FSP
// sockets are not recycled from a fixed-size pool the way the teacher's TCP
// connections are.
type Listener struct {
	mu         sync.Mutex
	localALFID uint32
	incoming   []*Socket
	accepted   []*Socket
	newSocket  Factory
	closed     bool

	internal.Logger
}

// Listen begins accepting CONNECT_REQUESTs addressed to localALFID.
func Listen(localALFID uint32, newSocket Factory) *Listener {
	return &Listener{localALFID: localALFID, newSocket: newSocket}
}

func (l *Listener) LocalALFID() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.localALFID
}

// Admit registers s (freshly created by svc's dispatcher for an inbound
// CONNECT_REQUEST) as a pending candidate for Accept1.
func (l *Listener) Admit(s *Socket) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errAlreadyClosed
	}
	l.incoming = append(l.incoming, s)
	l.mu.Unlock()
	s.FireOnRequest()
	return nil
}

// Accept1 returns the oldest incoming socket that has reached fsm.Established,
// moving it from the incoming backlog to the accepted set.
func (l *Listener) Accept1() (*Socket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, net.ErrClosed
	}
	l.reap()
	for i, s := range l.incoming {
		if s == nil {
			continue
		}
		if s.State() != fsm.Established {
			continue
		}
		l.incoming[i] = nil
		l.accepted = append(l.accepted, s)
		return s, nil
	}
	return nil, errNoneReady
}

var errNoneReady = errors.New("fsp/socket: no connection ready to accept")

// Backlog reports how many incoming sockets have reached ESTABLISHED and are
// waiting on Accept1.
func (l *Listener) Backlog() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.incoming {
		if s != nil && s.State() == fsm.Established {
			n++
		}
	}
	return n
}

func (l *Listener) reap() {
	incoming := l.incoming[:0]
	for _, s := range l.incoming {
		if s == nil {
			continue
		}
		if s.State().IsClosed() {
			continue
		}
		incoming = append(incoming, s)
	}
	l.incoming = incoming

	accepted := l.accepted[:0]
	for _, s := range l.accepted {
		if s == nil || s.State().IsClosed() {
			continue
		}
		accepted = append(accepted, s)
	}
	l.accepted = accepted
}

// Close stops accepting new connections; existing accepted sockets are
// unaffected.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errAlreadyClosed
	}
	l.closed = true
	for _, s := range l.incoming {
		if s != nil {
			s.Dispose()
		}
	}
	l.incoming = nil
	return nil
}
