// Package ipc implements the LIB/SVC binding of spec §4.8: the SVC half
// (which owns sockets and session keys) and the LIB half (linked into the
// application) coordinate over a shared cb.ControlBlock plus two IPC
// channels — a notice broadcast for connection lifecycle events, and a
// command channel for LIB-issued requests. Both are modeled directly on
// github.com/m-lab/tcp-info/eventsocket's unix-domain-socket JSON broadcaster
// (eventsocket.go): a registry of connected clients guarded by a mutex, an
// internal channel decoupling publishers from the fan-out goroutine, and
// Listen/Serve split the same way so callers can bind the socket before
// committing to accepting connections.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
)

// NoticeKind enumerates the lifecycle events broadcast to LIB clients.
type NoticeKind int

const (
	NoticeStateChanged NoticeKind = iota
	NoticeDataArrived
	NoticePeerSubnetsChanged
	NoticeError
)

// Notice is one JSON-framed event sent down the notice socket.
type Notice struct {
	Kind      NoticeKind
	Timestamp time.Time
	SocketID  xid.ID
	ALFID     uint32
	State     string `json:",omitempty"`
	Detail    string `json:",omitempty"`
}

// NoticeServer fans Notice values out to every connected LIB client over a
// Unix domain socket, following eventsocket.Server's addClient/removeClient/
// sendToAllListeners/notifyClients shape.
type NoticeServer struct {
	eventC   chan *Notice
	filename string
	log      *slog.Logger

	mu        sync.Mutex
	clients   map[net.Conn]struct{}
	listener  net.Listener
	servingWG sync.WaitGroup
}

// NewNoticeServer returns a server that will broadcast notices over the
// Unix domain socket at filename once Listen and Serve are called.
func NewNoticeServer(filename string, log *slog.Logger) *NoticeServer {
	return &NoticeServer{
		eventC:   make(chan *Notice, 256),
		filename: filename,
		log:      log,
		clients:  make(map[net.Conn]struct{}),
	}
}

func (s *NoticeServer) addClient(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *NoticeServer) removeClient(c net.Conn) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

func (s *NoticeServer) sendToAllListeners(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if _, err := c.Write(line); err != nil {
			go s.removeClient(c)
			go c.Close()
		}
	}
}

func (s *NoticeServer) notifyClients(ctx context.Context) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	for ctx.Err() == nil {
		event, ok := <-s.eventC
		if !ok {
			return
		}
		b, err := json.Marshal(event)
		if err != nil {
			if s.log != nil {
				s.log.Warn("ipc: failed to marshal notice", slog.Any("err", err))
			}
			continue
		}
		s.sendToAllListeners(append(b, '\n'))
	}
}

// Listen binds the notice socket without yet accepting connections.
func (s *NoticeServer) Listen() error {
	s.servingWG.Add(1)
	var err error
	s.listener, err = net.Listen("unix", s.filename)
	return err
}

// Serve accepts LIB client connections and broadcasts notices until ctx is
// canceled.
func (s *NoticeServer) Serve(ctx context.Context) error {
	defer s.servingWG.Done()
	derived, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.notifyClients(derived)

	s.servingWG.Add(1)
	go func() {
		<-derived.Done()
		s.listener.Close()
		close(s.eventC)
		s.servingWG.Done()
	}()

	for derived.Err() == nil {
		conn, err := s.listener.Accept()
		if err != nil {
			return fmt.Errorf("ipc: accept on notice socket %q: %w", s.filename, err)
		}
		s.addClient(conn)
	}
	return nil
}

// Publish queues a notice for broadcast; it never blocks the caller on slow
// clients, only on the internal channel filling up.
func (s *NoticeServer) Publish(n *Notice) {
	n.Timestamp = time.Now()
	s.eventC <- n
}
