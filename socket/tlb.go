package socket

import (
	"sync"
)

// TLB is the translation look-aside buffer mapping an ALFID (Application
// Layer Fiber ID, spec §2/§4.7) to the Socket that owns it — the FSP
// counterpart of the contiguous incoming/accepted []*Conn slices
// tcp.Listener indexes by remote port+address (listener.go, getConn): ALFID
// space is sparse and peer-chosen so a map replaces the linear scan.
type TLB struct {
	mu   sync.RWMutex
	byID map[uint32]*Socket
}

// NewTLB returns an empty translation look-aside buffer.
func NewTLB() *TLB {
	return &TLB{byID: make(map[uint32]*Socket)}
}

// Register binds alfid to s, replacing any prior owner.
func (t *TLB) Register(alfid uint32, s *Socket) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[alfid] = s
}

// Lookup returns the socket bound to alfid, if any.
func (t *TLB) Lookup(alfid uint32) (*Socket, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byID[alfid]
	return s, ok
}

// Release unbinds alfid, called from a Socket's onRelease callback once it
// reaches fsm.Closed.
func (t *TLB) Release(alfid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, alfid)
}

// Len reports how many ALFIDs are currently bound.
func (t *TLB) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Each calls fn for every bound socket; fn must not call back into the TLB.
func (t *TLB) Each(fn func(alfid uint32, s *Socket)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, s := range t.byID {
		fn(id, s)
	}
}
