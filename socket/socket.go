// Package socket implements the LIB-side handle of spec §4.8: the
// application-facing API a process uses to drive one FSP connection,
// wrapping a cb.ControlBlock the way github.com/soypat/lneto/tcp.Conn wraps
// a tcp.Handler — a mutex-guarded struct exposing blocking, deadline-aware
// Read/Write-alike methods over the shared state, with a backoff-based
// polling loop standing in for the blocking socket call tcp.Conn.Write/Read
// use (internal.Backoff, conn.go) since the control block itself exposes no
// wakeup channel of its own.
package socket

import (
	"errors"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/fspnet/fsp/cb"
	"github.com/fspnet/fsp/fsm"
	"github.com/fspnet/fsp/icc"
	"github.com/fspnet/fsp/internal"
	"github.com/fspnet/fsp/reliability"
	"github.com/fspnet/fsp/wire"
)

var (
	ErrClosed           = errors.New("fsp/socket: use of closed socket")
	ErrDeadlineExceeded = net.ErrDeadlineExceeded
	ErrNoRemote         = errors.New("fsp/socket: no remote peer established")
)

// Socket is one FSP connection's LIB-side handle.
type Socket struct {
	mu  sync.Mutex
	id  xid.ID
	cb  *cb.ControlBlock
	icc *icc.Engine
	trk *reliability.Tracker

	remote net.Addr

	rdead, wdead time.Time
	abortErr     error
	onRelease    func(*Socket)

	// ext is the application-opaque pointer stashed/retrieved through
	// FSPControl's CtrlGetExtPointer/CtrlSetExtPointer (spec §6).
	ext any
	// onError/onRequest/onConnect are the event callbacks FSPControl's
	// CtrlSetCallbackOn{Error,Request,Connect} register (spec §6); nil
	// until the application installs one.
	onError   func(*Socket, error)
	onRequest func(*Socket)
	onConnect func(*Socket)

	internal.Logger
}

// New wraps cb, icc and a freshly constructed reliability.Tracker into a
// Socket identified by a fresh xid.
func New(c *cb.ControlBlock, engine *icc.Engine) *Socket {
	return &Socket{
		id:  xid.New(),
		cb:  c,
		icc: engine,
		trk: reliability.NewTracker(c),
	}
}

func (s *Socket) ID() xid.ID { return s.id }

// ControlBlock exposes the underlying cb.ControlBlock for svc's dispatcher
// and reliability engine, which operate on it directly rather than through
// Socket's application-facing methods.
func (s *Socket) ControlBlock() *cb.ControlBlock { return s.cb }

// ICCEngine exposes the underlying integrity/crypto engine for svc's
// dispatcher to sign outbound packets and verify inbound ones.
func (s *Socket) ICCEngine() *icc.Engine { return s.icc }

func (s *Socket) SetLogger(log *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Logger = internal.Logger{Log: log}
}

// State returns the connection's current fsm.State.
func (s *Socket) State() fsm.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb.State()
}

// RemoteAddr returns the peer address established for this socket, or nil
// before a connection completes.
func (s *Socket) RemoteAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// SetRemoteAddr records the peer address svc has established for this
// socket (spec §4.7's "favorite" return path).
func (s *Socket) SetRemoteAddr(addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = addr
}

// SetOnRelease registers a callback invoked once the socket transitions to
// fsm.Closed, letting the owning svc.Dispatcher recycle the ALFID slot
// (spec §4.8).
func (s *Socket) SetOnRelease(fn func(*Socket)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRelease = fn
}

// GetSendBuffer blocks (subject to the write deadline) until a send-ring
// block is free, allocates it at the next sequence number, and returns it
// for the caller to fill before calling SendInline.
func (s *Socket) GetSendBuffer(payloadLen int) (*cb.BufferBlockDescriptor, error) {
	backoff := internal.NewBackoff(internal.BackoffSocketPoll)
	for {
		d, err := s.TryGetSendBuffer(payloadLen)
		if err == nil {
			return d, nil
		}
		if err != cb.ErrRingFull {
			return nil, err
		}
		if s.deadlineExceeded(&s.wdead) {
			return nil, ErrDeadlineExceeded
		}
		backoff.Miss()
		runtime.Gosched()
	}
}

// TryGetSendBuffer is the non-blocking form of GetSendBuffer.
func (s *Socket) TryGetSendBuffer(payloadLen int) (*cb.BufferBlockDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	if !s.cb.State().CanSend() {
		return nil, fsm.ErrIllegalTransition
	}
	return s.cb.AllocSend(payloadLen)
}

// SendInline marks d ready for transmission: flags sets the block's
// TransactionEnded/Compressed bits (spec §4.1). d.SentAt is left zero; it is
// svc's send pump, not SendInline, that stamps it once the block has
// actually gone out on the wire, so the reliability engine's Overdue sweep
// does not mistake "queued" for "sent and awaiting ack".
func (s *Socket) SendInline(d *cb.BufferBlockDescriptor, flags cb.BlockFlag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.SetFlag(flags)
}

// WriteTo copies b into fresh send-ring blocks sized to the ring's block
// capacity, marking the final block TransactionEnded, and returns the
// number of octets accepted.
func (s *Socket) WriteTo(b []byte, transactionEnded bool) (int, error) {
	total := 0
	for len(b) > 0 {
		n := len(b)
		if n > cb.SendBlockSize {
			n = cb.SendBlockSize
		}
		d, err := s.GetSendBuffer(n)
		if err != nil {
			return total, err
		}
		copy(d.Data, b[:n])
		d.Len = n
		flags := cb.FlagToBeContinued
		last := n == len(b)
		if last && transactionEnded {
			flags = cb.FlagCompleted
		}
		s.SendInline(d, flags)
		b = b[n:]
		total += n
	}
	return total, nil
}

// Flush blocks until every currently queued send-ring block has been
// acknowledged.
func (s *Socket) Flush() error {
	backoff := internal.NewBackoff(internal.BackoffSocketPoll)
	for {
		s.mu.Lock()
		buffered := s.cb.SendRing.Buffered()
		err := s.checkOpenLocked()
		s.mu.Unlock()
		if err != nil {
			return err
		}
		if buffered == 0 {
			return nil
		}
		if s.deadlineExceeded(&s.wdead) {
			return ErrDeadlineExceeded
		}
		backoff.Miss()
	}
}

// Commit issues a local COMMIT event, moving the state machine into
// COMMITTING (spec §4.3/§4.5).
func (s *Socket) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fsm.OnLocal(s.cb.State(), fsm.EvCommit)
	if err != nil {
		return err
	}
	s.cb.SetState(next)
	return nil
}

// RecvInline blocks until a receive-ring block is available and returns its
// payload and flags without removing it from the ring; HasReadEoT tells the
// caller whether it was the last block of its transaction.
func (s *Socket) RecvInline() (data []byte, flags cb.BlockFlag, err error) {
	backoff := internal.NewBackoff(internal.BackoffSocketPoll)
	for {
		data, flags, err = s.TryRecvInline()
		if err == nil {
			return data, flags, nil
		}
		if err != cb.ErrRingEmpty {
			return nil, 0, err
		}
		if s.deadlineExceeded(&s.rdead) {
			return nil, 0, ErrDeadlineExceeded
		}
		backoff.Miss()
		runtime.Gosched()
	}
}

// TryRecvInline is the non-blocking form of RecvInline.
func (s *Socket) TryRecvInline() ([]byte, cb.BlockFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, 0, err
	}
	d, err := s.cb.RecvRing.Head()
	if err != nil {
		return nil, 0, err
	}
	return d.Data[:d.Len], d.Flags(), nil
}

// HasReadEoT reports whether the next unread receive block, if any, ends a
// transaction.
func (s *Socket) HasReadEoT() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.cb.RecvRing.Head()
	if err != nil {
		return false
	}
	return d.HasFlag(cb.FlagCompleted)
}

// ReadFrom marks the head receive block delivered (freeing it for reuse)
// after the caller has consumed it via RecvInline/TryRecvInline.
func (s *Socket) ReadFrom() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.cb.RecvRing.Head()
	if err != nil {
		return err
	}
	d.SetFlag(cb.FlagDelivered)
	return s.cb.RecvRing.Advance()
}

// Shutdown issues a local shutdown event; Dispose must still be called to
// release the socket once the peer has acknowledged the close.
func (s *Socket) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fsm.OnLocal(s.cb.State(), fsm.EvShutdown)
	if err != nil {
		return err
	}
	s.cb.SetState(next)
	return nil
}

// FireOnError invokes the callback registered via CtrlSetCallbackOnError, if
// any, the FSP counterpart of a service-code error notice delivered
// asynchronously (spec §7's "error notice through the registered error
// callback").
func (s *Socket) FireOnError(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(s, err)
	}
}

// FireOnRequest invokes the callback registered via
// CtrlSetCallbackOnRequest, if any, called by a Listener when a new
// candidate connection is admitted to its backlog.
func (s *Socket) FireOnRequest() {
	s.mu.Lock()
	fn := s.onRequest
	s.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// NotifyStateChange invokes the callback registered via
// CtrlSetCallbackOnConnect exactly once, the first time prev was
// pre-established and next reaches ESTABLISHED.
func (s *Socket) NotifyStateChange(prev, next fsm.State) {
	if !prev.IsPreestablished() || next != fsm.Established {
		return
	}
	s.mu.Lock()
	fn := s.onConnect
	s.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// GetProfilingCounts reports a point-in-time snapshot of this socket's
// sequence-space position, ring occupancy and retransmit count (spec §6's
// GetProfilingCounts), the per-connection counterpart to svc.Metrics'
// process-wide Prometheus counters.
func (s *Socket) GetProfilingCounts() ProfilingCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	retransmits := 0
	s.cb.SendRing.Each(func(d *cb.BufferBlockDescriptor) bool {
		retransmits += d.Retries
		return true
	})
	return ProfilingCounts{
		SendUnacked:  uint32(s.cb.SendUnacked()),
		SendNext:     uint32(s.cb.SendNext()),
		RecvNext:     uint32(s.cb.RecvNext()),
		SendBuffered: s.cb.SendRing.Buffered(),
		RecvBuffered: s.cb.RecvRing.Buffered(),
		Retransmits:  retransmits,
		SRTT:         s.trk.RTO.SRTT(),
	}
}

// ProfilingCounts is the snapshot GetProfilingCounts returns.
type ProfilingCounts struct {
	SendUnacked  uint32
	SendNext     uint32
	RecvNext     uint32
	SendBuffered int
	RecvBuffered int
	Retransmits  int
	SRTT         time.Duration
}

// Dispose forcibly closes the socket and invokes the onRelease callback, the
// FSP counterpart of tcp.Conn.Abort.
func (s *Socket) Dispose() {
	s.mu.Lock()
	s.cb.SetState(fsm.Closed)
	s.abortErr = ErrClosed
	onRelease := s.onRelease
	s.mu.Unlock()
	if onRelease != nil {
		onRelease(s)
	}
}

// SetReadDeadline sets the deadline for RecvInline.
func (s *Socket) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	s.rdead = t
	return nil
}

// SetWriteDeadline sets the deadline for GetSendBuffer/Flush.
func (s *Socket) SetWriteDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	s.wdead = t
	return nil
}

func (s *Socket) checkOpenLocked() error {
	if s.abortErr != nil {
		return s.abortErr
	}
	if s.cb.State().IsClosed() {
		return ErrClosed
	}
	return nil
}

func (s *Socket) deadlineExceeded(deadline *time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !deadline.IsZero() && time.Since(*deadline) > 0
}

// WireOpcodeForBlock picks the outbound opcode for a just-filled send block,
// used by svc's transmit loop (spec §4.1): PERSIST/PURE_DATA/NULCOMMIT
// depending on whether it carries payload and ends a transaction.
func WireOpcodeForBlock(d *cb.BufferBlockDescriptor) wire.Opcode {
	switch {
	case d.Len == 0:
		return wire.NulCommit
	case d.HasFlag(cb.FlagCompleted):
		return wire.Persist
	default:
		return wire.PureData
	}
}

// WireFlagsForBlock mirrors a just-filled send block's local flags onto the
// wire.Flag bits the peer's handleNormal inspects: TransactionEnded so the
// peer's state machine follows the block into PEER_COMMIT, Compressed so it
// knows to inflate the payload before delivery.
func WireFlagsForBlock(d *cb.BufferBlockDescriptor) wire.Flag {
	var f wire.Flag
	if d.HasFlag(cb.FlagCompleted) {
		f |= wire.FlagTransactionEnded
	}
	if d.HasFlag(cb.FlagCompressed) {
		f |= wire.FlagCompressed
	}
	return f
}
