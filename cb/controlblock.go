package cb

import (
	"errors"
	"log/slog"

	"github.com/fspnet/fsp/fsm"
	"github.com/fspnet/fsp/internal"
	"github.com/fspnet/fsp/seq"
)

// ErrOutOfOrder is returned by DeliverRecv when the sequence number of an
// inbound block falls outside the locally advertised receive window (a
// stale duplicate behind the frontier, or a block too far ahead of it).
var ErrOutOfOrder = errors.New("fsp/cb: block out of receive order")

// recvPending is an out-of-order receive block buffered ahead of
// rcv.NXT until the gap preceding it closes.
type recvPending struct {
	payload []byte
	flags   BlockFlag
}

// sendSpace mirrors tcp.sendSpace: ISS/UNA/NXT/WND over the send ring's
// sequence space (spec §4.4).
type sendSpace struct {
	ISS seq.Value
	UNA seq.Value
	NXT seq.Value
	WND seq.Size
}

func (snd *sendSpace) inFlight() seq.Size { return seq.Sizeof(snd.UNA, snd.NXT) }
func (snd *sendSpace) maxSend() seq.Size  { return snd.WND - snd.inFlight() }

// recvSpace mirrors tcp.recvSpace for the receive side.
type recvSpace struct {
	IRS seq.Value
	NXT seq.Value
	WND seq.Size
}

// ConnectParams holds the negotiated parameters of the bootstrap handshake
// (spec §4.7): the local and peer ALFIDs, the initial sequence number and
// the session's crypto salt, set once at CONNECT_AFFIRMING/CHALLENGING and
// read-only thereafter.
type ConnectParams struct {
	LocalALFID  uint32
	RemoteALFID uint32
	InitialSN   seq.Value
	SessionSalt uint32
}

// ControlBlock is the shared state a socket's LIB and SVC halves coordinate
// through: sequence spaces, the send/receive block rings, connect
// parameters and a backlog/notice ring for events the LIB side has not yet
// consumed. Shape and method names follow tcp.ControlBlock (control.go):
// unexported sendSpace/recvSpace fields, an embedded logger, small targeted
// accessors instead of exposing the spaces directly.
type ControlBlock struct {
	snd sendSpace
	rcv recvSpace

	state fsm.State

	Params ConnectParams

	SendRing *BlockRing
	RecvRing *BlockRing

	// pending holds receive blocks that arrived ahead of rcv.NXT, keyed by
	// their starting sequence number, until the gap behind them closes and
	// they can be scanned into the receive ring in order (spec §4.4:
	// recvWindowExpectedSN advances by scanning forward while IS_FULFILLED
	// holds, which requires slots ahead of the frontier to be fillable).
	pending map[seq.Value]recvPending

	// peerCommitted latches once an inbound block arrives with
	// FlagTransactionEnded set, i.e. the peer has sent its half of a COMMIT
	// (spec §4.5). Read through FSPControl's CtrlGetPeerCommitted.
	peerCommitted bool

	// Notices is a byte ring of JSON-framed events destined for the LIB
	// half (spec §4.8): connection state changes, arrival of new
	// deliverable data, peer subnet changes.
	Notices internal.Ring

	internal.Logger
}

// NewControlBlock allocates a ControlBlock with sendWindow/recvWindow
// blocks in their respective rings.
func NewControlBlock(sendWindowBlocks, recvWindowBlocks int) *ControlBlock {
	return &ControlBlock{
		SendRing: NewBlockRing(sendWindowBlocks, SendBlockSize),
		RecvRing: NewBlockRing(recvWindowBlocks, RecvBlockSize),
		pending:  make(map[seq.Value]recvPending),
		Notices:  internal.Ring{Buf: make([]byte, 4096)},
	}
}

func (cb *ControlBlock) State() fsm.State { return cb.state }

// SetState forcibly overrides the cached state; fsm.OnReceive/OnLocal should
// normally be the only callers, through svc's dispatch loop.
func (cb *ControlBlock) SetState(s fsm.State) { cb.state = s }

func (cb *ControlBlock) SetLogger(log *slog.Logger) { cb.Logger = internal.Logger{Log: log} }

// PeerCommitted reports whether the peer has sent its half of a COMMIT.
func (cb *ControlBlock) PeerCommitted() bool { return cb.peerCommitted }

// SetPeerCommitted latches the peer-committed flag; called by svc's dispatch
// loop once an inbound block carries FlagTransactionEnded.
func (cb *ControlBlock) SetPeerCommitted() { cb.peerCommitted = true }

// SendNext returns the next sequence number available for new data.
func (cb *ControlBlock) SendNext() seq.Value { return cb.snd.NXT }

// SendUnacked returns the oldest sequence number not yet acknowledged.
func (cb *ControlBlock) SendUnacked() seq.Value { return cb.snd.UNA }

// RecvNext returns the next sequence number expected from the peer.
func (cb *ControlBlock) RecvNext() seq.Value { return cb.rcv.NXT }

// RecvWindow returns the currently advertised receive window, in blocks.
func (cb *ControlBlock) RecvWindow() seq.Size { return cb.rcv.WND }

// SetRecvWindow sets the locally advertised receive window.
func (cb *ControlBlock) SetRecvWindow(wnd seq.Size) { cb.rcv.WND = wnd }

// MaxInFlightData returns how many additional blocks (one sequence number
// each) may be sent before
// hitting the peer's advertised send window.
func (cb *ControlBlock) MaxInFlightData() seq.Size {
	if !cb.state.IsSynchronized() {
		return 0
	}
	return cb.snd.maxSend()
}

// ResetSend reinitializes the send sequence space at the start of a
// connection or after a MULTIPLY clone (spec §4.6).
func (cb *ControlBlock) ResetSend(iss seq.Value, peerWnd seq.Size) {
	cb.snd = sendSpace{ISS: iss, UNA: iss, NXT: iss, WND: peerWnd}
}

// ResetRecv reinitializes the receive sequence space from the peer's
// initial sequence number.
func (cb *ControlBlock) ResetRecv(localWnd seq.Size, irs seq.Value) {
	cb.rcv = recvSpace{IRS: irs, NXT: irs, WND: localWnd}
}

// AllocSend reserves the next send-ring block at sequence cb.snd.NXT and
// advances NXT by one: every block, regardless of payload length, consumes
// exactly one sequence number (spec §4.1's sequenceNo numbers blocks, not
// octets).
func (cb *ControlBlock) AllocSend(payloadLen int) (*BufferBlockDescriptor, error) {
	d, err := cb.SendRing.Alloc(cb.snd.NXT)
	if err != nil {
		return nil, err
	}
	cb.snd.NXT = seq.Add(cb.snd.NXT, 1)
	return d, nil
}

// AckSend advances UNA to ackSN and recycles any now-fully-acknowledged
// blocks at the head of the send ring (spec §4.4/§4.5 cumulative-ACK path).
func (cb *ControlBlock) AckSend(ackSN seq.Value) {
	if ackSN.LessThan(cb.snd.UNA) || cb.snd.NXT.LessThan(ackSN) {
		return // stale or bogus ack, ignore.
	}
	cb.snd.UNA = ackSN
	for {
		head, err := cb.SendRing.Head()
		if err != nil {
			return
		}
		end := seq.Add(head.SN, 1)
		if end.LessThanEq(ackSN) {
			head.SetFlag(FlagAcknowledged)
			cb.SendRing.Advance()
			continue
		}
		return
	}
}

// DeliverRecv places an inbound block at sequence sn. A block matching
// rcv.NXT is appended straight to the receive ring; a block ahead of NXT but
// still inside the advertised receive window is buffered in pending until
// the gap behind it closes. Either way, once the contiguous frontier can
// advance, DeliverRecv scans pending forward draining every block that is
// now contiguous, fulfilling spec §4.4's "advances by scanning forward while
// IS_FULFILLED holds." A block behind NXT (stale duplicate) or beyond the
// window is rejected with ErrOutOfOrder.
func (cb *ControlBlock) DeliverRecv(sn seq.Value, payload []byte, flags BlockFlag) error {
	if sn != cb.rcv.NXT {
		if !sn.InWindow(cb.rcv.NXT, cb.rcv.WND) {
			return ErrOutOfOrder
		}
		buf := make([]byte, len(payload))
		copy(buf, payload)
		cb.pending[sn] = recvPending{payload: buf, flags: flags}
		return nil
	}
	if err := cb.deliverContiguous(sn, payload, flags); err != nil {
		return err
	}
	for {
		next, ok := cb.pending[cb.rcv.NXT]
		if !ok {
			break
		}
		delete(cb.pending, cb.rcv.NXT)
		if err := cb.deliverContiguous(cb.rcv.NXT, next.payload, next.flags); err != nil {
			return err
		}
	}
	return nil
}

// deliverContiguous appends a block known to sit exactly at rcv.NXT to the
// receive ring and advances the frontier past it by one sequence number,
// matching AllocSend's one-SN-per-block accounting on the send side.
func (cb *ControlBlock) deliverContiguous(sn seq.Value, payload []byte, flags BlockFlag) error {
	d, err := cb.RecvRing.Alloc(sn)
	if err != nil {
		return err
	}
	n := copy(d.Data, payload)
	d.Len = n
	d.SetFlag(flags | FlagFulfilled)
	cb.rcv.NXT = seq.Add(cb.rcv.NXT, 1)
	return nil
}
