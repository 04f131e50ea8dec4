package fsm

import (
	"errors"

	"github.com/fspnet/fsp/wire"
)

var ErrIllegalTransition = errors.New("fsm: no legal transition for state/event pair")

// LocalEvent enumerates the system calls the LIB half of the socket (spec
// §4.8) can issue against the state machine, the send-side counterpart to
// OnReceive's wire-driven events.
type LocalEvent uint8

const (
	EvListen LocalEvent = iota
	EvConnect
	EvAccept
	EvCommit
	EvShutdown
	EvMultiply
	EvReset
	EvTimeout
)

// OnReceive advances current in response to an inbound packet carrying
// opcode, returning ErrIllegalTransition if no edge of spec §4.3's state
// diagram accepts that opcode while in the current state. transactionEnded
// reflects the TransactionEnded flag of the packet just processed, which
// governs the COMMITTING/COMMITTED branches.
func OnReceive(current State, op wire.Opcode, transactionEnded bool) (State, error) {
	switch current {
	case NonExistent:
		if op == wire.InitConnect {
			return ConnectBootstrap, nil
		}
	case Listening:
		switch op {
		case wire.InitConnect:
			return ConnectBootstrap, nil
		case wire.ConnectReq:
			return ConnectAffirming, nil
		}
	case ConnectBootstrap:
		switch op {
		case wire.AckInitConn:
			// initiator: responder's key material arrived, echo the cookie next.
			return ConnectAffirming, nil
		case wire.ConnectReq:
			// responder: cookie already verified by the caller before this call,
			// so CONNECT_REQUEST takes it straight to CHALLENGING (spec §9.1).
			return Challenging, nil
		}
	case ConnectAffirming:
		switch op {
		case wire.AckConnectReq:
			return Challenging, nil
		case wire.ConnectReq:
			return ConnectAffirming, nil // retransmitted CONNECT_REQUEST, stay put.
		}
	case Challenging:
		switch op {
		case wire.Persist:
			return Established, nil
		case wire.Multiply:
			return Cloning, nil
		}
	case Cloning:
		if op == wire.Persist || op == wire.PureData {
			return Established, nil
		}
	case Established:
		switch op {
		case wire.PureData, wire.KeepAlive, wire.SelectiveNack, wire.PeerSubnets:
			return Established, nil
		case wire.Persist:
			if transactionEnded {
				return PeerCommit, nil
			}
			return Established, nil
		case wire.NulCommit:
			return PeerCommit, nil
		case wire.Release:
			return Closable, nil
		case wire.Multiply:
			// the clone itself is tracked as a separate child ControlBlock in
			// CLONING; the parent stays ESTABLISHED (spec §4.6).
			return Established, nil
		}
	case Committing:
		switch op {
		case wire.AckFlush:
			return Committed, nil
		case wire.Persist, wire.NulCommit:
			return Committing2, nil
		}
	case Committed:
		switch op {
		case wire.Persist, wire.NulCommit:
			return Closable, nil
		case wire.Release:
			return Closable, nil
		}
	case PeerCommit:
		switch op {
		case wire.AckFlush:
			return ShutRequested, nil
		case wire.Release:
			return Closable, nil
		}
	case Committing2:
		if op == wire.AckFlush {
			return Closable, nil
		}
	case ShutRequested:
		if op == wire.Release {
			return Closable, nil
		}
	case Closable:
		if op == wire.Release {
			return Closed, nil
		}
	case PreClosed:
		if op == wire.Release {
			return Closed, nil
		}
	}
	if op == wire.Reset {
		return Closed, nil
	}
	return current, ErrIllegalTransition
}

// OnLocal advances current in response to a local system call.
func OnLocal(current State, ev LocalEvent) (State, error) {
	switch ev {
	case EvListen:
		if current == NonExistent {
			return Listening, nil
		}
	case EvConnect:
		if current == NonExistent {
			return ConnectBootstrap, nil
		}
	case EvMultiply:
		if current == Established {
			return Cloning, nil
		}
	case EvCommit:
		switch current {
		case Established:
			return Committing, nil
		case PeerCommit:
			return Committing2, nil
		}
	case EvShutdown:
		switch current {
		case Closable, Committed:
			return PreClosed, nil
		}
	case EvReset, EvTimeout:
		return Closed, nil
	}
	return current, ErrIllegalTransition
}
