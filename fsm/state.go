// Package fsm implements the FSP connection state machine of spec §4.3: the
// 15-state lifecycle a socket progresses through, and the Recv/Send
// transition tables that drive it. Its shape mirrors
// github.com/soypat/lneto/tcp's State type and ControlBlock.Recv/Send
// dispatch: a small uint8 enum with predicate methods, and per-state switch
// statements rather than a generic transition table, so each state's
// behavior reads as a single, auditable block.
package fsm

// State enumerates the states of spec §4.3's socket lifecycle.
type State uint8

const (
	NonExistent State = iota
	Listening
	ConnectBootstrap
	ConnectAffirming
	Challenging
	Cloning
	Established
	Committing
	Committed
	PeerCommit
	Committing2
	Closable
	ShutRequested
	PreClosed
	Closed
)

func (s State) String() string {
	switch s {
	case NonExistent:
		return "NON_EXISTENT"
	case Listening:
		return "LISTENING"
	case ConnectBootstrap:
		return "CONNECT_BOOTSTRAP"
	case ConnectAffirming:
		return "CONNECT_AFFIRMING"
	case Challenging:
		return "CHALLENGING"
	case Cloning:
		return "CLONING"
	case Established:
		return "ESTABLISHED"
	case Committing:
		return "COMMITTING"
	case Committed:
		return "COMMITTED"
	case PeerCommit:
		return "PEER_COMMIT"
	case Committing2:
		return "COMMITTING2"
	case Closable:
		return "CLOSABLE"
	case ShutRequested:
		return "SHUT_REQUESTED"
	case PreClosed:
		return "PRE_CLOSED"
	case Closed:
		return "CLOSED"
	default:
		return "State(?)"
	}
}

// IsPreestablished returns true for the handshake states preceding the first
// ESTABLISHED/COMMITTING transition.
func (s State) IsPreestablished() bool {
	switch s {
	case Listening, ConnectBootstrap, ConnectAffirming, Challenging, Cloning:
		return true
	default:
		return false
	}
}

// IsSynchronized returns true once the connection has been through
// ESTABLISHED at least once, i.e. data may legally have flowed.
func (s State) IsSynchronized() bool {
	return s >= Established && s != Closed
}

// IsClosing returns true for any state in the active or passive shutdown
// sequence (spec §4.3's COMMITTING..PRE_CLOSED run).
func (s State) IsClosing() bool {
	switch s {
	case Committing, Committed, PeerCommit, Committing2, Closable, ShutRequested, PreClosed:
		return true
	default:
		return false
	}
}

// IsClosed returns true if the state is the terminal CLOSED pseudo-state or
// the pre-handshake NON_EXISTENT one.
func (s State) IsClosed() bool {
	return s == Closed || s == NonExistent
}

// AcceptsPayload returns true if a PERSIST/PURE_DATA carrying new octets is
// legal to receive while in state s.
func (s State) AcceptsPayload() bool {
	switch s {
	case Established, Committing, Committed, PeerCommit, Cloning:
		return true
	default:
		return false
	}
}

// CanSend reports whether the local side may still originate new data
// (false once a local COMMIT has been issued, spec §4.3/§4.5).
func (s State) CanSend() bool {
	switch s {
	case Established, PeerCommit, Cloning:
		return true
	default:
		return false
	}
}

// IsAlive reports whether a MULTIPLY may legally be originated locally from
// s: any state from ESTABLISHED through CLOSABLE, i.e. the connection has
// completed its handshake and has not yet been reset (spec §4.6: "any alive
// connection may originate a MULTIPLY").
func (s State) IsAlive() bool {
	switch s {
	case Established, Committing, Committed, PeerCommit, Committing2, Closable:
		return true
	default:
		return false
	}
}
