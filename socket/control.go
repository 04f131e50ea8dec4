package socket

import (
	"errors"
	"net/netip"
)

// ControlCode selects the out-of-band operation FSPControl performs, the Go
// counterpart of the original API's ioctl-style control codes (spec §6).
type ControlCode uint8

const (
	// CtrlGetExtPointer returns the application-opaque pointer last stashed
	// by CtrlSetExtPointer, nil before one is ever set.
	CtrlGetExtPointer ControlCode = iota
	// CtrlSetExtPointer stashes arg as the socket's application-opaque
	// pointer, retrievable later via CtrlGetExtPointer. Typical use is
	// attaching a per-connection application context without a side table.
	CtrlSetExtPointer
	// CtrlSetCallbackOnError installs a func(*Socket, error) invoked from
	// svc's dispatch loop whenever an inbound packet fails integrity
	// verification or names an illegal state transition.
	CtrlSetCallbackOnError
	// CtrlSetCallbackOnRequest installs a func(*Socket) invoked once when a
	// Listener admits this socket as a newly arrived candidate connection.
	CtrlSetCallbackOnRequest
	// CtrlSetCallbackOnConnect installs a func(*Socket) invoked once when
	// this socket's first handshake completes (any pre-ESTABLISHED state
	// reaching ESTABLISHED).
	CtrlSetCallbackOnConnect
	// CtrlGetPeerCommitted reports whether the peer has sent its half of an
	// end-of-transaction COMMIT (spec §4.5's PEER_COMMIT/COMMITTING2 split).
	CtrlGetPeerCommitted
)

var (
	ErrBadControlCode = errors.New("fsp/socket: unrecognized control code")
	ErrBadControlArg  = errors.New("fsp/socket: control argument of wrong type")
)

// FSPControl performs an out-of-band control operation named by code,
// the single escape hatch spec §6 specifies alongside the data-path API for
// everything that isn't a read or write: stashing an application pointer,
// installing event callbacks, and querying peer commit state.
func (s *Socket) FSPControl(code ControlCode, arg any) (any, error) {
	switch code {
	case CtrlGetExtPointer:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.ext, nil

	case CtrlSetExtPointer:
		s.mu.Lock()
		defer s.mu.Unlock()
		s.ext = arg
		return nil, nil

	case CtrlSetCallbackOnError:
		fn, ok := arg.(func(*Socket, error))
		if !ok {
			return nil, ErrBadControlArg
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.onError = fn
		return nil, nil

	case CtrlSetCallbackOnRequest:
		fn, ok := arg.(func(*Socket))
		if !ok {
			return nil, ErrBadControlArg
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.onRequest = fn
		return nil, nil

	case CtrlSetCallbackOnConnect:
		fn, ok := arg.(func(*Socket))
		if !ok {
			return nil, ErrBadControlArg
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.onConnect = fn
		return nil, nil

	case CtrlGetPeerCommitted:
		return s.ControlBlock().PeerCommitted(), nil

	default:
		return nil, ErrBadControlCode
	}
}

// defaultUDPTunnelPort mirrors svc.DefaultUDPTunnelPort; duplicated here
// rather than imported since svc already imports socket and Go forbids the
// cycle.
const defaultUDPTunnelPort = 18003

// TranslateFSPoverIPv4 builds the netip.AddrPort svc's UDP tunnel transport
// dials to reach fiberID at ipv4Addr, for hosts that cannot obtain a raw
// IPv6 socket (spec §6). The original API filled in a 6to4-prefixed
// FSP_IN6_ADDR and returned a pointer to its host-id field for later
// resolution (Establish.cpp's TranslateFSPoverIPv4); the tunnel transport
// here carries the ALFID pair in its own envelope prefix instead of an
// embedded IPv6 address, so only the reachable address/port need be
// produced.
func TranslateFSPoverIPv4(ipv4Addr netip.Addr, fiberID uint32) netip.AddrPort {
	_ = fiberID // folded into the UDP tunnel envelope by svc.Envelope, not the address
	return netip.AddrPortFrom(ipv4Addr.Unmap(), defaultUDPTunnelPort)
}
