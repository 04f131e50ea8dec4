// Package svc implements the SVC half of spec §4.8: the process that owns
// sockets, session keys and the wire transports, dispatching inbound packets
// into fsm/cb/reliability and driving the retransmission and keep-alive
// timers. Its dispatch loop is grounded on tcp.Handler.Recv's per-opcode
// switch (handler.go) generalized to FSP's fourteen opcodes, and its timer
// pool mirrors a single-goroutine variant of tcp.Listener.maintainConns.
package svc

import (
	"net/netip"
)

// Envelope carries the transport-layer addressing spec §4.7/§6 keeps
// separate from the FSP payload itself: the ALFID pair naming the
// connection and the peer socket address observed for this datagram
// (used by the mobility package to track path changes).
type Envelope struct {
	LocalALFID  uint32
	RemoteALFID uint32
	RemoteAddr  netip.AddrPort
}

// Transport abstracts the two wire transports spec §6 names: raw IPv6
// (protocol 144) and the UDP/IPv4 tunnel (port 18003). Both move a
// length-delimited FSP packet alongside the ALFID pair needed to demux it,
// since only the UDP tunnel carries that pair on the wire itself — the raw
// IPv6 transport's Recv fills in only the peer address and leaves the ALFID
// pair for the caller to take from the decoded FSP packet.
type Transport interface {
	Send(env Envelope, packet []byte) error
	Recv(buf []byte) (Envelope, int, error)
	LocalAddr() netip.AddrPort
	Close() error
}
