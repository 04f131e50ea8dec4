//go:build linux

package svc

import (
	"errors"
	"net/netip"

	"golang.org/x/sys/unix"
)

// fspIPProtocol is FSP's assigned IP protocol number (spec §6).
const fspIPProtocol = 144

// RawIPv6 implements Transport over a raw IPv6 socket bound to protocol 144,
// the default transport of spec §6. It is grounded on the AF_PACKET raw
// socket idiom of rawcap.LinuxHandle (openLive/configure: unix.Socket +
// unix.Bind + unix.Sendto/Recvfrom) adapted from AF_PACKET/link-layer
// capture to AF_INET6/IPPROTO_FSP datagram delivery, which needs no
// interface bind, only a local address.
type RawIPv6 struct {
	fd   int
	addr netip.Addr
}

// NewRawIPv6 opens a raw IPv6 socket for protocol 144 bound to localAddr.
// Requires CAP_NET_RAW.
func NewRawIPv6(localAddr netip.Addr) (*RawIPv6, error) {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_RAW, fspIPProtocol)
	if err != nil {
		return nil, err
	}
	sa := &unix.SockaddrInet6{}
	sa.Addr = localAddr.As16()
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &RawIPv6{fd: fd, addr: localAddr}, nil
}

// Send writes packet to the peer; the ALFID pair travels inside the FSP
// header itself for this transport (INIT_CONNECT/CONNECT_REQUEST carry it
// explicitly, later packets are demultiplexed through the dispatcher's
// per-connection socket map keyed by remote address+ALFID), so env.RemoteAddr
// is the only field Send consults.
func (t *RawIPv6) Send(env Envelope, packet []byte) error {
	sa := &unix.SockaddrInet6{Port: 0}
	sa.Addr = env.RemoteAddr.Addr().As16()
	return unix.Sendto(t.fd, packet, 0, sa)
}

var errNotInet6 = errors.New("fsp/svc: raw IPv6 recvfrom returned non-AF_INET6 address")

// Recv reads the next inbound datagram. The caller's dispatcher is
// responsible for extracting the ALFID pair from the decoded FSP header and
// filling it into the returned Envelope, since RawIPv6 itself only sees
// opaque FSP payload plus the peer's IP address.
func (t *RawIPv6) Recv(buf []byte) (Envelope, int, error) {
	n, from, err := unix.Recvfrom(t.fd, buf, 0)
	if err != nil {
		return Envelope{}, 0, err
	}
	sa, ok := from.(*unix.SockaddrInet6)
	if !ok {
		return Envelope{}, n, errNotInet6
	}
	addr := netip.AddrFrom16(sa.Addr)
	return Envelope{RemoteAddr: netip.AddrPortFrom(addr, 0)}, n, nil
}

func (t *RawIPv6) LocalAddr() netip.AddrPort {
	return netip.AddrPortFrom(t.addr, 0)
}

func (t *RawIPv6) Close() error { return unix.Close(t.fd) }
