package svc

import (
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
)

// DefaultUDPTunnelPort is the alternate transport's well-known port (spec
// §6): the ASCII bytes 'F','S' read as a big-endian uint16 would be 0x4653
// (18003 is the decimal port the spec assigns directly).
const DefaultUDPTunnelPort = 18003

// sizeALFIDPair is the length of the UDP tunnel's envelope prefix: both
// ALFIDs of the pair naming the connection, full 32 bits each so a single
// tunnel listener can multiplex arbitrarily many (not just well-known <=
// 65535) ALFIDs, per spec §2's ALFID definition.
const sizeALFIDPair = 8

var ErrShortEnvelope = errors.New("fsp/svc: UDP tunnel packet shorter than ALFID-pair prefix")

// UDPTunnel implements Transport by prefixing every datagram with the
// {localALFID, remoteALFID} pair, the alternate transport of spec §6 for
// hosts that cannot obtain a raw IPv6 socket.
type UDPTunnel struct {
	conn *net.UDPConn
}

// ListenUDPTunnel binds the UDP tunnel on the given local port (0 picks an
// ephemeral port for outbound-only use).
func ListenUDPTunnel(port uint16) (*UDPTunnel, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, err
	}
	return &UDPTunnel{conn: conn}, nil
}

func (t *UDPTunnel) Send(env Envelope, packet []byte) error {
	out := make([]byte, sizeALFIDPair+len(packet))
	binary.BigEndian.PutUint32(out[0:4], env.LocalALFID)
	binary.BigEndian.PutUint32(out[4:8], env.RemoteALFID)
	copy(out[sizeALFIDPair:], packet)
	dst := net.UDPAddrFromAddrPort(env.RemoteAddr)
	_, err := t.conn.WriteToUDP(out, dst)
	return err
}

func (t *UDPTunnel) Recv(buf []byte) (Envelope, int, error) {
	scratch := make([]byte, len(buf)+sizeALFIDPair)
	n, addr, err := t.conn.ReadFromUDPAddrPort(scratch)
	if err != nil {
		return Envelope{}, 0, err
	}
	if n < sizeALFIDPair {
		return Envelope{}, 0, ErrShortEnvelope
	}
	env := Envelope{
		LocalALFID:  binary.BigEndian.Uint32(scratch[0:4]),
		RemoteALFID: binary.BigEndian.Uint32(scratch[4:8]),
		RemoteAddr:  addr,
	}
	copy(buf, scratch[sizeALFIDPair:n])
	return env, n - sizeALFIDPair, nil
}

func (t *UDPTunnel) LocalAddr() netip.AddrPort {
	return t.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (t *UDPTunnel) Close() error { return t.conn.Close() }
