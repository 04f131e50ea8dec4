package wire

import "encoding/binary"

// SizeBootstrapHeader is the octet length of the packet format carried by
// INIT_CONNECT, ACK_INIT_CONNECT and CONNECT_REQUEST: the prelude plus
// {sourceALFID, destALFID, salt, checkCode, cookie, publicKey} (spec §9.1).
// These three opcodes predate a ControlBlock and carry their ALFID pair and
// handshake material in-band, unlike ACK_CONNECT_REQ-onward packets which use
// NormalHeader and get their ALFID pair from the transport envelope instead.
const SizeBootstrapHeader = SizeFixedPrelude + 4 + 4 + 4 + 8 + 8 + 32

// BootstrapHeader is the fixed-offset layout of the pre-connection handshake.
// Which fields matter depends on the opcode carrying it: INIT_CONNECT sets
// sourceALFID/destALFID/salt/checkCode; ACK_INIT_CONNECT and CONNECT_REQUEST
// additionally carry a cookie and the sender's ephemeral Curve25519 public
// key, left zero on INIT_CONNECT.
type BootstrapHeader struct {
	buf []byte
}

// NewBootstrapHeader wraps buf, which must be at least SizeBootstrapHeader
// long.
func NewBootstrapHeader(buf []byte) (BootstrapHeader, error) {
	if len(buf) < SizeBootstrapHeader {
		return BootstrapHeader{}, ErrShortBuffer
	}
	return BootstrapHeader{buf: buf}, nil
}

func (h BootstrapHeader) Prelude() FixedPrelude { return FixedPrelude{buf: h.buf[:SizeFixedPrelude]} }
func (h BootstrapHeader) RawData() []byte       { return h.buf }

func (h BootstrapHeader) SourceALFID() uint32 {
	return binary.BigEndian.Uint32(h.buf[4:8])
}
func (h BootstrapHeader) SetSourceALFID(v uint32) { binary.BigEndian.PutUint32(h.buf[4:8], v) }

func (h BootstrapHeader) DestALFID() uint32 {
	return binary.BigEndian.Uint32(h.buf[8:12])
}
func (h BootstrapHeader) SetDestALFID(v uint32) { binary.BigEndian.PutUint32(h.buf[8:12], v) }

func (h BootstrapHeader) Salt() uint32 { return binary.BigEndian.Uint32(h.buf[12:16]) }
func (h BootstrapHeader) SetSalt(v uint32) { binary.BigEndian.PutUint32(h.buf[12:16], v) }

func (h BootstrapHeader) CheckCode() uint64 { return binary.BigEndian.Uint64(h.buf[16:24]) }
func (h BootstrapHeader) SetCheckCode(v uint64) { binary.BigEndian.PutUint64(h.buf[16:24], v) }

func (h BootstrapHeader) Cookie() uint64 { return binary.BigEndian.Uint64(h.buf[24:32]) }
func (h BootstrapHeader) SetCookie(v uint64) { binary.BigEndian.PutUint64(h.buf[24:32], v) }

func (h BootstrapHeader) PublicKey() (pk [32]byte) {
	copy(pk[:], h.buf[32:64])
	return pk
}
func (h BootstrapHeader) SetPublicKey(pk [32]byte) { copy(h.buf[32:64], pk[:]) }

// Validate checks the ALFID fields every bootstrap packet must carry: a zero
// source or destination ALFID can never name a real endpoint (spec §4.1).
func (h BootstrapHeader) Validate(v *Validator) {
	if h.SourceALFID() == 0 {
		v.add(ErrZeroSource)
	}
	if h.DestALFID() == 0 {
		v.add(ErrZeroDest)
	}
}
