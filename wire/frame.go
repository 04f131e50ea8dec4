package wire

import (
	"encoding/binary"
	"errors"
)

const (
	// SizeFixedPrelude is the size in octets of the prelude common to every
	// FSP packet: {opCode, major, hsp} per spec §4.1.
	SizeFixedPrelude = 4
	// SizeNormalHeader is the size in octets of the normal header carried by
	// ACK_CONNECT_REQ-onward packets: prelude + flags_ws + sequenceNo +
	// expectedSN + integrity.
	SizeNormalHeader = 24
)

var (
	ErrShortBuffer   = errors.New("fsp/wire: buffer shorter than header")
	ErrBadBackLink   = errors.New("fsp/wire: extension header back-link out of bounds")
	ErrZeroSource    = errors.New("fsp/wire: zero source ALFID")
	ErrZeroDest      = errors.New("fsp/wire: zero destination ALFID")
	ErrPayloadOnOOB  = errors.New("fsp/wire: out-of-band opcode carries payload")
	ErrHSPOutOfRange = errors.New("fsp/wire: hsp field out of buffer range")
)

// Validator accumulates validation errors the way lneto.Validator does,
// letting callers choose between fail-fast (default) and Joined multi-error
// reporting.
type Validator struct {
	AllowMultiErrs bool
	accum          []error
}

func (v *Validator) ResetErr() { v.accum = v.accum[:0] }

func (v *Validator) Err() error {
	switch len(v.accum) {
	case 0:
		return nil
	case 1:
		return v.accum[0]
	default:
		return errors.Join(v.accum...)
	}
}

// ErrPop returns and clears the first accumulated error, mirroring
// lneto.Validator usage in tcp.Handler.Recv (tfrm.ValidateExceptCRC(&v);
// err = v.ErrPop()).
func (v *Validator) ErrPop() error {
	if len(v.accum) == 0 {
		return nil
	}
	err := v.accum[0]
	v.accum = v.accum[1:]
	return err
}

func (v *Validator) add(err error) {
	if len(v.accum) != 0 && !v.AllowMultiErrs {
		return
	}
	v.accum = append(v.accum, err)
}

// FixedPrelude is the 4-octet header common to every FSP packet.
type FixedPrelude struct {
	buf []byte
}

// NewFixedPrelude wraps buf, which must be at least SizeFixedPrelude long.
func NewFixedPrelude(buf []byte) (FixedPrelude, error) {
	if len(buf) < SizeFixedPrelude {
		return FixedPrelude{}, ErrShortBuffer
	}
	return FixedPrelude{buf: buf}, nil
}

func (p FixedPrelude) RawData() []byte { return p.buf }
func (p FixedPrelude) OpCode() Opcode  { return Opcode(p.buf[0]) }
func (p FixedPrelude) Major() uint8    { return p.buf[1] }

// HSP is the byte offset from the start of the FSP header to the start of
// the payload (spec §4.1, §6).
func (p FixedPrelude) HSP() uint16 { return binary.BigEndian.Uint16(p.buf[2:4]) }

func (p FixedPrelude) SetOpCode(op Opcode) { p.buf[0] = byte(op) }
func (p FixedPrelude) SetMajor(major uint8) { p.buf[1] = major }
func (p FixedPrelude) SetHSP(hsp uint16)    { binary.BigEndian.PutUint16(p.buf[2:4], hsp) }

// ValidateSize checks hsp lies within the buffer.
func (p FixedPrelude) ValidateSize(v *Validator, bufLen int) {
	if int(p.HSP()) > bufLen || p.HSP() < SizeFixedPrelude {
		v.add(ErrHSPOutOfRange)
	}
}

// NormalHeader is the 24-octet header format used from ACK_CONNECT_REQ
// onward: prelude ‖ flags_ws[4] ‖ sequenceNo ‖ expectedSN ‖ integrity.
type NormalHeader struct {
	buf []byte
}

// NewNormalHeader wraps buf, which must be at least SizeNormalHeader long.
func NewNormalHeader(buf []byte) (NormalHeader, error) {
	if len(buf) < SizeNormalHeader {
		return NormalHeader{}, ErrShortBuffer
	}
	return NormalHeader{buf: buf}, nil
}

func (h NormalHeader) Prelude() FixedPrelude { return FixedPrelude{buf: h.buf[:SizeFixedPrelude]} }
func (h NormalHeader) RawData() []byte       { return h.buf }

func (h NormalHeader) Flags() Flag { return Flag(h.buf[4]) }
func (h NormalHeader) SetFlags(f Flag) { h.buf[4] = byte(f) }

// AdvertisedWindow is the 24-bit big-endian receive window size in blocks
// carried in flags_ws[1..4].
func (h NormalHeader) AdvertisedWindow() uint32 {
	return uint32(h.buf[5])<<16 | uint32(h.buf[6])<<8 | uint32(h.buf[7])
}

func (h NormalHeader) SetAdvertisedWindow(wnd uint32) {
	h.buf[5] = byte(wnd >> 16)
	h.buf[6] = byte(wnd >> 8)
	h.buf[7] = byte(wnd)
}

func (h NormalHeader) SequenceNo() uint32 { return binary.BigEndian.Uint32(h.buf[8:12]) }
func (h NormalHeader) SetSequenceNo(sn uint32) {
	binary.BigEndian.PutUint32(h.buf[8:12], sn)
}

func (h NormalHeader) ExpectedSN() uint32 { return binary.BigEndian.Uint32(h.buf[12:16]) }
func (h NormalHeader) SetExpectedSN(sn uint32) {
	binary.BigEndian.PutUint32(h.buf[12:16], sn)
}

func (h NormalHeader) Integrity() uint64 { return binary.BigEndian.Uint64(h.buf[16:24]) }
func (h NormalHeader) SetIntegrity(v uint64) {
	binary.BigEndian.PutUint64(h.buf[16:24], v)
}

// AppendZeroIntegrity appends to dst a copy of the header with the integrity
// field zeroed, used both as CRC-64 input and as AEAD additional authenticated
// data (spec §4.2).
func (h NormalHeader) AppendZeroIntegrity(dst []byte) []byte {
	dst = append(dst, h.buf[:16]...)
	dst = append(dst, 0, 0, 0, 0, 0, 0, 0, 0)
	return dst
}

// ValidatePayload checks spec §4.1's "out-of-band opcodes carry no payload"
// invariant: KEEP_ALIVE/ACK_FLUSH/RESET consume no sequence space and must
// not smuggle data behind hsp.
func (h NormalHeader) ValidatePayload(v *Validator, op Opcode) {
	if op.IsOutOfBand() && len(h.Payload()) > 0 {
		v.add(ErrPayloadOnOOB)
	}
}

// Payload returns the bytes following hsp.
func (h NormalHeader) Payload() []byte {
	hsp := h.Prelude().HSP()
	if int(hsp) > len(h.buf) {
		return nil
	}
	return h.buf[hsp:]
}

// ExtensionHeader is a single link in the backward-chained extension list
// described in spec §4.1: {opCode, mark, length} with an implicit back-link
// equal to the extension's own start offset minus length.
type ExtensionHeader struct {
	buf []byte // the bytes of this single extension header, length-prefixed.
}

const sizeExtHeaderPrefix = 4 // opCode(1) + mark(1) + length(2 be)

func NewExtensionHeader(buf []byte) (ExtensionHeader, error) {
	if len(buf) < sizeExtHeaderPrefix {
		return ExtensionHeader{}, ErrShortBuffer
	}
	return ExtensionHeader{buf: buf}, nil
}

func (e ExtensionHeader) OpCode() Opcode   { return Opcode(e.buf[0]) }
func (e ExtensionHeader) Mark() uint8      { return e.buf[1] }
func (e ExtensionHeader) Length() uint16   { return binary.BigEndian.Uint16(e.buf[2:4]) }
func (e ExtensionHeader) Body() []byte     { return e.buf[sizeExtHeaderPrefix:e.Length()] }

func (e ExtensionHeader) SetOpCode(op Opcode) { e.buf[0] = byte(op) }
func (e ExtensionHeader) SetMark(m uint8)     { e.buf[1] = m }
func (e ExtensionHeader) SetLength(l uint16)  { binary.BigEndian.PutUint16(e.buf[2:4], l) }

// WalkExtensions walks the extension header chain head-to-tail, from
// fixedHeaderLen up to offset hsp within header (the full packet header region, prelude through
// hsp), calling fn for each extension found. It rejects chains whose
// back-link would leave [0,hsp) per spec §4.1.
//
// The chain is stored as a sequence of consecutive {opCode,mark,length}
// blocks starting right after the normal/init header and ending at hsp; each
// extension's "back-link" is simply its own start offset, which must always
// be >= the end of the preceding fixed header and < hsp.
func WalkExtensions(header []byte, fixedHeaderLen int, hsp int, fn func(ExtensionHeader) error) error {
	if hsp > len(header) || hsp < fixedHeaderLen {
		return ErrHSPOutOfRange
	}
	off := fixedHeaderLen
	for off < hsp {
		remaining := header[off:hsp]
		ext, err := NewExtensionHeader(remaining)
		if err != nil {
			return err
		}
		length := int(ext.Length())
		if length < sizeExtHeaderPrefix || off+length > hsp {
			return ErrBadBackLink
		}
		ext.buf = remaining[:length]
		if err := fn(ext); err != nil {
			return err
		}
		off += length
	}
	if off != hsp {
		return ErrBadBackLink
	}
	return nil
}

// PeerSubnetsExt is the PEER_SUBNETS extension body: 4 u64 subnet prefixes
// plus the listener ALFID (spec §6).
type PeerSubnetsExt struct {
	buf []byte
}

const SizePeerSubnetsBody = 4*8 + 4

func NewPeerSubnetsExt(body []byte) (PeerSubnetsExt, error) {
	if len(body) < SizePeerSubnetsBody {
		return PeerSubnetsExt{}, ErrShortBuffer
	}
	return PeerSubnetsExt{buf: body}, nil
}

func (p PeerSubnetsExt) Prefix(i int) uint64 {
	return binary.BigEndian.Uint64(p.buf[i*8 : i*8+8])
}
func (p PeerSubnetsExt) SetPrefix(i int, v uint64) {
	binary.BigEndian.PutUint64(p.buf[i*8:i*8+8], v)
}
func (p PeerSubnetsExt) ListenerALFID() uint32 {
	return binary.BigEndian.Uint32(p.buf[32:36])
}
func (p PeerSubnetsExt) SetListenerALFID(alfid uint32) {
	binary.BigEndian.PutUint32(p.buf[32:36], alfid)
}

// SNACKGap is a single {gapWidth, dataLength} pair of the SELECTIVE_NACK
// extension (spec §4.1, §4.4): gapWidth packets are missing, followed by
// dataLength packets known received.
type SNACKGap struct {
	GapWidth  uint16
	DataLength uint16
}

// SelectiveNackExt is the SELECTIVE_NACK extension body: ack-serial,
// latest-SN, lazy-ack delay, followed by a run of SNACKGap pairs.
type SelectiveNackExt struct {
	buf []byte
}

const sizeSNACKHeader = 4 + 4 + 2 // ackSerial(u32) + latestSN(u32) + lazyAckDelay(u16)

func NewSelectiveNackExt(body []byte) (SelectiveNackExt, error) {
	if len(body) < sizeSNACKHeader {
		return SelectiveNackExt{}, ErrShortBuffer
	}
	return SelectiveNackExt{buf: body}, nil
}

func (s SelectiveNackExt) AckSerial() uint32   { return binary.BigEndian.Uint32(s.buf[0:4]) }
func (s SelectiveNackExt) LatestSN() uint32    { return binary.BigEndian.Uint32(s.buf[4:8]) }
func (s SelectiveNackExt) LazyAckDelay() uint16 { return binary.BigEndian.Uint16(s.buf[8:10]) }

func (s SelectiveNackExt) SetAckSerial(v uint32)  { binary.BigEndian.PutUint32(s.buf[0:4], v) }
func (s SelectiveNackExt) SetLatestSN(v uint32)   { binary.BigEndian.PutUint32(s.buf[4:8], v) }
func (s SelectiveNackExt) SetLazyAckDelay(v uint16) { binary.BigEndian.PutUint16(s.buf[8:10], v) }

// NumGaps returns the number of {gapWidth,dataLength} pairs following the
// fixed SNACK header.
func (s SelectiveNackExt) NumGaps() int {
	return (len(s.buf) - sizeSNACKHeader) / 4
}

func (s SelectiveNackExt) Gap(i int) SNACKGap {
	off := sizeSNACKHeader + i*4
	return SNACKGap{
		GapWidth:   binary.BigEndian.Uint16(s.buf[off : off+2]),
		DataLength: binary.BigEndian.Uint16(s.buf[off+2 : off+4]),
	}
}

func (s SelectiveNackExt) SetGap(i int, g SNACKGap) {
	off := sizeSNACKHeader + i*4
	binary.BigEndian.PutUint16(s.buf[off:off+2], g.GapWidth)
	binary.BigEndian.PutUint16(s.buf[off+2:off+4], g.DataLength)
}
