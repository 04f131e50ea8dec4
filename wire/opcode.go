// Package wire implements the FSP packet codec of spec §4.1/§6: the 4-octet
// fixed prelude, the 24-octet normal header carried by ACK_CONNECT_REQ-onward
// packets, and the backward-chained extension headers. It is built the same
// way github.com/soypat/lneto's frame types (EthFrame, TCPFrame, ...) expose
// fixed-offset big-endian accessors over a raw []byte, validated through an
// accumulating Validator instead of erroring out on first defect.
package wire

//go:generate stringer -type=Opcode -linecomment -output opcode_string.go .

// Opcode enumerates the FSP wire opcodes of spec §4.1.
type Opcode uint8

const (
	InitConnect   Opcode = 1  // INIT_CONNECT
	AckInitConn   Opcode = 2  // ACK_INIT_CONNECT
	ConnectReq    Opcode = 3  // CONNECT_REQUEST
	AckConnectReq Opcode = 4  // ACK_CONNECT_REQ
	Reset         Opcode = 5  // RESET
	NulCommit     Opcode = 6  // NULCOMMIT
	PureData      Opcode = 7  // PURE_DATA
	Persist       Opcode = 8  // PERSIST
	AckFlush      Opcode = 9  // ACK_FLUSH
	Release       Opcode = 10 // RELEASE
	Multiply      Opcode = 11 // MULTIPLY
	KeepAlive     Opcode = 12 // KEEP_ALIVE
	PeerSubnets   Opcode = 16 // PEER_SUBNETS
	SelectiveNack Opcode = 17 // SELECTIVE_NACK
)

func (op Opcode) String() string {
	switch op {
	case InitConnect:
		return "INIT_CONNECT"
	case AckInitConn:
		return "ACK_INIT_CONNECT"
	case ConnectReq:
		return "CONNECT_REQUEST"
	case AckConnectReq:
		return "ACK_CONNECT_REQ"
	case Reset:
		return "RESET"
	case NulCommit:
		return "NULCOMMIT"
	case PureData:
		return "PURE_DATA"
	case Persist:
		return "PERSIST"
	case AckFlush:
		return "ACK_FLUSH"
	case Release:
		return "RELEASE"
	case Multiply:
		return "MULTIPLY"
	case KeepAlive:
		return "KEEP_ALIVE"
	case PeerSubnets:
		return "PEER_SUBNETS"
	case SelectiveNack:
		return "SELECTIVE_NACK"
	default:
		return "Opcode(?)"
	}
}

// IsNormal returns true if the opcode carries a normal (24-octet) header,
// i.e. is ACK_CONNECT_REQ or any later-stage opcode per spec §4.1.
func (op Opcode) IsNormal() bool {
	return op >= AckConnectReq
}

// IsOutOfBand returns true for control opcodes which carry their own replay
// serial number instead of consuming data sequence space (spec §4.3, §4.1).
func (op Opcode) IsOutOfBand() bool {
	switch op {
	case KeepAlive, AckFlush, Reset:
		return true
	default:
		return false
	}
}

// ConsumesSequenceSpace returns true for opcodes that occupy a sequence
// number: PERSIST, PURE_DATA and NULCOMMIT, and also RELEASE and MULTIPLY,
// which carry no payload (spec §4.1).
func (op Opcode) ConsumesSequenceSpace() bool {
	switch op {
	case Release, Multiply, Persist, PureData, NulCommit:
		return true
	default:
		return false
	}
}

// Flag bit positions within flags_ws[0], numbered from the MSB per spec §4.1.
type Flag uint8

const (
	FlagTransactionEnded Flag = 1 << 7
	FlagMinimalDelay     Flag = 1 << 6
	FlagCompressed       Flag = 1 << 5
	FlagCongestionAlarm  Flag = 1 << 4
)

func (f Flag) HasAny(mask Flag) bool { return f&mask != 0 }
func (f Flag) HasAll(mask Flag) bool { return f&mask == mask }
