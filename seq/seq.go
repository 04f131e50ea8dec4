// Package seq implements modular sequence-number arithmetic shared by the
// control block, state machine and reliability engine. Its shape mirrors the
// (unexported in the retrieved sources) Value/Size types assumed throughout
// github.com/soypat/lneto/tcp's ControlBlock: a 32-bit wrapping sequence
// number with explicit wraparound-aware comparisons, plus an unsigned size
// type for window/segment lengths.
package seq

// Value is a 32-bit sequence number that wraps around modulo 2**32, exactly
// as FSP's sequenceNo/expectedSN header fields do on the wire (spec §4.1).
type Value uint32

// Size is an unsigned count of octets/blocks, used for window sizes and
// segment/descriptor lengths.
type Size uint32

// Add returns v+delta, wrapping around modulo 2**32.
func Add(v Value, delta Size) Value { return v + Value(delta) }

// Sizeof returns the number of sequence numbers between a (inclusive) and b
// (exclusive), i.e. b-a performed with wraparound arithmetic. Callers must
// ensure a precedes b in sequence space.
func Sizeof(a, b Value) Size { return Size(b - a) }

// LessThan returns true if v precedes other in sequence space, accounting
// for wraparound by comparing the signed difference.
func (v Value) LessThan(other Value) bool {
	return int32(v-other) < 0
}

// LessThanEq returns true if v precedes or equals other in sequence space.
func (v Value) LessThanEq(other Value) bool {
	return v == other || v.LessThan(other)
}

// InWindow returns true if v lies in [start, start+wnd) modulo 2**32.
func (v Value) InWindow(start Value, wnd Size) bool {
	if wnd == 0 {
		return v == start
	}
	return Size(v-start) < wnd
}

// UpdateForward advances v by delta in place.
func (v *Value) UpdateForward(delta Size) { *v = Add(*v, delta) }

// Range is a half-open sequence interval [Start, End) used by the
// reliability engine to describe gaps reported in a SELECTIVE_NACK.
type Range struct {
	Start, End Value
}
