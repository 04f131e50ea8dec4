// Package cb implements the FSP Control Block of spec §3/§4.4: the
// send/receive window descriptor rings over fixed-size buffer blocks, the
// notice ring used to wake the LIB half, and the sequence-space bookkeeping
// that the state machine and reliability engine operate on. Its sendSpace/
// recvSpace split and embedded logger are adapted directly from
// github.com/soypat/lneto/tcp's ControlBlock (control.go); the block ring
// itself generalizes internal.Ring (ring.go) from a byte ring to a ring of
// fixed-size block descriptors.
package cb

import (
	"sync/atomic"
	"time"

	"github.com/fspnet/fsp/seq"
)

// Buffer block sizes per spec §3: the send ring holds 1024-octet blocks, the
// receive ring 512-octet blocks, reflecting the asymmetric MTU assumptions
// of FSP's original implementation.
const (
	SendBlockSize = 1024
	RecvBlockSize = 512
)

// BlockFlag is the set of atomic status bits a BufferBlockDescriptor carries,
// mirroring the original CB's bitfield (spec §4.4).
type BlockFlag uint32

const (
	// FlagExclusiveLock is held by whichever of LIB/SVC is currently
	// writing into or reading out of this block.
	FlagExclusiveLock BlockFlag = 1 << iota
	// FlagAcknowledged marks a send-side block whose octets the peer has
	// acknowledged and which may now be recycled.
	FlagAcknowledged
	// FlagCompleted marks a block that holds the last octet of a
	// transmit transaction (ends in a TransactionEnded packet).
	FlagCompleted
	// FlagDelivered marks a receive-side block whose payload has been
	// handed to the application and may be recycled.
	FlagDelivered
	// FlagCompressed marks a block whose payload is LZ4-compressed and
	// must be inflated before delivery.
	FlagCompressed
	// FlagToBeContinued marks a send-side block that is not the last of
	// its transaction; more blocks follow before the next TransactionEnded.
	FlagToBeContinued
	// FlagFulfilled marks a receive-side block that has been placed in its
	// ring slot — whether it arrived in order or was buffered ahead of the
	// frontier and later drained into place — and is ready for delivery to
	// the application (spec §4.4's IS_FULFILLED).
	FlagFulfilled
)

// BufferBlockDescriptor describes one fixed-size block of the send or
// receive ring: its atomic status flags, the sequence number of its first
// octet, and how many of its octets are valid.
type BufferBlockDescriptor struct {
	flags atomic.Uint32
	SN    seq.Value
	Len   int
	Data  []byte // view into the ring's backing array for this block.

	// SentAt is the instant this block was last transmitted, used by the
	// reliability engine to measure round-trip time and decide when a
	// retransmission is due. Zero until the block has been sent once.
	SentAt time.Time
	// Retries counts retransmissions of this block, used to back off the
	// retransmission timeout and eventually abandon the connection.
	Retries int
}

func (d *BufferBlockDescriptor) Flags() BlockFlag { return BlockFlag(d.flags.Load()) }

func (d *BufferBlockDescriptor) HasFlag(f BlockFlag) bool { return d.Flags()&f != 0 }

func (d *BufferBlockDescriptor) SetFlag(f BlockFlag) {
	for {
		old := d.flags.Load()
		if d.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

func (d *BufferBlockDescriptor) ClearFlag(f BlockFlag) {
	for {
		old := d.flags.Load()
		if d.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// TryLock attempts to set FlagExclusiveLock, returning false if it was
// already held (spec §4.4: LIB and SVC coordinate block access without a
// heavier mutex since they may be separate processes sharing memory).
func (d *BufferBlockDescriptor) TryLock() bool {
	for {
		old := d.flags.Load()
		if old&uint32(FlagExclusiveLock) != 0 {
			return false
		}
		if d.flags.CompareAndSwap(old, old|uint32(FlagExclusiveLock)) {
			return true
		}
	}
}

func (d *BufferBlockDescriptor) Unlock() { d.ClearFlag(FlagExclusiveLock) }

// reset clears a descriptor so it can be reused for a new block once both
// its lock and completion flags have been released.
func (d *BufferBlockDescriptor) reset() {
	d.flags.Store(0)
	d.SN = 0
	d.Len = 0
	d.SentAt = time.Time{}
	d.Retries = 0
}
