package reliability

import (
	"time"

	"github.com/fspnet/fsp/cb"
	"github.com/fspnet/fsp/seq"
)

// Tracker drives retransmission decisions over a ControlBlock's send ring:
// which blocks are overdue for resend, and RTT sampling from their
// acknowledgement, mirroring the role of tcp's sentlist but operating
// directly on cb.BlockRing entries instead of a parallel packet index.
type Tracker struct {
	CB  *cb.ControlBlock
	RTO RTOEstimator
}

func NewTracker(c *cb.ControlBlock) *Tracker {
	return &Tracker{CB: c}
}

// MarkSent stamps d as just transmitted, for RTO/RTT bookkeeping.
func (t *Tracker) MarkSent(d *cb.BufferBlockDescriptor, now time.Time) {
	d.SentAt = now
}

// OnAck retires acknowledged blocks up to ackSN via CB.AckSend and samples
// RTT from every block being retired that was sent and never retransmitted
// (Karn's algorithm: a retransmitted block's ack cannot be attributed to
// either transmission unambiguously).
func (t *Tracker) OnAck(ackSN seq.Value, now time.Time) {
	t.CB.SendRing.Each(func(d *cb.BufferBlockDescriptor) bool {
		end := seq.Add(d.SN, 1) // each block consumes exactly one SN, regardless of Len.
		if end.LessThanEq(ackSN) {
			if d.Retries == 0 && !d.SentAt.IsZero() {
				t.RTO.Sample(now.Sub(d.SentAt))
			}
			return true
		}
		return false
	})
	t.CB.AckSend(ackSN)
}

// Unsent returns the send-ring blocks that have never been transmitted
// (SentAt still zero), oldest first, for the primary send pump to emit
// ahead of anything reaching the retransmit/SNACK paths.
func (t *Tracker) Unsent() []*cb.BufferBlockDescriptor {
	var out []*cb.BufferBlockDescriptor
	t.CB.SendRing.Each(func(d *cb.BufferBlockDescriptor) bool {
		if d.SentAt.IsZero() {
			out = append(out, d)
		}
		return true
	})
	return out
}

// Overdue returns the blocks whose retransmission timeout has elapsed,
// oldest first, so the caller can resend them and call MarkSent again.
func (t *Tracker) Overdue(now time.Time) []*cb.BufferBlockDescriptor {
	var due []*cb.BufferBlockDescriptor
	rto := t.RTO.RTO()
	t.CB.SendRing.Each(func(d *cb.BufferBlockDescriptor) bool {
		if d.SentAt.IsZero() {
			return true // not sent yet, reliability engine hasn't reached it.
		}
		deadline := d.SentAt.Add(rto << uint(min(d.Retries, 6)))
		if now.After(deadline) {
			due = append(due, d)
		}
		return true
	})
	return due
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
