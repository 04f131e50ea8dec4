package cb

import (
	"testing"

	"github.com/fspnet/fsp/seq"
)

func TestSendAllocAndAck(t *testing.T) {
	c := NewControlBlock(4, 4)
	c.ResetSend(100, 4096)

	d1, err := c.AllocSend(10)
	if err != nil {
		t.Fatal(err)
	}
	if d1.SN != 100 {
		t.Fatalf("got SN %v want 100", d1.SN)
	}
	d1.Len = 10

	d2, err := c.AllocSend(20)
	if err != nil {
		t.Fatal(err)
	}
	d2.Len = 20
	if d2.SN != 101 {
		t.Fatalf("got SN %v want 101", d2.SN)
	}

	c.AckSend(101) // acks only the first block.
	if c.SendRing.Buffered() != 1 {
		t.Fatalf("expected 1 block left in ring, got %d", c.SendRing.Buffered())
	}
	head, err := c.SendRing.Head()
	if err != nil {
		t.Fatal(err)
	}
	if head.SN != 101 {
		t.Fatalf("remaining block should be SN 101, got %v", head.SN)
	}
}

func TestRecvRejectsStaleDuplicateAndOutOfWindow(t *testing.T) {
	c := NewControlBlock(4, 4)
	c.ResetRecv(4096, 500)

	if err := c.DeliverRecv(500, []byte("hello"), FlagCompleted); err != nil {
		t.Fatal(err)
	}
	if err := c.DeliverRecv(500, []byte("dupe"), 0); err != ErrOutOfOrder {
		t.Fatalf("expected stale duplicate to be rejected, got %v", err)
	}
	if err := c.DeliverRecv(seq.Add(505, seq.Size(4096)), []byte("toofar"), 0); err != ErrOutOfOrder {
		t.Fatalf("expected block beyond receive window to be rejected, got %v", err)
	}
}

// TestRecvBuffersGapAndDrainsOnFill exercises spec §4.4's gap-fill scan: a
// block arriving ahead of the frontier is buffered rather than rejected, and
// once the missing block arrives rcv.NXT scans forward past every
// now-contiguous buffered block in one pass (spec.md's Testable Scenario 3).
func TestRecvBuffersGapAndDrainsOnFill(t *testing.T) {
	c := NewControlBlock(4, 8)
	c.ResetRecv(4096, 100)

	// Blocks 101 and 103 both arrive before block 100 that precedes them;
	// both must be buffered rather than rejected, and a gap remains between
	// them (102). Each block occupies one sequence number.
	if err := c.DeliverRecv(101, []byte("eeeee"), 0); err != nil {
		t.Fatalf("expected in-window out-of-order block to be buffered, got %v", err)
	}
	if err := c.DeliverRecv(103, []byte("lll"), FlagCompleted); err != nil {
		t.Fatalf("expected second in-window out-of-order block to be buffered, got %v", err)
	}
	if c.RecvNext() != seq.Value(100) {
		t.Fatalf("RecvNext should not advance past a gap, got %v", c.RecvNext())
	}

	// Filling 100 should scan through the already-buffered block 101 and
	// then stop at the still-missing 102 gap.
	if err := c.DeliverRecv(100, []byte("aaaaa"), 0); err != nil {
		t.Fatal(err)
	}
	if c.RecvNext() != seq.Value(102) {
		t.Fatalf("RecvNext should scan through 101's buffered block and stop at the 102 gap, got %v", c.RecvNext())
	}

	// Filling the last gap should drain the remaining buffered block too.
	if err := c.DeliverRecv(102, []byte("gg"), 0); err != nil {
		t.Fatal(err)
	}
	if c.RecvNext() != seq.Value(104) {
		t.Fatalf("RecvNext should scan through the 103 block once its gap closes, got %v", c.RecvNext())
	}
}

func TestBlockLockUnlock(t *testing.T) {
	c := NewControlBlock(2, 2)
	d, err := c.SendRing.Alloc(0)
	if err != nil {
		t.Fatal(err)
	}
	if !d.TryLock() {
		t.Fatal("expected first lock to succeed")
	}
	if d.TryLock() {
		t.Fatal("expected second lock to fail while held")
	}
	d.Unlock()
	if !d.TryLock() {
		t.Fatal("expected lock to succeed after unlock")
	}
}
