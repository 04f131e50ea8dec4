package reliability

import (
	"testing"
	"time"

	"github.com/fspnet/fsp/cb"
	"github.com/fspnet/fsp/seq"
	"github.com/fspnet/fsp/wire"
)

func TestRTOEstimatorConvergesAndClamps(t *testing.T) {
	var e RTOEstimator
	if e.RTO() != minRTO {
		t.Fatalf("expected minRTO before priming, got %v", e.RTO())
	}
	for i := 0; i < 20; i++ {
		e.Sample(200 * time.Millisecond)
	}
	if e.RTO() < minRTO || e.RTO() > maxRTO {
		t.Fatalf("RTO out of clamp range: %v", e.RTO())
	}
}

func TestTrackerAckRetiresBlocks(t *testing.T) {
	c := cb.NewControlBlock(4, 4)
	c.ResetSend(0, 4096)
	d, err := c.AllocSend(100)
	if err != nil {
		t.Fatal(err)
	}
	d.Len = 100

	tr := NewTracker(c)
	now := time.Now()
	tr.MarkSent(d, now)
	tr.OnAck(seq.Value(1), now.Add(50*time.Millisecond))

	if c.SendRing.Buffered() != 0 {
		t.Fatalf("expected ring drained after full ack, got %d buffered", c.SendRing.Buffered())
	}
	if tr.RTO.SRTT() == 0 {
		t.Fatal("expected an RTT sample to have been recorded")
	}
}

func TestOverdueDetectsUnackedPastRTO(t *testing.T) {
	c := cb.NewControlBlock(4, 4)
	c.ResetSend(0, 4096)
	d, _ := c.AllocSend(10)
	d.Len = 10

	tr := NewTracker(c)
	past := time.Now().Add(-2 * time.Minute)
	tr.MarkSent(d, past)

	due := tr.Overdue(time.Now())
	if len(due) != 1 {
		t.Fatalf("expected 1 overdue block, got %d", len(due))
	}
}

func TestGapRangesDecodesSNACK(t *testing.T) {
	body := make([]byte, 10+4*2)
	snack, err := wire.NewSelectiveNackExt(body)
	if err != nil {
		t.Fatal(err)
	}
	snack.SetLatestSN(1000)
	// Gap order is tail-to-head: gap[0] closest to the cumulative ack.
	snack.SetGap(0, wire.SNACKGap{GapWidth: 10, DataLength: 20})
	snack.SetGap(1, wire.SNACKGap{GapWidth: 5, DataLength: 15})

	ranges := GapRanges(snack)
	if len(ranges) != 2 {
		t.Fatalf("expected 2 gap ranges, got %d", len(ranges))
	}
}
