package reliability

import (
	"github.com/fspnet/fsp/cb"
	"github.com/fspnet/fsp/seq"
	"github.com/fspnet/fsp/wire"
)

// GapRanges decodes a SELECTIVE_NACK extension into concrete
// [start,end) sequence ranges that the peer reports missing, walking
// latestSN backwards by alternating gap/data run lengths as spec §4.4
// describes (a SNACK run is "width of gap, width of following received
// data", repeated back toward the last cumulative ack).
func GapRanges(snack wire.SelectiveNackExt) []seq.Range {
	var ranges []seq.Range
	cursor := seq.Value(snack.LatestSN())
	for i := snack.NumGaps() - 1; i >= 0; i-- {
		g := snack.Gap(i)
		gapEnd := cursor
		gapStart := seq.Add(gapEnd, -seq.Size(g.GapWidth))
		if g.GapWidth > 0 {
			ranges = append(ranges, seq.Range{Start: gapStart, End: gapEnd})
		}
		cursor = seq.Add(gapStart, -seq.Size(g.DataLength))
	}
	return ranges
}

// ResendFromSNACK returns the send-ring blocks overlapping any of the
// peer-reported missing ranges, for priority retransmission ahead of the
// RTO-driven Overdue path (spec §4.5's fast-retransmit complement to
// timeout-driven retransmit).
func ResendFromSNACK(c *cb.ControlBlock, ranges []seq.Range) []*cb.BufferBlockDescriptor {
	var out []*cb.BufferBlockDescriptor
	c.SendRing.Each(func(d *cb.BufferBlockDescriptor) bool {
		blockEnd := seq.Add(d.SN, 1) // one SN per block, independent of payload length.
		for _, r := range ranges {
			if d.SN.LessThan(r.End) && r.Start.LessThan(blockEnd) {
				out = append(out, d)
				break
			}
		}
		return true
	})
	return out
}
