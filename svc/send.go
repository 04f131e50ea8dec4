package svc

import (
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/fspnet/fsp/socket"
)

// PumpSend flushes every send-ring block queued by the socket named id that
// has not yet reached the wire (spec §4.4's primary transmit path), gated by
// the connection's pacer. Tests and cmd/fspd call this explicitly for
// deterministic control; RunTimers also drives it from the periodic sweep so
// data queued by WriteTo/SendInline does not have to wait for an idle
// retransmit tick to first go out.
func (d *Dispatcher) PumpSend(id xid.ID) error {
	cs, ok := d.lookupByID(id)
	if !ok {
		return errUnknownALFID
	}
	return d.pumpSend(cs, time.Now())
}

// pumpSend is the SVC-side counterpart to tcp.Handler's write loop: it scans
// cs for blocks buffered by the LIB half via Socket.SendInline/WriteTo but
// never transmitted, and emits as many as the pacer currently allows. A
// block that the pacer declines stops the scan — blocks must leave in SN
// order, so later blocks cannot jump ahead of one still waiting on quota.
func (d *Dispatcher) pumpSend(cs *connState, now time.Time) error {
	cs.pace.Refill(now)
	for _, blk := range cs.trk.Unsent() {
		if !cs.pace.Reserve(blk.Len) {
			return nil
		}
		op := socket.WireOpcodeForBlock(blk)
		flags := socket.WireFlagsForBlock(blk)
		frame, err := d.encodeNormal(cs, op, uint32(blk.SN), blk.Data[:blk.Len], flags)
		if err != nil {
			d.Warn("svc: send-pump encode failed", slog.String("err", err.Error()))
			return err
		}
		cs.trk.MarkSent(blk, now)
		if err := d.transport.Send(cs.env, frame); err != nil {
			d.Warn("svc: send-pump send failed", slog.String("err", err.Error()))
			return err
		}
		d.countSent(op)
	}
	return nil
}
