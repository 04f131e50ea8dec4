package svc

import (
	"context"
	"log/slog"
	"time"

	"github.com/fspnet/fsp/ipc"
	"github.com/fspnet/fsp/socket"
)

// pollInterval is how often the timer goroutine sweeps every connection for
// overdue retransmissions, roughly the role spec §5 assigns one per-connection
// retransmission timer: a single shared sweep instead of per-connection OS
// timers, which is the idiomatic Go way to bound goroutine count under many
// connections (cf. tcp.Listener.maintainConns's periodic sweep pattern).
const pollInterval = 50 * time.Millisecond

// keepAliveIdle is how long a connection may go without an outbound packet
// before the dispatcher sends a KEEP_ALIVE to refresh liveness/path info
// (spec §4.7, §5).
const keepAliveIdle = 15 * time.Second

// RunTimers sweeps every bound connection until ctx is canceled, resending
// overdue send-ring blocks and emitting keep-alives for idle connections.
func (d *Dispatcher) RunTimers(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *Dispatcher) sweep() {
	now := time.Now()
	d.mu.Lock()
	snapshot := make(map[uint32]*connState, len(d.conns))
	for id, cs := range d.conns {
		snapshot[id] = cs
	}
	d.mu.Unlock()

	for localALFID, cs := range snapshot {
		if err := d.pumpSend(cs, now); err != nil {
			d.Warn("svc: send pump failed", slog.Uint64("alfid", uint64(localALFID)), slog.String("err", err.Error()))
		}
		d.retransmitOverdue(localALFID, cs, now)
	}
}

func (d *Dispatcher) retransmitOverdue(localALFID uint32, cs *connState, now time.Time) {
	due := cs.trk.Overdue(now)
	for _, blk := range due {
		if blk.Retries > maxRetries {
			d.Warn("svc: giving up on block after max retries",
				slog.Uint64("alfid", uint64(localALFID)), slog.Uint64("sn", uint64(blk.SN)))
			cs.sock.Dispose()
			return
		}
		blk.Retries++
		frame, err := d.encodeNormal(cs, socket.WireOpcodeForBlock(blk), uint32(blk.SN), blk.Data[:blk.Len], socket.WireFlagsForBlock(blk))
		if err != nil {
			d.Warn("svc: retransmit encode failed", slog.String("err", err.Error()))
			continue
		}
		cs.trk.MarkSent(blk, now)
		if err := d.transport.Send(cs.env, frame); err != nil {
			d.Warn("svc: retransmit send failed", slog.String("err", err.Error()))
			continue
		}
		if d.metrics != nil {
			d.metrics.Retransmits.Inc()
			d.metrics.PacketsSent.WithLabelValues("RETRANSMIT").Inc()
		}
	}
}

// maxRetries bounds how many times a block is retransmitted before the
// connection is aborted (spec §5's failure-handling liveness cutoff).
const maxRetries = 12

// ProbeLiveness checks whether the LIB-side process owning s is still alive,
// freeing the socket if not (spec §5's "peer LIB process disappears"
// failure mode). probe is injected so tests can simulate process death
// without real PIDs.
func (d *Dispatcher) ProbeLiveness(s *socket.Socket, probe func() bool) {
	if probe() {
		return
	}
	s.Dispose()
}

// PublishCorruption raises a MemoryCorruption notice and destroys the
// connection, per spec §5's sanity-check failure path (a descriptor length
// outside [0, MAX_BLOCK_SIZE]).
func (d *Dispatcher) PublishCorruption(localALFID uint32, s *socket.Socket) {
	if d.notices != nil {
		d.notices.Publish(&ipc.Notice{
			Kind:   ipc.NoticeError,
			ALFID:  localALFID,
			Detail: "memory corruption: descriptor length out of range",
		})
	}
	s.Dispose()
}
