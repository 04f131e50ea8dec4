package svc

import (
	"net/netip"
	"testing"

	"github.com/fspnet/fsp/cb"
	"github.com/fspnet/fsp/fsm"
	"github.com/fspnet/fsp/icc"
	"github.com/fspnet/fsp/socket"
	"github.com/fspnet/fsp/wire"
)

func buildDataPacket(t *testing.T, op wire.Opcode, engine *icc.Engine, sn uint32, payload []byte, transactionEnded bool) []byte {
	t.Helper()
	buf := make([]byte, wire.SizeNormalHeader+len(payload))
	header, err := wire.NewNormalHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	header.Prelude().SetOpCode(op)
	header.Prelude().SetHSP(wire.SizeNormalHeader)
	flags := wire.Flag(0)
	if transactionEnded {
		flags |= wire.FlagTransactionEnded
	}
	header.SetFlags(flags)
	header.SetSequenceNo(sn)
	header.SetExpectedSN(sn)
	copy(buf[wire.SizeNormalHeader:], payload)

	aad := header.AppendZeroIntegrity(make([]byte, 0, 24))
	tag, sealed, err := engine.Sign(aad, buf[wire.SizeNormalHeader:], sn)
	if err != nil {
		t.Fatal(err)
	}
	copy(buf[wire.SizeNormalHeader:], sealed)
	header.SetIntegrity(tag)
	return buf
}

func newTestDispatcher() (*Dispatcher, *connState, uint32) {
	d := NewDispatcher(nil, nil, nil)
	block := cb.NewControlBlock(8, 8)
	block.ResetSend(0, 16384)
	block.ResetRecv(16384, 100)
	block.SetState(fsm.Established)
	const localALFID = 1 << 16
	block.Params = cb.ConnectParams{LocalALFID: localALFID, RemoteALFID: 2 << 16}
	s := socket.New(block, icc.NewEngine())
	cs := d.bind(localALFID, s, Envelope{
		LocalALFID:  localALFID,
		RemoteALFID: block.Params.RemoteALFID,
		RemoteAddr:  netip.MustParseAddrPort("[::1]:18003"),
	})
	return d, cs, localALFID
}

func TestHandleInboundDeliversPureData(t *testing.T) {
	d, cs, localALFID := newTestDispatcher()
	packet := buildDataPacket(t, wire.PureData, cs.sock.ICCEngine(), 100, []byte("hello"), true)

	env := Envelope{LocalALFID: localALFID, RemoteALFID: cs.env.RemoteALFID, RemoteAddr: cs.env.RemoteAddr}
	if err := d.HandleInbound(env, packet); err != nil {
		t.Fatal(err)
	}

	data, flags, err := cs.sock.TryRecvInline()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
	if flags&cb.FlagCompleted == 0 {
		t.Fatal("expected FlagCompleted set")
	}
	// PURE_DATA never ends a transaction on its own in the state diagram
	// (spec §4.3); only PERSIST/NULCOMMIT with TransactionEnded do.
	if cs.sock.State() != fsm.Established {
		t.Fatalf("got %s want ESTABLISHED", cs.sock.State())
	}
}

func TestHandleInboundPersistEndsTransaction(t *testing.T) {
	d, cs, localALFID := newTestDispatcher()
	packet := buildDataPacket(t, wire.Persist, cs.sock.ICCEngine(), 100, []byte("bye"), true)

	env := Envelope{LocalALFID: localALFID, RemoteALFID: cs.env.RemoteALFID, RemoteAddr: cs.env.RemoteAddr}
	if err := d.HandleInbound(env, packet); err != nil {
		t.Fatal(err)
	}
	if cs.sock.State() != fsm.PeerCommit {
		t.Fatalf("got %s want PEER_COMMIT", cs.sock.State())
	}
}

func TestHandleInboundRejectsTamperedIntegrity(t *testing.T) {
	d, cs, localALFID := newTestDispatcher()
	packet := buildDataPacket(t, wire.PureData, cs.sock.ICCEngine(), 100, []byte("hello"), false)
	packet[len(packet)-1] ^= 0xFF // corrupt payload after signing.

	env := Envelope{LocalALFID: localALFID, RemoteALFID: cs.env.RemoteALFID, RemoteAddr: cs.env.RemoteAddr}
	if err := d.HandleInbound(env, packet); err != errIntegrityFailure {
		t.Fatalf("got %v want errIntegrityFailure", err)
	}
}

func TestHandleInboundUnknownALFID(t *testing.T) {
	d, cs, _ := newTestDispatcher()
	packet := buildDataPacket(t, wire.PureData, cs.sock.ICCEngine(), 100, []byte("hi"), false)
	env := Envelope{LocalALFID: 9999, RemoteAddr: cs.env.RemoteAddr}
	if err := d.HandleInbound(env, packet); err != errUnknownALFID {
		t.Fatalf("got %v want errUnknownALFID", err)
	}
}
