package svc

import (
	"github.com/fspnet/fsp/wire"
)

// encodeNormal builds and signs a wire.NormalHeader carrying payload under
// sn, the shared frame encoder behind the transmit loop, retransmission and
// control-opcode replies (spec §4.1: "SVC ... computes the ICC over header +
// payload, writes the datagram to the wire").
func (d *Dispatcher) encodeNormal(cs *connState, op wire.Opcode, sn uint32, payload []byte, flags wire.Flag) ([]byte, error) {
	engine := cs.sock.ICCEngine()
	if err := engine.AdvancePending(sn); err != nil {
		return nil, err
	}

	buf := make([]byte, wire.SizeNormalHeader+len(payload))
	header, err := wire.NewNormalHeader(buf)
	if err != nil {
		return nil, err
	}
	header.Prelude().SetOpCode(op)
	header.Prelude().SetHSP(wire.SizeNormalHeader)
	header.SetFlags(flags)
	header.SetSequenceNo(sn)
	header.SetExpectedSN(uint32(cs.sock.ControlBlock().RecvNext()))
	header.SetAdvertisedWindow(uint32(cs.sock.ControlBlock().RecvWindow()))
	copy(buf[wire.SizeNormalHeader:], payload)

	aad := header.AppendZeroIntegrity(make([]byte, 0, wire.SizeNormalHeader))
	tag, sealed, err := engine.Sign(aad, buf[wire.SizeNormalHeader:], sn)
	if err != nil {
		return nil, err
	}
	out := make([]byte, wire.SizeNormalHeader+len(sealed))
	copy(out, buf[:wire.SizeNormalHeader])
	copy(out[wire.SizeNormalHeader:], sealed)
	outHeader, _ := wire.NewNormalHeader(out)
	outHeader.SetIntegrity(tag)
	return out, nil
}
