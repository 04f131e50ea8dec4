package wire

import "testing"

func TestNormalHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, SizeNormalHeader+16)
	h, err := NewNormalHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	h.Prelude().SetOpCode(Persist)
	h.Prelude().SetMajor(1)
	h.Prelude().SetHSP(SizeNormalHeader)
	h.SetFlags(FlagTransactionEnded | FlagCompressed)
	h.SetAdvertisedWindow(1<<20 - 1)
	h.SetSequenceNo(0xdeadbeef)
	h.SetExpectedSN(42)
	h.SetIntegrity(0x0102030405060708)

	if h.Prelude().OpCode() != Persist {
		t.Fatalf("opcode mismatch")
	}
	if !h.Flags().HasAll(FlagTransactionEnded) || !h.Flags().HasAny(FlagCompressed) {
		t.Fatalf("flags mismatch: %b", h.Flags())
	}
	if h.AdvertisedWindow() != 1<<20-1 {
		t.Fatalf("window mismatch: %d", h.AdvertisedWindow())
	}
	if h.SequenceNo() != 0xdeadbeef {
		t.Fatalf("seq mismatch")
	}
	if h.ExpectedSN() != 42 {
		t.Fatalf("expectedSN mismatch")
	}
	if h.Integrity() != 0x0102030405060708 {
		t.Fatalf("integrity mismatch")
	}
}

func TestWalkExtensionsRejectsBadBackLink(t *testing.T) {
	header := make([]byte, 40)
	// Single bogus extension claiming length 0 (invalid, < prefix size).
	ext, _ := NewExtensionHeader(header[SizeNormalHeader:])
	ext.SetOpCode(PeerSubnets)
	ext.SetLength(0)
	err := WalkExtensions(header, SizeNormalHeader, 40, func(ExtensionHeader) error { return nil })
	if err != ErrBadBackLink {
		t.Fatalf("expected ErrBadBackLink, got %v", err)
	}
}

func TestWalkExtensionsValidChain(t *testing.T) {
	header := make([]byte, SizeNormalHeader+8+8)
	off := SizeNormalHeader
	ext1, _ := NewExtensionHeader(header[off:])
	ext1.SetOpCode(KeepAlive)
	ext1.SetLength(8)
	off += 8
	ext2, _ := NewExtensionHeader(header[off:])
	ext2.SetOpCode(SelectiveNack)
	ext2.SetLength(8)

	var seen []Opcode
	err := WalkExtensions(header, SizeNormalHeader, len(header), func(e ExtensionHeader) error {
		seen = append(seen, e.OpCode())
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen[0] != KeepAlive || seen[1] != SelectiveNack {
		t.Fatalf("unexpected chain: %v", seen)
	}
}

func TestSelectiveNackGaps(t *testing.T) {
	body := make([]byte, sizeSNACKHeader+4*2)
	s, err := NewSelectiveNackExt(body)
	if err != nil {
		t.Fatal(err)
	}
	s.SetAckSerial(5)
	s.SetLatestSN(109)
	s.SetGap(0, SNACKGap{GapWidth: 1, DataLength: 2})
	s.SetGap(1, SNACKGap{GapWidth: 1, DataLength: 3})
	if s.NumGaps() != 2 {
		t.Fatalf("expected 2 gaps, got %d", s.NumGaps())
	}
	g := s.Gap(1)
	if g.GapWidth != 1 || g.DataLength != 3 {
		t.Fatalf("unexpected gap: %+v", g)
	}
}
