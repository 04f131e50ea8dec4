package socket

import (
	"testing"

	"github.com/fspnet/fsp/cb"
	"github.com/fspnet/fsp/fsm"
	"github.com/fspnet/fsp/icc"
)

func establishedSocket(t *testing.T) *Socket {
	t.Helper()
	block := cb.NewControlBlock(4, 4)
	block.ResetSend(100, 16384)
	block.ResetRecv(16384, 500)
	block.SetState(fsm.Established)
	return New(block, icc.NewEngine())
}

func TestWriteToAndRecvInlineRoundTrip(t *testing.T) {
	s := establishedSocket(t)
	n, err := s.WriteTo([]byte("hello"), true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("got %d want 5", n)
	}

	data, flags, err := s.TryRecvInline()
	if err == nil {
		t.Fatalf("expected ErrRingEmpty before DeliverRecv, got data %q flags %v", data, flags)
	}

	if err := s.cb.DeliverRecv(500, []byte("hi"), cb.FlagCompleted); err != nil {
		t.Fatal(err)
	}
	data, flags, err = s.TryRecvInline()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hi" {
		t.Fatalf("got %q", data)
	}
	if flags&cb.FlagCompleted == 0 {
		t.Fatalf("expected FlagCompleted set")
	}
	if !s.HasReadEoT() {
		t.Fatal("expected HasReadEoT true")
	}
	if err := s.ReadFrom(); err != nil {
		t.Fatal(err)
	}
}

func TestTryGetSendBufferRejectsBeforeEstablished(t *testing.T) {
	block := cb.NewControlBlock(2, 2)
	block.SetState(fsm.ConnectAffirming)
	s := New(block, icc.NewEngine())
	if _, err := s.TryGetSendBuffer(10); err != fsm.ErrIllegalTransition {
		t.Fatalf("got %v want fsm.ErrIllegalTransition", err)
	}
}

func TestCommitTransitionsState(t *testing.T) {
	s := establishedSocket(t)
	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}
	if s.State() != fsm.Committing {
		t.Fatalf("got %s want COMMITTING", s.State())
	}
}

func TestDisposeInvokesOnRelease(t *testing.T) {
	s := establishedSocket(t)
	released := false
	s.SetOnRelease(func(*Socket) { released = true })
	s.Dispose()
	if !released {
		t.Fatal("expected onRelease to fire")
	}
	if s.State() != fsm.Closed {
		t.Fatalf("got %s want CLOSED", s.State())
	}
}
