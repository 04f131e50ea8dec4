package fsm

import (
	"testing"

	"github.com/fspnet/fsp/wire"
)

func TestHandshakeHappyPath(t *testing.T) {
	s := NonExistent
	s, err := OnLocal(s, EvConnect)
	if err != nil || s != ConnectBootstrap {
		t.Fatalf("EvConnect: got %v, %v", s, err)
	}
	s, err = OnReceive(s, wire.AckInitConn, false)
	if err != nil || s != ConnectAffirming {
		t.Fatalf("AckInitConn: got %v, %v", s, err)
	}
	s, err = OnReceive(s, wire.AckConnectReq, false)
	if err != nil || s != Challenging {
		t.Fatalf("AckConnectReq: got %v, %v", s, err)
	}
	s, err = OnReceive(s, wire.Persist, false)
	if err != nil || s != Established {
		t.Fatalf("Persist: got %v, %v", s, err)
	}
}

func TestResetAlwaysCloses(t *testing.T) {
	for _, s := range []State{Listening, ConnectAffirming, Challenging, Established, Committing} {
		next, err := OnReceive(s, wire.Reset, false)
		if err != nil || next != Closed {
			t.Fatalf("state %v: RESET should force CLOSED, got %v, %v", s, next, err)
		}
	}
}

func TestResponderBootstrapReachesChallenging(t *testing.T) {
	s, err := OnReceive(ConnectBootstrap, wire.ConnectReq, false)
	if err != nil || s != Challenging {
		t.Fatalf("responder ConnectReq: got %v, %v", s, err)
	}
}

func TestMultiplyKeepsParentEstablished(t *testing.T) {
	s, err := OnReceive(Established, wire.Multiply, false)
	if err != nil || s != Established {
		t.Fatalf("Multiply: got %v, %v", s, err)
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	_, err := OnReceive(Listening, wire.Persist, false)
	if err != ErrIllegalTransition {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestCommitSequence(t *testing.T) {
	s := Established
	s, err := OnLocal(s, EvCommit)
	if err != nil || s != Committing {
		t.Fatalf("EvCommit: got %v, %v", s, err)
	}
	s, err = OnReceive(s, wire.AckFlush, false)
	if err != nil || s != Committed {
		t.Fatalf("AckFlush: got %v, %v", s, err)
	}
}
