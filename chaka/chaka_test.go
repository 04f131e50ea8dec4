package chaka

import (
	"testing"
	"time"

	"github.com/fspnet/fsp/icc"
)

func TestFullHandshakeAgrees(t *testing.T) {
	clientKP, err := icc.GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	serverKP, err := icc.GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1700000000, 0)
	password := "correct horse battery staple"
	var salt [SaltLength]byte
	copy(salt[:], []byte("0123456789abcdef"))
	passwordHash := SaltedPassword(salt, password)

	info := &PublicInfo{
		ClientKeyPair: clientKP,
		ServerKeyPair: serverKP,
		ClientNonce:   now,
		ServerNonce:   now.Add(2 * time.Second),
		ServerRandom:  0xdeadbeefcafef00d,
		Salt:          salt,
	}

	serverResp, err := ChallengeByServer(info, passwordHash)
	if err != nil {
		t.Fatal(err)
	}
	info.PeerResponse = serverResp

	clientResp, err := RespondByClient(info, passwordHash)
	if err != nil {
		t.Fatal(err)
	}
	info.PeerResponse = clientResp

	if err := ValidateByServer(info, passwordHash); err != nil {
		t.Fatalf("server failed to validate client response: %v", err)
	}

	clientKey, err := DeriveKey(info, clientKP, serverKP.Public, passwordHash)
	if err != nil {
		t.Fatal(err)
	}
	serverKey, err := DeriveKey(info, serverKP, clientKP.Public, passwordHash)
	if err != nil {
		t.Fatal(err)
	}
	if clientKey != serverKey {
		t.Fatal("client and server must derive the same session key")
	}
}

func TestWrongPasswordRejected(t *testing.T) {
	clientKP, _ := icc.GenerateEphemeralKeyPair()
	serverKP, _ := icc.GenerateEphemeralKeyPair()
	now := time.Unix(1700000000, 0)
	var salt [SaltLength]byte
	goodHash := SaltedPassword(salt, "right")
	badHash := SaltedPassword(salt, "wrong")

	info := &PublicInfo{
		ClientKeyPair: clientKP,
		ServerKeyPair: serverKP,
		ClientNonce:   now,
		ServerNonce:   now,
		ServerRandom:  42,
		Salt:          salt,
	}
	serverResp, err := ChallengeByServer(info, goodHash)
	if err != nil {
		t.Fatal(err)
	}
	info.PeerResponse = serverResp

	if _, err := RespondByClient(info, badHash); err != ErrBadResponse {
		t.Fatalf("expected ErrBadResponse, got %v", err)
	}
}

func TestClockSkewRejected(t *testing.T) {
	clientKP, _ := icc.GenerateEphemeralKeyPair()
	serverKP, _ := icc.GenerateEphemeralKeyPair()
	info := &PublicInfo{
		ClientKeyPair: clientKP,
		ServerKeyPair: serverKP,
		ClientNonce:   time.Unix(0, 0),
		ServerNonce:   time.Unix(1000, 0),
	}
	if _, err := ChallengeByServer(info, [ResponseLength]byte{}); err != ErrClockSkew {
		t.Fatalf("expected ErrClockSkew, got %v", err)
	}
}
