package icc

import "testing"

func TestCRC64RoundTrip(t *testing.T) {
	e := NewEngine()
	aad := []byte("header-with-zeroed-integrity")
	payload := []byte("hello fsp")
	tag, sealed, err := e.Sign(aad, payload, 1)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := e.Verify(aad, sealed, 1, tag)
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != string(payload) {
		t.Fatalf("got %q want %q", plain, payload)
	}
}

func TestAESGCMRoundTripAndRekey(t *testing.T) {
	e := NewEngine()
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	if err := e.InstallSessionKey(key, 0xaabbccdd, 100, RekeyThreshold-1); err != nil {
		t.Fatal(err)
	}
	if !e.NeedsRekey() {
		t.Fatal("expected rekey to be due just under threshold")
	}

	aad := make([]byte, 16)
	payload := []byte("confidential payload")
	tag, sealed, err := e.Sign(aad, payload, 100)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := e.Verify(aad, sealed, 100, tag)
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != string(payload) {
		t.Fatalf("got %q want %q", plain, payload)
	}

	// Tamper detection.
	sealed[0] ^= 0xff
	if _, err := e.Verify(aad, sealed, 100, tag); err == nil {
		t.Fatal("expected tamper to be detected")
	}
}

func TestPreviousContextStillVerifies(t *testing.T) {
	e := NewEngine()
	var key1, key2 [32]byte
	key1[0] = 1
	key2[0] = 2
	if err := e.InstallSessionKey(key1, 1, 0, 1<<40); err != nil {
		t.Fatal(err)
	}
	aad := make([]byte, 8)
	payload := []byte("in flight before rekey")
	tag, sealed, err := e.Sign(aad, payload, 10)
	if err != nil {
		t.Fatal(err)
	}

	if err := e.InstallSessionKey(key2, 2, 20, 1<<40); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Verify(aad, sealed, 10, tag); err != nil {
		t.Fatalf("expected previous-context packet to still verify: %v", err)
	}
}

func TestSessionKeyAgreementMatches(t *testing.T) {
	a, err := GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	salt := []byte("connection-nonce")
	info := []byte("fsp session key v1")
	keyA, err := DeriveSessionKey(a, b.Public, salt, info)
	if err != nil {
		t.Fatal(err)
	}
	keyB, err := DeriveSessionKey(b, a.Public, salt, info)
	if err != nil {
		t.Fatal(err)
	}
	if keyA != keyB {
		t.Fatal("ECDH+HKDF derived keys must match on both sides")
	}
}
