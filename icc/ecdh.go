package icc

import (
	"crypto/rand"
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// EphemeralKeyPair is a Curve25519 key pair generated fresh for one
// connection's bootstrap handshake (spec §4.7 CONNECT_BOOTSTRAP ->
// CONNECT_AFFIRMING), carried in the PEER_SUBNETS/ACK_CONNECT_REQ exchange.
type EphemeralKeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateEphemeralKeyPair draws a new Curve25519 key pair from crypto/rand.
func GenerateEphemeralKeyPair() (EphemeralKeyPair, error) {
	var kp EphemeralKeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return kp, err
	}
	// Clamp per RFC 7748 so X25519 always operates on a valid scalar.
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return kp, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// DeriveSessionKey computes the ECDH shared secret between self and peer and
// stretches it with HKDF-SHA512 into a 32-octet AES-256-GCM session key, the
// salt passed binds the key to this handshake's connection nonces so replay
// of an old transcript cannot produce the same key (spec §4.2, §4.7).
func DeriveSessionKey(self EphemeralKeyPair, peerPublic [32]byte, salt, info []byte) (key [32]byte, err error) {
	shared, err := curve25519.X25519(self.Private[:], peerPublic[:])
	if err != nil {
		return key, err
	}
	kdf := hkdf.New(sha512.New, shared, salt, info)
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return key, err
	}
	return key, nil
}
