// Package chaka implements the Challenge-Handshake Authenticated Key
// Agreement supplement to the bootstrap handshake (spec §4.7 open question:
// password-based mutual authentication layered atop the Curve25519 ECDH
// exchange). It is a from-scratch Go port of the algorithm in
// original_source/src/Crypto/CHAKA.h: a salted-password challenge/response
// exchanged inside PERSIST payloads, using this module's icc.DeriveSessionKey
// (Curve25519 + HKDF-SHA512) in place of the original's NaCl box + SM3 HMAC.
package chaka

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/fspnet/fsp/icc"
)

const (
	// SaltLength matches CRYPTO_SALT_LENGTH: 128 bits of salt for the
	// password hash.
	SaltLength = 16
	// ResponseLength is the HMAC-SHA256 digest size used for challenge
	// responses, in place of the original's SM3/NaCl hash.
	ResponseLength = sha256.Size
	// clockSkewBudget bounds how far client and server nonces may diverge
	// before a handshake is rejected as broken (CHAKA.h: 60 seconds).
	clockSkewBudget = 60 * time.Second
)

var ErrClockSkew = errors.New("fsp/chaka: client/server nonce skew exceeds budget")
var ErrBadResponse = errors.New("fsp/chaka: password response mismatch")

// PublicInfo is the transcript exchanged between client and server across
// the bootstrap handshake, carried piggybacked on ACK_CONNECT_REQ and
// PERSIST per spec §4.7.
type PublicInfo struct {
	ClientKeyPair icc.EphemeralKeyPair
	ServerKeyPair icc.EphemeralKeyPair
	ClientNonce   time.Time
	ServerNonce   time.Time
	ServerRandom  uint64
	Salt          [SaltLength]byte

	PeerResponse [ResponseLength]byte
}

// SaltedPassword hashes salt‖password into the value both peers use as the
// long-term secret input to MakeResponse, so the plaintext password never
// crosses the wire or sits in PublicInfo.
func SaltedPassword(salt [SaltLength]byte, password string) [ResponseLength]byte {
	h := sha256.New()
	h.Write(salt[:])
	h.Write([]byte(password))
	var out [ResponseLength]byte
	copy(out[:], h.Sum(nil))
	return out
}

// MakeResponse computes HMAC(passwordHash, peerPublicKey ‖ (nonce ^ mask)),
// the same response function used both to answer a peer's challenge and to
// pose one back (CHAKA.h MakeResponse), reused symmetrically by client and
// server.
func MakeResponse(passwordHash [ResponseLength]byte, peerPublicKey [32]byte, nonce time.Time, mask uint64) [ResponseLength]byte {
	mac := hmac.New(sha256.New, passwordHash[:])
	mac.Write(peerPublicKey[:])
	var nonceBytes [8]byte
	putUint64(nonceBytes[:], uint64(nonce.UnixNano())^mask)
	mac.Write(nonceBytes[:])
	var out [ResponseLength]byte
	copy(out[:], mac.Sum(nil))
	return out
}

func putUint64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (56 - 8*i))
	}
}

// checkSkew rejects handshakes whose client/server nonces diverge by more
// than clockSkewBudget, guarding against stale or replayed transcripts.
func checkSkew(client, server time.Time) error {
	d := server.Sub(client)
	if d < -clockSkewBudget || d > clockSkewBudget {
		return ErrClockSkew
	}
	return nil
}

// ChallengeByServer answers the client's implicit challenge (its public key
// and nonce) and returns the server's own response to piggyback in the
// server's PERSIST, per CHAKA.h's CHAKAChallengeByServer.
func ChallengeByServer(info *PublicInfo, passwordHash [ResponseLength]byte) ([ResponseLength]byte, error) {
	if err := checkSkew(info.ClientNonce, info.ServerNonce); err != nil {
		return [ResponseLength]byte{}, err
	}
	return MakeResponse(passwordHash, info.ClientKeyPair.Public, info.ClientNonce, info.ServerRandom), nil
}

// RespondByClient verifies the server's response against what the client
// computes itself, then returns the client's own response to the server's
// nonce, per CHAKA.h's CHAKAResponseByClient.
func RespondByClient(info *PublicInfo, passwordHash [ResponseLength]byte) ([ResponseLength]byte, error) {
	if err := checkSkew(info.ClientNonce, info.ServerNonce); err != nil {
		return [ResponseLength]byte{}, err
	}
	want := MakeResponse(passwordHash, info.ClientKeyPair.Public, info.ClientNonce, info.ServerRandom)
	if subtle.ConstantTimeCompare(want[:], info.PeerResponse[:]) != 1 {
		return [ResponseLength]byte{}, ErrBadResponse
	}
	return MakeResponse(passwordHash, info.ServerKeyPair.Public, info.ServerNonce, info.ServerRandom), nil
}

// ValidateByServer checks the client's final response, completing mutual
// authentication (CHAKA.h's CHAKAValidateByServer).
func ValidateByServer(info *PublicInfo, passwordHash [ResponseLength]byte) error {
	want := MakeResponse(passwordHash, info.ServerKeyPair.Public, info.ServerNonce, info.ServerRandom)
	if subtle.ConstantTimeCompare(want[:], info.PeerResponse[:]) != 1 {
		return ErrBadResponse
	}
	return nil
}

// DeriveKey folds the CHAKA transcript into the ECDH-derived session key so
// that the final key depends on both the Curve25519 exchange and the
// password-authenticated transcript, preventing a key agreed with the wrong
// peer from passing authentication (CHAKA.h's ChakaDeriveKey, adapted to
// this module's icc.DeriveSessionKey).
func DeriveKey(info *PublicInfo, self icc.EphemeralKeyPair, peerPublic [32]byte, passwordHash [ResponseLength]byte) ([32]byte, error) {
	var salt [8]byte
	putUint64(salt[:], info.ServerRandom)
	return icc.DeriveSessionKey(self, peerPublic, append(salt[:], passwordHash[:]...), []byte("fsp chaka session key"))
}
