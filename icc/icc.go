// Package icc implements the Integrity/Confidentiality Check engine of spec
// §4.2: per-packet authentication over the 24-octet normal header and
// payload, either by AES-GCM AEAD tag or, absent a negotiated session key, by
// a CRC-64 checksum. Its running-checksum shape is grounded on
// github.com/soypat/lneto's CRC791 (crc.go): a small accumulator type with
// Write/Sum methods rather than a one-shot function, adapted here to the
// stdlib hash/crc64 table and to AEAD sealing for the encrypted case.
package icc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"hash/crc64"
)

// RekeyThreshold is FSP_REKEY_THRESHOLD: the number of octets of keyLife
// remaining at which a new session key must already be installed, so that a
// fresh key::context is ready one threshold before the old one is exhausted
// (spec §4.2).
const RekeyThreshold = 0x20000000

var (
	ErrNoSessionKey  = errors.New("fsp/icc: no session key installed")
	ErrAuthFailed    = errors.New("fsp/icc: integrity check failed")
	ErrKeyExhausted  = errors.New("fsp/icc: key life exhausted, rekey overdue")
	ErrBadKeyLength  = errors.New("fsp/icc: session key must be 32 octets")
)

// Suite selects the integrity algorithm in effect for a KeyContext.
type Suite uint8

const (
	// SuiteCRC64 is the unauthenticated fallback used before a session key
	// is negotiated (e.g. during CONNECT_BOOTSTRAP/CONNECT_AFFIRMING).
	SuiteCRC64 Suite = iota
	// SuiteAESGCM authenticates and encrypts the payload once a session key
	// has been agreed (post CHALLENGING, spec §4.2/§4.7).
	SuiteAESGCM
)

var crc64Table = crc64.MakeTable(crc64.ISO)

// KeyContext is one generation of session key material, with the send/recv
// sequence numbers from which it first applies and the octets of keyLife it
// has left before a successor context must take over (spec §4.2).
type KeyContext struct {
	Suite     Suite
	Key       [32]byte
	Salt      uint32
	KeyLife   uint64 // octets of plaintext this context may still protect.
	FirstSend uint32 // lowest sequenceNo sent under this context.
	FirstRecv uint32 // lowest sequenceNo expected to be received under it.

	aead cipher.AEAD
}

func newAEAD(key *[32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Engine holds the current and previous KeyContext for one direction-pair of
// a connection, implementing the overlap window during which both an
// outgoing packet's key and a just-retired key may still need to verify
// inbound packets that were in flight at rekey time.
type Engine struct {
	Current  *KeyContext
	Previous *KeyContext

	// pending holds a master key installed ahead of its activation point
	// (InstallMasterKey's "scheduling a key swap at a future SN", spec §6),
	// promoted to Current by AdvancePending once outbound sequence numbers
	// reach it.
	pending *pendingKey
}

// pendingKey is a master key scheduled to take over at a future sequence
// number rather than immediately.
type pendingKey struct {
	key     [32]byte
	salt    uint32
	atSN    uint32
	keyLife uint64
}

// NewEngine returns an Engine that authenticates with CRC-64 until a session
// key is installed via InstallSessionKey.
func NewEngine() *Engine {
	return &Engine{Current: &KeyContext{Suite: SuiteCRC64}}
}

// InstallSessionKey adopts key as the Current context from firstSN onward,
// demoting the prior Current to Previous so packets already in flight under
// it still verify (spec §4.2, §4.7 CHALLENGING->ESTABLISHED transition).
func (e *Engine) InstallSessionKey(key [32]byte, salt uint32, firstSN uint32, keyLife uint64) error {
	aead, err := newAEAD(&key)
	if err != nil {
		return err
	}
	e.Previous = e.Current
	e.Current = &KeyContext{
		Suite:     SuiteAESGCM,
		Key:       key,
		Salt:      salt,
		KeyLife:   keyLife,
		FirstSend: firstSN,
		FirstRecv: firstSN,
		aead:      aead,
	}
	return nil
}

// InstallMasterKey schedules key to become the Current context once outbound
// sequence numbers reach atSN, rather than switching immediately the way
// InstallSessionKey does. Applications use this after running an
// application-level key agreement (e.g. chaka) over an already-established
// connection, so both ends swap keys at the same SN (spec §6).
func (e *Engine) InstallMasterKey(key [32]byte, salt uint32, atSN uint32, keyLife uint64) {
	e.pending = &pendingKey{key: key, salt: salt, atSN: atSN, keyLife: keyLife}
}

// AdvancePending promotes a scheduled master key to Current once sn reaches
// its scheduled activation point, called once per outbound packet by svc's
// transmit loop ahead of Sign.
func (e *Engine) AdvancePending(sn uint32) error {
	if e.pending == nil || sn < e.pending.atSN {
		return nil
	}
	p := e.pending
	if err := e.InstallSessionKey(p.key, p.salt, sn, p.keyLife); err != nil {
		return err
	}
	e.pending = nil
	return nil
}

// NeedsRekey reports whether Current's remaining key life has fallen below
// RekeyThreshold and a successor key should already have been scheduled.
func (e *Engine) NeedsRekey() bool {
	return e.Current.Suite == SuiteAESGCM && e.Current.KeyLife < RekeyThreshold
}

// Consume accounts for n octets of plaintext sent or received under Current.
func (e *Engine) Consume(n uint64) {
	if e.Current.KeyLife > n {
		e.Current.KeyLife -= n
	} else {
		e.Current.KeyLife = 0
	}
}

// nonce derives the 12-octet GCM nonce from the context salt and packet
// sequence number, matching FSP's habit of deriving an IV from the sequence
// number rather than carrying an explicit one on the wire.
func nonce(salt uint32, sn uint32) [12]byte {
	var n [12]byte
	binary.BigEndian.PutUint32(n[0:4], salt)
	binary.BigEndian.PutUint32(n[4:8], sn)
	// remaining 4 octets are left zero: GCM nonces need not be random, only
	// unique per key, and (salt,sn) is unique for the life of the context.
	return n
}

// Sign authenticates aad (the normal header with the integrity field
// zeroed) and payload under sn, returning the tag to place in the
// integrity field together with the payload to send: unchanged under
// CRC-64, or AEAD-sealed (in payload's backing array) when a session key is
// installed.
//
// Sign never encrypts aad, only payload; the caller is responsible for
// splicing the returned ciphertext back into the packet buffer.
//
// A GCM seal appends a 16-octet tag to the ciphertext. Spec §4.2 carries
// only the first 8 octets of that tag in the packet's dedicated integrity
// field; sealed here holds the ciphertext with just the trailing 8 octets
// appended, so the wire payload is not 8 octets larger than necessary by
// duplicating the leading half of the tag.
func (e *Engine) Sign(aad, payload []byte, sn uint32) (tag uint64, sealed []byte, err error) {
	kc := e.Current
	if kc.Suite == SuiteCRC64 {
		return crc64Tag(aad, payload), payload, nil
	}
	n := nonce(kc.Salt, sn)
	full := kc.aead.Seal(payload[:0:len(payload)], n[:], payload, aad)
	ciphertextLen := len(full) - kc.aead.Overhead()
	fullTag := full[ciphertextLen:]
	tag = binary.BigEndian.Uint64(fullTag[:8])
	// sealed is ciphertext ‖ trailing 8 octets of the tag; the leading 8
	// octets already live in tag/the integrity field and are not repeated.
	sealed = append(full[:ciphertextLen:ciphertextLen], fullTag[8:]...)
	return tag, sealed, nil
}

// Verify checks tag (and, for AEAD suites, decrypts ciphertext into a newly
// allocated plain slice)
// against aad and sn, trying Current first and falling back to Previous to
// tolerate packets that crossed a rekey boundary in flight.
func (e *Engine) Verify(aad, ciphertext []byte, sn uint32, tag uint64) (plain []byte, err error) {
	plain, err = verifyWith(e.Current, aad, ciphertext, sn, tag)
	if err == nil {
		return plain, nil
	}
	if e.Previous != nil {
		plain, err2 := verifyWith(e.Previous, aad, ciphertext, sn, tag)
		if err2 == nil {
			return plain, nil
		}
	}
	return nil, err
}

// verifyWith reconstructs the 16-octet GCM tag Sign split across the wire
// (8 octets in the packet's integrity field, 8 trailing octets appended to
// ciphertext) before handing the original full tag back to Open.
func verifyWith(kc *KeyContext, aad, ciphertext []byte, sn uint32, tag uint64) ([]byte, error) {
	if kc == nil {
		return nil, ErrNoSessionKey
	}
	if kc.Suite == SuiteCRC64 {
		if crc64Tag(aad, ciphertext) != tag {
			return nil, ErrAuthFailed
		}
		return ciphertext, nil
	}
	const trailingTagLen = 8
	overhead := kc.aead.Overhead()
	if len(ciphertext) < trailingTagLen {
		return nil, ErrAuthFailed
	}
	body := ciphertext[:len(ciphertext)-trailingTagLen]
	trailingTag := ciphertext[len(ciphertext)-trailingTagLen:]

	full := make([]byte, 0, len(body)+overhead)
	full = append(full, body...)
	var leadingTag [8]byte
	binary.BigEndian.PutUint64(leadingTag[:], tag)
	full = append(full, leadingTag[:]...)
	full = append(full, trailingTag...)

	n := nonce(kc.Salt, sn)
	plain, err := kc.aead.Open(body[:0:0], n[:], full, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plain, nil
}

// crc64Tag folds a CRC-64/ISO checksum of aad‖payload into the low 64 bits
// used as the wire integrity field when no session key is installed.
func crc64Tag(aad, payload []byte) uint64 {
	c := crc64.New(crc64Table)
	c.Write(aad)
	c.Write(payload)
	return c.Sum64()
}

// RandomSalt returns a fresh 32-bit salt suitable for a new KeyContext,
// drawn from crypto/rand the way session IDs and nonces are elsewhere in
// this module.
func RandomSalt() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
