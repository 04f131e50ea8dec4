package icc

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// ComputeBootstrapCookie derives the bootstrap handshake cookie spec §9.1
// describes: H(checkCode ‖ sourceALFID ‖ destALFID ‖ salt ‖ t), truncated to
// 64 bits. Binding the cookie to this exact (source, dest, salt) tuple and
// timestamp means a cookie computed for one pairing cannot validate a
// CONNECT_REQUEST claiming a different one.
func ComputeBootstrapCookie(checkCode uint64, sourceALFID, destALFID, salt uint32, t time.Time) uint64 {
	var buf [8 + 4 + 4 + 4 + 8]byte
	binary.BigEndian.PutUint64(buf[0:8], checkCode)
	binary.BigEndian.PutUint32(buf[8:12], sourceALFID)
	binary.BigEndian.PutUint32(buf[12:16], destALFID)
	binary.BigEndian.PutUint32(buf[16:20], salt)
	binary.BigEndian.PutUint64(buf[20:28], uint64(t.Unix()))
	sum := sha256.Sum256(buf[:])
	return binary.BigEndian.Uint64(sum[:8])
}

// RandomCheckCode returns a fresh 64-bit check code for an INIT_CONNECT,
// drawn from crypto/rand alongside RandomSalt.
func RandomCheckCode() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
