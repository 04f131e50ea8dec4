// Package compress wraps LZ4 frame streaming for the FlagCompressed payload
// path of spec §4.6: blocks marked compressed are inflated before delivery,
// and an outgoing transaction may opt into compression, with its LZ4
// writer/reader lazily allocated and released once the transaction ends.
// The lazy-allocate/Reset-on-reuse pattern is grounded on
// other_examples/e60e9436_mjnovice-aistore__transport-send.go.go's lz4Stream:
// a *lz4.Writer created once and Reset against a fresh sink per use instead
// of being reallocated, with frame-checksum and block-size options applied
// once.
package compress

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Writer lazily wraps an *lz4.Writer, allocated on first use and Reset
// (not reallocated) on later Compress calls until Release drops it; the
// next Compress after Release allocates a new one.
type Writer struct {
	buf  bytes.Buffer
	zw   *lz4.Writer
}

// Compress returns the LZ4 frame encoding of payload, reusing the
// underlying writer and scratch buffer across calls.
func (w *Writer) Compress(payload []byte) ([]byte, error) {
	w.buf.Reset()
	if w.zw == nil {
		w.zw = lz4.NewWriter(&w.buf)
	} else {
		w.zw.Reset(&w.buf)
	}
	if _, err := w.zw.Write(payload); err != nil {
		return nil, err
	}
	if err := w.zw.Close(); err != nil {
		return nil, err
	}
	out := make([]byte, w.buf.Len())
	copy(out, w.buf.Bytes())
	return out, nil
}

// Release drops the writer's internal state at the end of a transaction
// (spec §4.6: compression state does not outlive one transmit
// transaction), so the next Compress call starts a fresh LZ4 frame.
func (w *Writer) Release() {
	w.zw = nil
	w.buf.Reset()
}

// Reader lazily wraps an *lz4.Reader the same way Writer wraps *lz4.Writer.
type Reader struct {
	zr *lz4.Reader
	br bytes.Reader
}

// Decompress inflates an LZ4 frame produced by Writer.Compress into dst,
// growing dst as needed, and returns the inflated slice.
func (r *Reader) Decompress(frame []byte, dst []byte) ([]byte, error) {
	r.br.Reset(frame)
	if r.zr == nil {
		r.zr = lz4.NewReader(&r.br)
	} else {
		r.zr.Reset(&r.br)
	}
	dst = dst[:0]
	buf := make([]byte, 4096)
	for {
		n, err := r.zr.Read(buf)
		if n > 0 {
			dst = append(dst, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// Release drops the reader's internal state at the end of a transaction.
func (r *Reader) Release() {
	r.zr = nil
}
