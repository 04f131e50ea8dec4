package cb

import (
	"errors"

	"github.com/fspnet/fsp/seq"
)

var (
	ErrRingFull  = errors.New("fsp/cb: block ring full")
	ErrRingEmpty = errors.New("fsp/cb: block ring empty")
)

// BlockRing is a fixed-capacity ring of BufferBlockDescriptor, generalizing
// internal.Ring's Off/End byte indices (ring.go) to block granularity: Off
// and End index descriptors instead of octets, and each descriptor carries
// its own backing-array view sized blockSize instead of the ring sharing one
// contiguous byte region per read.
type BlockRing struct {
	blocks    []BufferBlockDescriptor
	backing   []byte
	blockSize int
	off, end  int // as in internal.Ring: End==0 means empty, Off==End!=0 means full.
}

// NewBlockRing allocates n blocks of blockSize octets each.
func NewBlockRing(n, blockSize int) *BlockRing {
	r := &BlockRing{
		blocks:    make([]BufferBlockDescriptor, n),
		backing:   make([]byte, n*blockSize),
		blockSize: blockSize,
	}
	for i := range r.blocks {
		r.blocks[i].Data = r.backing[i*blockSize : (i+1)*blockSize : (i+1)*blockSize]
	}
	return r
}

func (r *BlockRing) Cap() int { return len(r.blocks) }

func (r *BlockRing) isFull() bool {
	return r.end != 0 && r.end == r.off
}

// Buffered returns the number of in-use descriptors.
func (r *BlockRing) Buffered() int {
	if r.end == 0 {
		return 0
	}
	if r.end > r.off {
		return r.end - r.off
	}
	return len(r.blocks) - r.off + r.end
}

func (r *BlockRing) Free() int { return len(r.blocks) - r.Buffered() }

// Alloc reserves the next free descriptor at the tail of the ring, assigns
// it sn, and returns it for the caller to fill.
func (r *BlockRing) Alloc(sn seq.Value) (*BufferBlockDescriptor, error) {
	if r.isFull() {
		return nil, ErrRingFull
	}
	idx := r.end
	if r.Buffered() == 0 {
		idx = r.off
	}
	d := &r.blocks[idx]
	d.reset()
	d.SN = sn
	next := idx + 1
	if next == len(r.blocks) {
		next = 0
	}
	r.end = next
	return d, nil
}

// Head returns the oldest in-use descriptor without removing it, or
// ErrRingEmpty if none are in use.
func (r *BlockRing) Head() (*BufferBlockDescriptor, error) {
	if r.Buffered() == 0 {
		return nil, ErrRingEmpty
	}
	return &r.blocks[r.off], nil
}

// Advance retires the oldest descriptor, making its storage available for a
// future Alloc. Callers must ensure the descriptor's flags permit recycling
// (FlagAcknowledged for send blocks, FlagDelivered for receive blocks).
func (r *BlockRing) Advance() error {
	if r.Buffered() == 0 {
		return ErrRingEmpty
	}
	next := r.off + 1
	if next == len(r.blocks) {
		next = 0
	}
	if next == r.end {
		r.off, r.end = 0, 0
	} else {
		r.off = next
	}
	return nil
}

// Each calls fn for every in-use descriptor, oldest first, stopping early if
// fn returns false.
func (r *BlockRing) Each(fn func(*BufferBlockDescriptor) bool) {
	n := r.Buffered()
	idx := r.off
	for i := 0; i < n; i++ {
		if !fn(&r.blocks[idx]) {
			return
		}
		idx++
		if idx == len(r.blocks) {
			idx = 0
		}
	}
}

// ByIndex returns the i'th in-use descriptor (0 is the oldest), used by the
// reliability engine to index into the send ring by sequence offset.
func (r *BlockRing) ByIndex(i int) (*BufferBlockDescriptor, error) {
	if i < 0 || i >= r.Buffered() {
		return nil, ErrRingEmpty
	}
	idx := r.off + i
	if idx >= len(r.blocks) {
		idx -= len(r.blocks)
	}
	return &r.blocks[idx], nil
}

// BySN returns the in-use descriptor carrying sequence number sn, or
// ErrRingEmpty if no in-flight block matches. Used to resolve a caller's
// in-place send-buffer handle back to its descriptor at commit time (e.g.
// MultiplyAndGetSendBuffer's two-step fill-then-commit path).
func (r *BlockRing) BySN(sn seq.Value) (*BufferBlockDescriptor, error) {
	var found *BufferBlockDescriptor
	r.Each(func(d *BufferBlockDescriptor) bool {
		if d.SN == sn {
			found = d
			return false
		}
		return true
	})
	if found == nil {
		return nil, ErrRingEmpty
	}
	return found, nil
}
