// Package ringbuffer provides the fixed power-of-two backing array for the
// engine along with the parallel availability table that marks which
// sequences have actually been published.
//
// A RingBuffer owns exactly one slot per logical position `seq mod N`; the
// slot is exclusively owned by the producer that claimed `seq` until that
// producer publishes, then exclusively by the consumer until the consumer
// advances past `seq`. No locking is required on this hot path.
package ringbuffer

import (
	"errors"
	"math/bits"
	"sync/atomic"
)

// cacheLinePad mirrors the engine-wide assumption that 64 bytes is a safe
// cache line size; boundary fields are padded so the buffer's cursors never
// share a line with unrelated heap state.
const cacheLinePad = 64

// ErrNotPowerOfTwo is returned when a requested size is not a power of two.
var ErrNotPowerOfTwo = errors.New("ringbuffer: size must be a power of two")

// RingBuffer is a fixed-size, pre-allocated array of slots. It never grows
// or shrinks after construction and performs no allocation on Ref/Batch.
type RingBuffer[E any] struct {
	_ [cacheLinePad]byte

	entries    []E
	mask       uint64
	indexShift uint

	_ [cacheLinePad]byte
}

// New creates a RingBuffer with size slots, each pre-filled with the zero
// value of E. size must be a power of two; use config.RoundUpToPowerOfTwo
// to normalize an arbitrary requested size before calling New.
func New[E any](size uint64) (*RingBuffer[E], error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, ErrNotPowerOfTwo
	}

	return &RingBuffer[E]{
		entries:    make([]E, size),
		mask:       size - 1,
		indexShift: uint(bits.TrailingZeros64(size)),
	}, nil
}

// Size returns the fixed capacity of the buffer.
func (rb *RingBuffer[E]) Size() uint64 {
	return uint64(len(rb.entries))
}

// Mask returns size-1.
func (rb *RingBuffer[E]) Mask() uint64 {
	return rb.mask
}

// IndexShift returns log2(size), used to compute availability generations.
func (rb *RingBuffer[E]) IndexShift() uint {
	return rb.indexShift
}

// Ref returns a pointer to the slot for seq, O(1) via seq & mask.
func (rb *RingBuffer[E]) Ref(seq uint64) *E {
	return &rb.entries[seq&rb.mask]
}

// Batch returns a contiguous slice covering [lo, hi] that never wraps the
// physical backing array. Its length is min(hi-lo+1, N-(lo&mask)); a caller
// whose range crosses the wrap point makes a follow-up call starting at
// lo+len(batch) to consume the remainder.
func (rb *RingBuffer[E]) Batch(lo, hi uint64) []E {
	if hi < lo {
		return nil
	}

	idx := lo & rb.mask
	want := hi - lo + 1
	maxRun := uint64(len(rb.entries)) - idx
	if want > maxRun {
		want = maxRun
	}

	return rb.entries[idx : idx+want]
}

// AvailabilityTable is the parallel "published" flag array. For sequence s,
// the slot is considered published iff avail[s&mask] == s>>indexShift. The
// initial value -1 ensures no slot is mistakenly considered published for
// sequence 0 (whose generation is also 0).
type AvailabilityTable struct {
	_ [cacheLinePad]byte

	avail      []atomic.Int32
	mask       uint64
	indexShift uint

	_ [cacheLinePad]byte
}

// NewAvailabilityTable allocates a table sized and shifted to match a
// RingBuffer of the same size.
func NewAvailabilityTable(size uint64, indexShift uint) (*AvailabilityTable, error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, ErrNotPowerOfTwo
	}

	at := &AvailabilityTable{
		avail:      make([]atomic.Int32, size),
		mask:       size - 1,
		indexShift: indexShift,
	}
	for i := range at.avail {
		at.avail[i].Store(-1)
	}
	return at, nil
}

// Publish marks seq as available with a release store.
func (at *AvailabilityTable) Publish(seq uint64) {
	at.avail[seq&at.mask].Store(int32(seq >> at.indexShift))
}

// IsAvailable reports whether seq's slot has been published, with an
// acquire load.
func (at *AvailabilityTable) IsAvailable(seq uint64) bool {
	return at.avail[seq&at.mask].Load() == int32(seq>>at.indexShift)
}

// HighestContiguousPublished scans [lo, hi] and returns the highest seq such
// that every sequence in [lo, seq] is published. If lo itself is not yet
// published it returns lo-1. This is what keeps the consumer from ever
// dispatching across a gap left by a still-in-flight concurrent publisher.
func (at *AvailabilityTable) HighestContiguousPublished(lo, hi uint64) uint64 {
	for s := lo; s <= hi; s++ {
		if !at.IsAvailable(s) {
			return s - 1
		}
	}
	return hi
}
