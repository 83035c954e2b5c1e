// Package sequence provides the single monotonic 64-bit counter used
// throughout the engine for producer claims, the consumer cursor, and the
// gating cache. It is padded to a full cache line on both sides so it never
// shares a line with unrelated state.
package sequence

import "sync/atomic"

// cacheLinePad is a safe default cache line size for the supported target
// architectures. Some server parts use 128 bytes; 64 is the common case.
const cacheLinePad = 64

// Sequence is a cache-line padded, 64-bit monotonic counter. The zero value
// starts at 0; the engine builds its sequences with New(-1), -1 being the
// "nothing claimed yet" position.
type Sequence struct {
	_     [cacheLinePad]byte
	value atomic.Int64
	_     [cacheLinePad - 8]byte
}

// New returns a Sequence initialized to v.
func New(v int64) *Sequence {
	s := &Sequence{}
	s.value.Store(v)
	return s
}

// Load reads the current value with acquire semantics.
func (s *Sequence) Load() int64 {
	return s.value.Load()
}

// Store writes v with release semantics.
func (s *Sequence) Store(v int64) {
	s.value.Store(v)
}

// CompareAndSwap attempts to change the value from old to new, returning
// whether it succeeded.
func (s *Sequence) CompareAndSwap(old, new int64) bool {
	return s.value.CompareAndSwap(old, new)
}

// Add atomically adds delta and returns the new value.
func (s *Sequence) Add(delta int64) int64 {
	return s.value.Add(delta)
}

// Increment is Add(1); returns the new value.
func (s *Sequence) Increment() int64 {
	return s.Add(1)
}
