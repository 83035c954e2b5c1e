// Package sequencer implements the multi-producer sequencer: claiming
// sequence ranges for producers, tracking per-slot publication, and
// answering the consumer's "where is the safely consumable frontier?"
// question through the barriers it creates.
package sequencer

import (
	"runtime"
	"sync/atomic"

	"github.com/epeshk/serilog-sinks-background/internal/barrier"
	"github.com/epeshk/serilog-sinks-background/internal/ringbuffer"
	"github.com/epeshk/serilog-sinks-background/internal/sequence"
	"github.com/epeshk/serilog-sinks-background/internal/waitstrategy"
)

// BufferUnavailableCounter is notified once per blocking Claim call that
// had to wait for the consumer to advance. It is a narrow interface so
// this package doesn't need to depend on the diagnostics package.
type BufferUnavailableCounter interface {
	IncBufferUnavailable()
}

// MultiProducerSequencer coordinates any number of producer goroutines
// claiming and publishing sequences against a single RingBuffer and
// AvailabilityTable, gated by a single consumer sequence.
type MultiProducerSequencer struct {
	cursor     *sequence.Sequence
	consumer   *sequence.Sequence
	avail      *ringbuffer.AvailabilityTable
	wait       *waitstrategy.WaitStrategy
	bufferSize int64

	// gatingCache is the GatingSequenceCache: a non-authoritative,
	// latest-observed consumer position producers use to elide the
	// expensive acquire load on the consumer sequence.
	gatingCache atomic.Int64

	unavailable BufferUnavailableCounter
}

// New constructs a sequencer over avail, gated by consumer, using
// wait to signal the consumer when producers must wait or publish.
// unavailable may be nil.
func New(
	consumer *sequence.Sequence,
	avail *ringbuffer.AvailabilityTable,
	wait *waitstrategy.WaitStrategy,
	bufferSize uint64,
	unavailable BufferUnavailableCounter,
) *MultiProducerSequencer {
	s := &MultiProducerSequencer{
		cursor:      sequence.New(-1),
		consumer:    consumer,
		avail:       avail,
		wait:        wait,
		bufferSize:  int64(bufferSize),
		unavailable: unavailable,
	}
	s.gatingCache.Store(-1)
	return s
}

// Cursor exposes the producer cursor for the barrier construction and for
// shutdown's backlog check; producers must not write through it directly.
func (s *MultiProducerSequencer) Cursor() *sequence.Sequence {
	return s.cursor
}

// refreshGatingCache reloads the cache from the authoritative consumer
// sequence whenever it might be stale: the cache is stale exactly when it
// cannot yet prove capacity for next, i.e. wrapPoint > cached (capacity not
// provably available) or cached >= next (cache is no longer behind the
// claim it would be asked to gate, and may be carrying a value from a
// previous generation's check). Both Claim and TryClaim share this one
// staleness rule, per the resolved GatingSequenceCache open question.
func (s *MultiProducerSequencer) refreshGatingCache(wrapPoint, next int64) int64 {
	cached := s.gatingCache.Load()
	if wrapPoint > cached || cached >= next {
		cached = s.consumer.Load()
		s.gatingCache.Store(cached)
	}
	return cached
}

func (s *MultiProducerSequencer) hasCapacity(next int64) bool {
	wrapPoint := next - s.bufferSize
	cached := s.refreshGatingCache(wrapPoint, next)
	return wrapPoint <= cached
}

// Claim claims the next single sequence, spinning (and signaling the wait
// strategy so a lazy consumer wakes to drain) until the wrap point clears if
// the buffer is momentarily full. It never fails.
func (s *MultiProducerSequencer) Claim() int64 {
	next := s.cursor.Increment()
	wrapPoint := next - s.bufferSize

	cached := s.refreshGatingCache(wrapPoint, next)
	if wrapPoint > cached {
		if s.unavailable != nil {
			s.unavailable.IncBufferUnavailable()
		}
		s.wait.SignalAllWhenBlocking()

		for {
			gating := s.consumer.Load()
			s.gatingCache.Store(gating)
			if wrapPoint <= gating {
				break
			}
			runtime.Gosched()
		}
	}

	return next
}

// bufferFullError is the type of ErrBufferFull.
type bufferFullError struct{}

func (bufferFullError) Error() string { return "sequencer: buffer is full" }

// ErrBufferFull is the sentinel returned by TryClaim when the buffer has no
// free slot.
var ErrBufferFull error = bufferFullError{}

// TryClaim attempts to claim the next sequence without blocking. It always
// uses compare-and-swap, never fetch-and-add, so a failed claim never
// advances the cursor (the simpler of the two Open Question options,
// chosen over a recycling queue per SPEC_FULL.md §9).
func (s *MultiProducerSequencer) TryClaim() (int64, error) {
	for {
		current := s.cursor.Load()
		next := current + 1

		if !s.hasCapacity(next) {
			return 0, ErrBufferFull
		}
		if s.cursor.CompareAndSwap(current, next) {
			return next, nil
		}
	}
}

// Publish marks seq as available and, if the wait strategy has a parked
// consumer, considers waking it in batch-sized increments.
func (s *MultiProducerSequencer) Publish(seq int64) {
	s.avail.Publish(uint64(seq))
	s.wait.SignalAllWhenBlockingUpTo(seq)
}

// HighestContiguousPublished returns the highest sequence in [lo, hi] such
// that every sequence from lo through it has been published.
func (s *MultiProducerSequencer) HighestContiguousPublished(lo, hi int64) int64 {
	return int64(s.avail.HighestContiguousPublished(uint64(lo), uint64(hi)))
}

// NewBarrier returns a SequenceBarrier bound to this sequencer's cursor,
// availability table, and wait strategy.
func (s *MultiProducerSequencer) NewBarrier() *barrier.SequenceBarrier {
	return barrier.New(s.cursor, s.avail, s.wait)
}

// SignalConsumer unconditionally wakes a parked consumer, used by the
// Coordinator's drain loop so shutdown never waits out a long idle
// interval.
func (s *MultiProducerSequencer) SignalConsumer() {
	s.wait.SignalAllWhenBlocking()
}
