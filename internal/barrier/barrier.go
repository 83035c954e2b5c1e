// Package barrier implements the SequenceBarrier: the consumer-facing view
// of "how far can I safely read" plus the one cancellation flag a running
// BatchEventProcessor checks on every iteration.
package barrier

import (
	"errors"

	"github.com/epeshk/serilog-sinks-background/internal/ringbuffer"
	"github.com/epeshk/serilog-sinks-background/internal/sequence"
	"github.com/epeshk/serilog-sinks-background/internal/waitstrategy"
)

// ErrCancelled is returned by WaitFor once the barrier has been cancelled.
var ErrCancelled = errors.New("barrier: cancelled")

// SequenceBarrier presents the sequencer's published upper bound to a
// single consumer and carries that consumer's cancellation signal. It does
// not own the sequencer or the wait strategy; both are owned by the
// MultiProducerSequencer that constructed this barrier.
type SequenceBarrier struct {
	cursor *sequence.Sequence
	avail  *ringbuffer.AvailabilityTable
	wait   *waitstrategy.WaitStrategy
	cancel *waitstrategy.CancelSignal
}

// New constructs a barrier bound to cursor/avail/wait. These are owned by
// the caller (the sequencer); the barrier only reads them.
func New(cursor *sequence.Sequence, avail *ringbuffer.AvailabilityTable, wait *waitstrategy.WaitStrategy) *SequenceBarrier {
	return &SequenceBarrier{
		cursor: cursor,
		avail:  avail,
		wait:   wait,
		cancel: waitstrategy.NewCancelSignal(),
	}
}

// WaitFor returns the highest contiguously published sequence at or above
// next, blocking as needed. A return value below next with a nil error means
// "nothing contiguous yet, re-enter" (the cursor has passed a sequence whose
// slot is not yet published); callers should treat ErrCancelled as the only
// real stop condition and otherwise loop.
func (b *SequenceBarrier) WaitFor(next int64) (int64, error) {
	if b.cancel.Cancelled() {
		return next - 1, ErrCancelled
	}

	avail := b.cursor.Load()
	if avail-next >= b.wait.MinBatchSize() {
		return int64(b.avail.HighestContiguousPublished(uint64(next), uint64(avail))), nil
	}

	r := b.wait.WaitFor(next, b.cursor, b.cancel)
	if b.cancel.Cancelled() {
		return r, ErrCancelled
	}
	if r >= next {
		return int64(b.avail.HighestContiguousPublished(uint64(next), uint64(r))), nil
	}
	return r, nil
}

// CancelProcessing sets the cancel flag and makes sure a parked consumer
// notices promptly.
func (b *SequenceBarrier) CancelProcessing() {
	b.cancel.Cancel()
	b.wait.SignalStopping()
}

// ResetProcessing replaces the cancel flag with a fresh one, used when a
// halted consumer is restarted.
func (b *SequenceBarrier) ResetProcessing() {
	b.cancel = waitstrategy.NewCancelSignal()
}
