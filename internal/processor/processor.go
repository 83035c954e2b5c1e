// Package processor implements the single-consumer BatchEventProcessor: the
// claim→dispatch→advance loop that drives a ring buffer's only reader.
package processor

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/epeshk/serilog-sinks-background/internal/barrier"
	"github.com/epeshk/serilog-sinks-background/internal/ringbuffer"
	"github.com/epeshk/serilog-sinks-background/internal/sequence"
)

// State is one of the processor's three lifecycle states.
type State int32

const (
	Idle State = iota
	Running
	Halted
)

// ErrAlreadyRunning is returned by Start when the processor is already
// Running.
var ErrAlreadyRunning = errors.New("processor: already running")

// HandleFunc delivers one event downstream. A non-nil error discards the
// event and is logged, unless it is an aggregate (Unwrap() []error) error,
// which is discarded silently; it never stalls the loop.
type HandleFunc[E any] func(e E) error

// BatchEventProcessor claims contiguous published ranges from a barrier and
// dispatches each event in the range to handle, one event at a time, never
// stalling on a handler fault.
type BatchEventProcessor[E any] struct {
	ring     *ringbuffer.RingBuffer[E]
	barrier  *barrier.SequenceBarrier
	consumer *sequence.Sequence
	handle   HandleFunc[E]
	logger   *zap.Logger

	state atomic.Int32

	// mu guards done, which run closes on exit. Start waits on a prior
	// run's done before resetting the barrier and spawning a new one, so
	// at most one run goroutine is ever alive and no goroutine touches the
	// barrier's cancel signal while another still reads it.
	mu   sync.Mutex
	done chan struct{}
}

// New constructs a processor reading ring via b, advancing consumer as it
// goes, delivering each event to handle. logger may be nil (defaults to a
// no-op logger).
func New[E any](
	ring *ringbuffer.RingBuffer[E],
	b *barrier.SequenceBarrier,
	consumer *sequence.Sequence,
	handle HandleFunc[E],
	logger *zap.Logger,
) *BatchEventProcessor[E] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchEventProcessor[E]{
		ring:     ring,
		barrier:  b,
		consumer: consumer,
		handle:   handle,
		logger:   logger,
	}
}

// State reports the processor's current lifecycle state.
func (p *BatchEventProcessor[E]) State() State {
	return State(p.state.Load())
}

// Start transitions Idle or Halted into Running and spawns the dispatch
// loop on its own goroutine. Only an already-Running processor rejects the
// call, with ErrAlreadyRunning; a Halted processor restarts cleanly and
// resumes from the sequence after the one it last stored, so no event is
// delivered twice.
func (p *BatchEventProcessor[E]) Start() error {
	for {
		current := State(p.state.Load())
		if current == Running {
			return ErrAlreadyRunning
		}
		if p.state.CompareAndSwap(int32(current), int32(Running)) {
			break
		}
	}

	p.mu.Lock()
	prior := p.done
	p.mu.Unlock()
	if prior != nil {
		// A previous run loop may still be mid-exit; wait for it so the
		// barrier reset below never races its (not yet dead) cancel read.
		<-prior
	}

	p.barrier.ResetProcessing()
	done := make(chan struct{})
	p.mu.Lock()
	p.done = done
	p.mu.Unlock()
	go p.run(done)
	return nil
}

// Halt transitions to Halted, cancels the barrier so a parked consumer
// goroutine notices promptly, and blocks until the run loop has actually
// exited — so a caller can safely close or reuse the downstream the moment
// Halt returns, with no dispatch still in flight.
func (p *BatchEventProcessor[E]) Halt() {
	p.state.Store(int32(Halted))
	p.barrier.CancelProcessing()

	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// run is the claim→dispatch→advance loop. It owns next/consumer; no other
// goroutine writes the consumer sequence while this loop is Running.
func (p *BatchEventProcessor[E]) run(done chan struct{}) {
	defer close(done)

	next := p.consumer.Load() + 1

	for {
		available, err := p.barrier.WaitFor(next)
		if err != nil {
			if p.State() != Running {
				return
			}
			// Transient cancel during restart: loop back to WaitFor, which
			// will observe the fresh (reset) cancel signal.
			continue
		}

		if available < next {
			continue // next is not contiguously published yet
		}

		batch := p.ring.Batch(uint64(next), uint64(available))
		for i, e := range batch {
			if p.State() != Running {
				// Halted mid-batch: record what was delivered and stop, so
				// Halt never waits out the remainder of a long batch.
				p.consumer.Store(next + int64(i) - 1)
				return
			}
			p.dispatch(next+int64(i), e)
		}
		next += int64(len(batch))
		p.consumer.Store(next - 1)
	}
}

// multiError is the Go 1.20+ shape produced by errors.Join and similar
// fan-out aggregators.
type multiError interface {
	Unwrap() []error
}

// dispatch delivers one event, recovering a handler panic and discarding
// both panics and returned errors rather than ever stalling the loop.
func (p *BatchEventProcessor[E]) dispatch(seq int64, e E) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("handler panicked, discarding event",
				zap.Int64("sequence", seq), zap.Any("panic", r))
		}
	}()

	err := p.handle(e)
	if err == nil {
		return
	}
	if _, ok := err.(multiError); ok {
		// The handler already fanned out and reported each failure itself.
		return
	}
	p.logger.Warn("handler returned error, discarding event",
		zap.Int64("sequence", seq), zap.Error(err))
}
