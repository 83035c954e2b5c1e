// Package waitstrategy implements the hybrid spin/monitor strategy the
// single consumer goroutine uses to wait for new sequences to be published.
//
// The strategy has two phases: a short lock-free spin that keeps bursty
// workloads entirely off the monitor, followed by a sync.Cond block phase
// that parks the goroutine until either enough new sequences have been
// published (wakeBatchSize) or an idle timer (wakeupMs) elapses. The idle
// timer guarantees liveness even if a producer only ever took the spin path
// and never explicitly signaled.
package waitstrategy

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/epeshk/serilog-sinks-background/internal/sequence"
)

// CancelSignal is a one-shot, cooperative cancellation flag owned by a
// single consumer run. It is safe to read concurrently with Cancel.
type CancelSignal struct {
	cancelled atomic.Bool
}

// NewCancelSignal returns a fresh, unset signal.
func NewCancelSignal() *CancelSignal {
	return &CancelSignal{}
}

// Cancel marks the signal cancelled. Idempotent.
func (c *CancelSignal) Cancel() {
	c.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (c *CancelSignal) Cancelled() bool {
	return c.cancelled.Load()
}

// Config holds the tunables for a WaitStrategy.
type Config struct {
	// MaxSpins bounds the lock-free spin phase.
	MaxSpins int
	// SpinBatchSize is the number of newly published sequences the spin
	// phase waits to observe before returning; also exposed as the
	// barrier's fast-path minimum batch size.
	SpinBatchSize int64
	// WakeBatchSize is how many newly published sequences justify an
	// unconditional wake of a parked consumer.
	WakeBatchSize int64
	// WakeupMs bounds how long the block phase parks before re-checking
	// on its own, even without an explicit signal.
	WakeupMs int64
}

// WaitStrategy is the hybrid spin-then-monitor wait strategy.
type WaitStrategy struct {
	maxSpins      int
	spinBatchSize int64
	wakeBatchSize int64
	wakeupMs      atomic.Int64

	mu        sync.Mutex
	cond      *sync.Cond
	requested atomic.Int64
	isWaiting atomic.Bool
}

// New constructs a WaitStrategy from cfg.
func New(cfg Config) *WaitStrategy {
	ws := &WaitStrategy{
		maxSpins:      cfg.MaxSpins,
		spinBatchSize: cfg.SpinBatchSize,
		wakeBatchSize: cfg.WakeBatchSize,
	}
	ws.cond = sync.NewCond(&ws.mu)
	ws.wakeupMs.Store(cfg.WakeupMs)
	return ws
}

// MinBatchSize is the spin phase's fast-path threshold, consulted by the
// SequenceBarrier before it bothers calling WaitFor at all.
func (ws *WaitStrategy) MinBatchSize() int64 {
	return ws.spinBatchSize
}

// WaitFor blocks the calling (consumer) goroutine until cursor has advanced
// to at least seq or the cancel signal is observed. The idle timer only
// makes a parked waiter re-check; with nothing new it parks again. It
// returns the last observed cursor value, which is below seq only when
// cancellation ended the wait.
func (ws *WaitStrategy) WaitFor(seq int64, cursor *sequence.Sequence, cancel *CancelSignal) int64 {
	// Spin phase: keeps bursty producers entirely off the monitor.
	for i := 0; i < ws.maxSpins; i++ {
		if cancel.Cancelled() {
			return cursor.Load()
		}
		current := cursor.Load()
		if current >= seq && current-seq >= ws.spinBatchSize-1 {
			return current
		}
		spinHint(i)
	}

	// Block phase.
	ws.mu.Lock()
	defer ws.mu.Unlock()

	for {
		current := cursor.Load()
		if current >= seq || cancel.Cancelled() {
			return current
		}

		ws.requested.Store(seq)
		ws.isWaiting.Store(true)

		timer := time.AfterFunc(time.Duration(ws.wakeupMs.Load())*time.Millisecond, func() {
			ws.mu.Lock()
			ws.cond.Broadcast()
			ws.mu.Unlock()
		})

		ws.cond.Wait()
		timer.Stop()

		ws.isWaiting.Store(false)

		current = cursor.Load()
		if current >= seq || cancel.Cancelled() {
			return current
		}
		// Spurious or idle wakeup with nothing new: loop and re-wait.
	}
}

// SignalAllWhenBlocking unconditionally wakes a parked consumer, if one is
// parked. Used when a producer must guarantee the consumer notices new work
// regardless of how much was published (e.g. on shutdown drain).
func (ws *WaitStrategy) SignalAllWhenBlocking() {
	if !ws.isWaiting.CompareAndSwap(true, false) {
		return
	}
	ws.mu.Lock()
	ws.cond.Broadcast()
	ws.mu.Unlock()
}

// SignalAllWhenBlockingUpTo wakes a parked consumer only if publishedUpTo
// has advanced far enough past the requested sequence to amortize monitor
// traffic across a full batch, per wakeBatchSize. Call this on every
// publish under normal operation; call SignalAllWhenBlocking instead when
// an unconditional wake is required.
func (ws *WaitStrategy) SignalAllWhenBlockingUpTo(publishedUpTo int64) {
	if !ws.isWaiting.Load() {
		return
	}
	if publishedUpTo < ws.requested.Load()+ws.wakeBatchSize {
		return
	}
	ws.SignalAllWhenBlocking()
}

// SignalStopping shortens the idle wakeup interval so a parked consumer
// returns promptly, then performs an unconditional wake.
func (ws *WaitStrategy) SignalStopping() {
	ws.wakeupMs.Store(15)
	ws.SignalAllWhenBlocking()
}

// spinHint yields increasingly to the scheduler as the spin count grows,
// so a few iterations are pure busy-wait but a longer spin backs off.
func spinHint(iteration int) {
	if iteration < 4 {
		return
	}
	runtime.Gosched()
}
