// Package asynclog is an asynchronous shim in front of a synchronous,
// possibly slow downstream sink: producers publish onto a lock-free ring
// buffer, a single dedicated goroutine drains it and calls the downstream
// collaborator, and an overload policy (drop or block) governs what
// happens when producers outrun the consumer.
package asynclog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/epeshk/serilog-sinks-background/internal/config"
	"github.com/epeshk/serilog-sinks-background/internal/diagnostics"
	"github.com/epeshk/serilog-sinks-background/internal/processor"
	"github.com/epeshk/serilog-sinks-background/internal/ringbuffer"
	"github.com/epeshk/serilog-sinks-background/internal/sequence"
	"github.com/epeshk/serilog-sinks-background/internal/sequencer"
	"github.com/epeshk/serilog-sinks-background/internal/waitstrategy"
)

// Sink is the engine's public producer/shutdown surface.
type Sink[E any] interface {
	// Publish submits e. It never returns an error in steady state: under
	// the Drop policy a full buffer silently discards e (bumping the
	// events-dropped counter); under Block it waits for room.
	Publish(e E) error
	// Close drains the buffer, halts the consumer, and closes the
	// downstream if it supports io.Closer. Repeated calls are a no-op.
	Close(ctx context.Context) error
}

// Downstream is the synchronous collaborator events are delivered to. Emit
// may be slow and may return an error or panic; neither stalls the engine.
// A Downstream that also implements io.Closer has Close called once, from
// Sink.Close.
type Downstream[E any] interface {
	Emit(e E) error
}

// Option configures a Sink under construction; re-exported from the
// internal config package so callers only ever import this package.
type Option = config.Option

var (
	WithBufferSize        = config.WithBufferSize
	WithBlockWhenFull     = config.WithBlockWhenFull
	WithWakeBatchSize     = config.WithWakeBatchSize
	WithSpinBatchSize     = config.WithSpinBatchSize
	WithWakeupMs          = config.WithWakeupMs
	WithShutdownTimeoutMs = config.WithShutdownTimeoutMs
	WithLogger            = config.WithLogger
)

// ErrShutdownTimeout is returned by Close when the drain deadline elapses
// before the backlog empties; the consumer is halted forcibly regardless.
var ErrShutdownTimeout = errors.New("asynclog: shutdown drain deadline exceeded")

// coordinator is the engine's Sink implementation: it owns the ring
// buffer, sequencer, and processor, and implements the overload policy and
// shutdown sequencing.
type coordinator[E any] struct {
	cfg        config.Config
	downstream Downstream[E]

	ring     *ringbuffer.RingBuffer[E]
	seq      *sequencer.MultiProducerSequencer
	consumer *sequence.Sequence
	proc     *processor.BatchEventProcessor[E]
	counters *diagnostics.Counters
	reader   *diagnostics.Reader

	closing atomic.Bool
}

// New builds a Sink wrapping downstream, applying opts over the library
// defaults, and starts its consumer goroutine before returning.
func New[E any](downstream Downstream[E], opts ...Option) (Sink[E], error) {
	cfg, err := config.Build(opts...)
	if err != nil {
		return nil, err
	}

	ring, err := ringbuffer.New[E](cfg.BufferSize)
	if err != nil {
		return nil, err
	}
	avail, err := ringbuffer.NewAvailabilityTable(cfg.BufferSize, ring.IndexShift())
	if err != nil {
		return nil, err
	}

	counters := diagnostics.NewCounters()
	consumer := sequence.New(-1)
	ws := waitstrategy.New(waitstrategy.Config{
		MaxSpins:      cfg.MaxSpins,
		SpinBatchSize: cfg.SpinBatchSize,
		WakeBatchSize: cfg.WakeBatchSize,
		WakeupMs:      cfg.WakeupMs,
	})

	seq := sequencer.New(consumer, avail, ws, cfg.BufferSize, counters)
	proc := processor.New[E](ring, seq.NewBarrier(), consumer, processor.HandleFunc[E](downstream.Emit), cfg.Logger)

	c := &coordinator[E]{
		cfg:        cfg,
		downstream: downstream,
		ring:       ring,
		seq:        seq,
		consumer:   consumer,
		proc:       proc,
		counters:   counters,
		reader:     diagnostics.NewReader(counters),
	}

	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("asynclog: starting consumer: %w", err)
	}
	return c, nil
}

// Publish implements Sink.
func (c *coordinator[E]) Publish(e E) error {
	if c.closing.Load() {
		// Post-close events are not part of overload accounting.
		return nil
	}

	if c.cfg.BlockWhenFull {
		seq := c.seq.Claim()
		*c.ring.Ref(uint64(seq)) = e
		c.seq.Publish(seq)
		return nil
	}

	seq, err := c.seq.TryClaim()
	if err != nil {
		c.counters.IncEventsDropped()
		return nil
	}
	*c.ring.Ref(uint64(seq)) = e
	c.seq.Publish(seq)
	return nil
}

// Close implements Sink. It is idempotent: a second call returns nil
// immediately without touching already-halted state.
func (c *coordinator[E]) Close(ctx context.Context) error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}

	deadline := time.Now().Add(time.Duration(c.cfg.ShutdownTimeoutMs) * time.Millisecond)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	var timedOut bool
	for c.hasBacklog() {
		c.seq.SignalConsumer()
		if time.Now().After(deadline) {
			timedOut = true
			break
		}
		runtime.Gosched()
	}

	c.proc.Halt()

	var result error
	if timedOut {
		c.cfg.Logger.Warn("shutdown drain deadline exceeded, consumer halted forcibly",
			zap.Int64("shutdown_timeout_ms", c.cfg.ShutdownTimeoutMs))
		result = ErrShutdownTimeout
	}

	if closer, ok := c.downstream.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.cfg.Logger.Warn("downstream close failed", zap.Error(err))
		}
	}

	return result
}

// hasBacklog reports whether the consumer is still running and behind the
// producer cursor.
func (c *coordinator[E]) hasBacklog() bool {
	return c.proc.State() == processor.Running && c.seq.Cursor().Load() > c.consumer.Load()
}

// Diagnostics returns s's counter reader if s was built by New in this
// package, for a host that wants per-second derivatives beyond Prometheus.
// The returned Reader is the same instance on every call, so its
// per-second derivatives are computed against the previous Snapshot.
func Diagnostics[E any](s Sink[E]) (*diagnostics.Reader, bool) {
	c, ok := s.(*coordinator[E])
	if !ok {
		return nil, false
	}
	return c.reader, true
}

// RegisterPrometheus exposes s's counters as Prometheus CounterFunc series
// on reg, if s was built by New in this package.
func RegisterPrometheus[E any](s Sink[E], reg prometheus.Registerer) bool {
	c, ok := s.(*coordinator[E])
	if !ok {
		return false
	}
	diagnostics.RegisterPrometheus(reg, c.counters)
	return true
}
