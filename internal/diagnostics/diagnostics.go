package diagnostics

import (
	"sync"
	"time"
)

// Counters bundles the engine's two read-only counters. There is no write
// interface beyond Inc* — producers and the processor report through it,
// nothing downstream of the bridge can reset or decrement it.
type Counters struct {
	EventsDropped     *Counter
	BufferUnavailable *Counter
}

// NewCounters allocates a fresh, zeroed Counters bundle.
func NewCounters() *Counters {
	return &Counters{
		EventsDropped:     NewCounter(),
		BufferUnavailable: NewCounter(),
	}
}

// IncEventsDropped records one Drop-policy overload event.
func (c *Counters) IncEventsDropped() { c.EventsDropped.Inc() }

// IncBufferUnavailable records one Block-policy producer wait.
func (c *Counters) IncBufferUnavailable() { c.BufferUnavailable.Inc() }

// Snapshot is one pull of both counters plus their per-second derivatives
// since the previous Snapshot call on the same reader (or since the reader
// was created, for the first call).
type Snapshot struct {
	EventsDropped           uint64
	BufferUnavailable       uint64
	EventsDroppedPerSec     float64
	BufferUnavailablePerSec float64
}

// Reader is the pull-based diagnostic bridge: it polls Counters.Get() on
// demand and derives a per-second rate from the delta against its previous
// sample. No events are pushed when counters are zero; a host polls this
// at whatever cadence it likes.
type Reader struct {
	counters *Counters
	nowFunc  func() time.Time

	mu              sync.Mutex
	lastSample      time.Time
	lastDropped     uint64
	lastUnavailable uint64
}

// NewReader returns a Reader polling counters, clocked by time.Now.
func NewReader(counters *Counters) *Reader {
	return NewReaderWithClock(counters, time.Now)
}

// NewReaderWithClock is NewReader with an injectable clock, used by tests
// that need deterministic per-second derivatives.
func NewReaderWithClock(counters *Counters, nowFunc func() time.Time) *Reader {
	return &Reader{counters: counters, nowFunc: nowFunc, lastSample: nowFunc()}
}

// Snapshot pulls the current counter values and computes the per-second
// rate of change since the previous call; the first call derives against
// the counter values and time at which the Reader was created. The rate is
// zero when no time has elapsed.
func (r *Reader) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := r.counters.EventsDropped.Get()
	unavailable := r.counters.BufferUnavailable.Get()
	now := r.nowFunc()

	elapsed := now.Sub(r.lastSample).Seconds()
	var droppedRate, unavailableRate float64
	if elapsed > 0 {
		droppedRate = float64(dropped-r.lastDropped) / elapsed
		unavailableRate = float64(unavailable-r.lastUnavailable) / elapsed
	}

	r.lastSample = now
	r.lastDropped = dropped
	r.lastUnavailable = unavailable

	return Snapshot{
		EventsDropped:           dropped,
		BufferUnavailable:       unavailable,
		EventsDroppedPerSec:     droppedRate,
		BufferUnavailablePerSec: unavailableRate,
	}
}
