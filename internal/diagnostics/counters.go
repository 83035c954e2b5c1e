// Package diagnostics implements the engine's counter bridge: striped
// counters for events_dropped/buffer_unavailable, a pull-based
// reader with per-second derivatives, and a Prometheus export.
package diagnostics

import (
	"runtime"
	"sync/atomic"
)

const cacheLinePad = 64

// stripe is one 64-bit counter shard, padded so adjacent shards never share
// a cache line under concurrent increment.
type stripe struct {
	_ [cacheLinePad]byte
	v atomic.Uint64
	_ [cacheLinePad - 8]byte
}

// Counter is a striped, monotonically increasing 64-bit counter. Get sums
// every shard with an acquire load; no write interface is exposed beyond
// Inc, matching the read-only counter surface the diagnostic reader hands
// to a host process.
type Counter struct {
	shards []stripe
	next   atomic.Uint64
}

// NewCounter allocates a counter striped over runtime.GOMAXPROCS(0) shards.
func NewCounter() *Counter {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	return &Counter{shards: make([]stripe, n)}
}

// Inc increments the counter by one. Go exposes no portable CPU/thread id,
// so shards are chosen round-robin rather than by affinity; this still
// spreads concurrent incrementers across cache lines, which is all the
// striping is for; Get's sum is unaffected by which shard absorbed which
// increment.
func (c *Counter) Inc() {
	i := c.next.Add(1) % uint64(len(c.shards))
	c.shards[i].v.Add(1)
}

// Get sums every shard with an acquire load.
func (c *Counter) Get() uint64 {
	var total uint64
	for i := range c.shards {
		total += c.shards[i].v.Load()
	}
	return total
}
