package diagnostics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCounter_GetSumsAllShardsUnderConcurrency(t *testing.T) {
	c := NewCounter()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(50000), c.Get())
}

func TestCounters_ZeroByDefault(t *testing.T) {
	c := NewCounters()
	require.Equal(t, uint64(0), c.EventsDropped.Get())
	require.Equal(t, uint64(0), c.BufferUnavailable.Get())

	c.IncEventsDropped()
	c.IncBufferUnavailable()
	c.IncBufferUnavailable()

	require.Equal(t, uint64(1), c.EventsDropped.Get())
	require.Equal(t, uint64(2), c.BufferUnavailable.Get())
}

func TestReader_SnapshotDerivesPerSecondRate(t *testing.T) {
	counters := NewCounters()

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	nowFunc := func() time.Time { return clock }
	r := NewReaderWithClock(counters, nowFunc)

	first := r.Snapshot()
	require.Equal(t, uint64(0), first.EventsDropped)
	require.Equal(t, float64(0), first.EventsDroppedPerSec)

	for i := 0; i < 10; i++ {
		counters.IncEventsDropped()
	}
	clock = clock.Add(2 * time.Second)

	second := r.Snapshot()
	require.Equal(t, uint64(10), second.EventsDropped)
	require.InDelta(t, 5.0, second.EventsDroppedPerSec, 0.0001)
}

func TestReader_SnapshotWithNoElapsedTimeReportsZeroRate(t *testing.T) {
	counters := NewCounters()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewReaderWithClock(counters, func() time.Time { return clock })

	r.Snapshot()
	counters.IncBufferUnavailable()
	snap := r.Snapshot()

	require.Equal(t, uint64(1), snap.BufferUnavailable)
	require.Equal(t, float64(0), snap.BufferUnavailablePerSec)
}
