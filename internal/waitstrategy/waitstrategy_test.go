package waitstrategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/epeshk/serilog-sinks-background/internal/sequence"
)

func TestWaitFor_SpinPhaseReturnsImmediatelyWhenAvailable(t *testing.T) {
	ws := New(Config{MaxSpins: 35, SpinBatchSize: 1, WakeBatchSize: 128, WakeupMs: 25})
	cursor := sequence.New(5)
	cancel := NewCancelSignal()

	got := ws.WaitFor(1, cursor, cancel)
	require.Equal(t, int64(5), got)
}

func TestWaitFor_BlockPhaseWakesOnSignal(t *testing.T) {
	ws := New(Config{MaxSpins: 2, SpinBatchSize: 8, WakeBatchSize: 1, WakeupMs: 5000})
	cursor := sequence.New(0)
	cancel := NewCancelSignal()

	done := make(chan int64, 1)
	go func() {
		done <- ws.WaitFor(1, cursor, cancel)
	}()

	time.Sleep(20 * time.Millisecond)
	// The waiter requested 1 and WakeBatchSize is 1, so the batched signal
	// wakes it once publishedUpTo reaches 1+1.
	cursor.Store(2)
	ws.SignalAllWhenBlockingUpTo(2)

	select {
	case got := <-done:
		require.GreaterOrEqual(t, got, int64(1))
	case <-time.After(time.Second):
		t.Fatal("WaitFor did not return after signal")
	}
}

// TestWaitFor_IdleTimerWakesWithoutSignal verifies that a producer which
// publishes without ever calling SignalAllWhenBlocking (e.g. because it only
// ever took the spin path) still gets its event delivered: the idle timer
// re-checks the cursor on its own.
func TestWaitFor_IdleTimerWakesWithoutSignal(t *testing.T) {
	ws := New(Config{MaxSpins: 1, SpinBatchSize: 8, WakeBatchSize: 128, WakeupMs: 10})
	cursor := sequence.New(0)
	cancel := NewCancelSignal()

	done := make(chan int64, 1)
	go func() {
		done <- ws.WaitFor(1, cursor, cancel)
	}()

	time.Sleep(5 * time.Millisecond)
	cursor.Store(1) // published, but no signal call at all

	select {
	case got := <-done:
		require.GreaterOrEqual(t, got, int64(1))
	case <-time.After(time.Second):
		t.Fatal("idle timer should have woken the waiter and observed the new cursor")
	}
}

func TestWaitFor_CancelReturnsPromptly(t *testing.T) {
	ws := New(Config{MaxSpins: 2, SpinBatchSize: 8, WakeBatchSize: 128, WakeupMs: 5000})
	cursor := sequence.New(0)
	cancel := NewCancelSignal()

	done := make(chan int64, 1)
	go func() {
		done <- ws.WaitFor(1, cursor, cancel)
	}()

	time.Sleep(20 * time.Millisecond)
	// Cancel only sets the flag; the parked waiter sees it once woken.
	cancel.Cancel()
	ws.SignalAllWhenBlocking()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitFor did not return after cancel")
	}
}

func TestSignalAllWhenBlockingUpTo_RespectsWakeBatchSize(t *testing.T) {
	ws := New(Config{MaxSpins: 1, SpinBatchSize: 8, WakeBatchSize: 100, WakeupMs: 5000})
	cursor := sequence.New(0)
	cancel := NewCancelSignal()

	done := make(chan int64, 1)
	go func() {
		done <- ws.WaitFor(1, cursor, cancel)
	}()
	time.Sleep(20 * time.Millisecond)

	cursor.Store(1)
	ws.SignalAllWhenBlockingUpTo(1) // far short of wakeBatchSize, should not wake

	select {
	case <-done:
		t.Fatal("should not have woken on a sub-threshold batch")
	case <-time.After(50 * time.Millisecond):
	}

	ws.SignalAllWhenBlocking()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unconditional signal should have woken the waiter")
	}
}

// TestSignalStopping_ShortensWakeup mirrors how SequenceBarrier.CancelProcessing
// uses the wait strategy: the cancel signal is set first, then SignalStopping
// both shortens the idle interval and performs an unconditional wake so the
// parked consumer notices the cancellation promptly instead of waiting out
// whatever long idle interval was configured for steady-state operation.
func TestSignalStopping_ShortensWakeup(t *testing.T) {
	ws := New(Config{MaxSpins: 1, SpinBatchSize: 8, WakeBatchSize: 128, WakeupMs: 5000})
	cursor := sequence.New(0)
	cancel := NewCancelSignal()

	done := make(chan int64, 1)
	go func() {
		done <- ws.WaitFor(1, cursor, cancel)
	}()
	time.Sleep(10 * time.Millisecond)

	cancel.Cancel()
	ws.SignalStopping()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SignalStopping should wake the waiter promptly")
	}
}
