// Licensed under GPLv3 or later.

package kernel

import (
	"context"
	"testing"
	"time"
)

func TestSleepWakesOnlyExpiredSleeperViaPoolScan(t *testing.T) {
	m := newTestMachine(t)
	shortWoke := make(chan struct{})
	longWoke := make(chan struct{})

	short, _ := m.CreateThread(ThreadConfig{
		Priority: 10,
		Entry: func(h *Handle) {
			h.Sleep(1)
			close(shortWoke)
			select {}
		},
	})
	long, _ := m.CreateThread(ThreadConfig{
		Priority: 10,
		Entry: func(h *Handle) {
			h.Sleep(100)
			close(longWoke)
			select {}
		},
	})
	m.Schedule(short)
	m.Schedule(long)
	m.Start()
	time.Sleep(testSettle) // both threads park on their own wakeup ticks

	m.tick()
	select {
	case <-shortWoke:
	case <-time.After(time.Second):
		t.Fatal("short sleeper never woke")
	}

	select {
	case <-longWoke:
		t.Fatal("long sleeper woke after a single tick")
	case <-time.After(testSettle):
	}

	info, _ := m.ThreadInfo(long)
	if info.State != Blocked {
		t.Errorf("long sleeper state = %v, want Blocked", info.State)
	}
}

func TestTimeSliceExpiryForcesRoundRobin(t *testing.T) {
	m := newTestMachine(t)
	order := make(chan ThreadID, 2)

	a, _ := m.CreateThread(ThreadConfig{
		Priority:  10,
		TimeSlice: 1,
		Entry: func(h *Handle) {
			order <- h.ID()
			select {}
		},
	})
	b, _ := m.CreateThread(ThreadConfig{
		Priority:  10,
		TimeSlice: 1,
		Entry: func(h *Handle) {
			order <- h.ID()
			select {}
		},
	})
	m.Schedule(a)
	m.Schedule(b)
	m.Start()

	select {
	case first := <-order:
		if first != a {
			t.Fatalf("first scheduled = %d, want %d", first, a)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first thread to run")
	}

	m.tick() // a's one-tick time slice expires; b should round-robin in
	select {
	case second := <-order:
		if second != b {
			t.Errorf("second scheduled after time-slice expiry = %d, want %d", second, b)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for round-robin switch")
	}
}

func TestTickSwitchesIdleToNewlyReadyThread(t *testing.T) {
	m := newTestMachine(t)
	m.Start() // nothing scheduled yet: idle becomes current
	time.Sleep(testSettle)
	if m.CurrentThreadID() != m.sched.idleID {
		t.Fatalf("current thread before any real thread is ready = %d, want idle %d", m.CurrentThreadID(), m.sched.idleID)
	}

	id, _ := m.CreateThread(ThreadConfig{Entry: func(h *Handle) { select {} }, Priority: 10})
	m.Schedule(id)

	m.tick()
	time.Sleep(testSettle)

	info, _ := m.ThreadInfo(id)
	if info.State != Running {
		t.Errorf("newly-ready thread state after idle tick = %v, want Running", info.State)
	}
	if m.CurrentThreadID() != id {
		t.Errorf("current thread after idle tick = %d, want %d", m.CurrentThreadID(), id)
	}
}

// TestSafeTickRecoversPanicAsFaultError ping-pongs two same-priority
// threads that never make another kernel call once started -- each
// only ever drains the one resume token its initial park consumes,
// same as the idle thread before machine.go's signal() special-cased
// it. Forcing a third handoff into either one re-signals a channel
// nothing is left to read, reproducing the "signalled while already
// runnable" invariant panic through entirely legitimate scheduler
// transitions (no reaching into unexported fields to fake the state).
func TestSafeTickRecoversPanicAsFaultError(t *testing.T) {
	m := newTestMachine(t)
	a, _ := m.CreateThread(ThreadConfig{Priority: 10, TimeSlice: 1, Entry: func(h *Handle) { select {} }})
	b, _ := m.CreateThread(ThreadConfig{Priority: 10, TimeSlice: 1, Entry: func(h *Handle) { select {} }})
	m.Schedule(a)
	m.Schedule(b)
	m.Start() // signals a (1st, consumed)
	time.Sleep(testSettle)

	var lastErr error
	for i := 0; i < 4; i++ {
		lastErr = m.safeTick() // alternates a<->b: 2nd signal to each buffers, 3rd panics
		time.Sleep(testSettle)
		if lastErr != nil {
			break
		}
	}
	if lastErr == nil {
		t.Fatal("safeTick never returned an error across the ping-pong, want a FaultError")
	}
	if _, ok := lastErr.(FaultError); !ok {
		t.Errorf("safeTick error type = %T, want FaultError", lastErr)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	m := newTestMachine(t)
	id, _ := m.CreateThread(ThreadConfig{Entry: func(h *Handle) { select {} }, Priority: 10})
	m.Schedule(id)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx, 1000) }()

	time.Sleep(testSettle)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Run error after cancel = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
