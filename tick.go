// Licensed under GPLv3 or later.

// tick.go - the periodic driver: sleep/wakeup bookkeeping and the
// SysTick-equivalent handler that decides whether the running thread's
// time slice has expired.
//
// Ported from the original's SysTick_Handler plus Scheduler::tick():
// every tick first wakes any thread whose sleep timeout has elapsed,
// then -- if the machine isn't idle -- decrements the current thread's
// remaining time slice and forces a switch when it hits zero. Run wires
// this to a real ticker via arch.Target and an errgroup so a caller can
// drive the whole simulation with one call and a context for shutdown.
package kernel

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Sleep blocks caller for the given number of ticks. Sleep(id, 0) is
// defined as Yield, matching the original's sleep(0) shortcut.
func (m *Machine) Sleep(id ThreadID, ticks uint32) {
	if ticks == 0 {
		m.Yield(id)
		return
	}
	m.enter(id)
	m.pool[id].wakeupTick = atomic.LoadUint64(&m.tickCount) + uint64(ticks)
	m.blockCurrentThread()
	m.handoff(id)
}

// tick is the simulated SysTick ISR body: wake expired sleepers, then
// evaluate whether the current thread's time slice has expired (or the
// idle thread should yield to a newly-ready peer) and force a switch if
// so. Unlike every other blocking/unblocking entry point, tick is not
// called on behalf of any particular thread -- the thread it preempts
// only discovers the preemption the next time it reaches enter(), per
// the design notes' "a thread may suspend only at explicit kernel
// calls" rule.
func (m *Machine) tick() {
	m.cs.Enter()

	now := atomic.AddUint64(&m.tickCount, 1)
	for i := range m.pool {
		t := &m.pool[i]
		if t.state == Blocked && t.wakeupTick != 0 && now >= t.wakeupTick {
			t.wakeupTick = 0
			m.unblockThread(ThreadID(i))
		}
	}

	cur := m.sched.currentID
	switchNeeded := false
	if cur != InvalidThreadID {
		if cur == m.sched.idleID {
			switchNeeded = m.sched.readyBitmap != 0
		} else {
			t := &m.pool[cur]
			if t.timeSliceRemaining > 0 {
				t.timeSliceRemaining--
			}
			if t.timeSliceRemaining == 0 {
				t.timeSliceRemaining = t.timeSlice
				switchNeeded = true
			}
		}
	}

	if !switchNeeded {
		m.cs.Exit()
		return
	}

	next := m.switchContext()
	m.mpuRegs.ConfigureThreadRegion(m.pool[next].mpuConfig)
	m.cs.Exit()
	if next != cur {
		m.signal(next)
	}
}

// FaultError wraps a panic recovered from the tick loop -- an internal
// invariant violation per §7's propagation policy, not a predictable
// Status -- so Run can return it as a normal error instead of taking
// the whole process down. RunSupervised (fault.go) turns one of these
// into a crash dump.
type FaultError struct{ Recovered any }

func (e FaultError) Error() string { return fmt.Sprintf("kernel: fault in tick loop: %v", e.Recovered) }

// safeTick runs tick with a recover, turning an internal invariant
// panic (see machine.go's signal) into a FaultError instead of
// crashing the tick goroutine's process outright.
func (m *Machine) safeTick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = FaultError{Recovered: r}
		}
	}()
	m.tick()
	return nil
}

// Run drives the tick loop at hz until ctx is cancelled, using an
// errgroup so a future second background goroutine (e.g. a simulated
// UART RX interrupt) can join the same cancellation group without
// changing this signature.
func (m *Machine) Run(ctx context.Context, hz uint32) error {
	ticks := m.target.ConfigureSysTick(hz)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticks:
				if err := m.safeTick(); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}
