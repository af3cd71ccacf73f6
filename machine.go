// Licensed under GPLv3 or later.

// machine.go - the kernel-state aggregate and its lifecycle.
//
// Every piece of kernel mutable state (the design notes call this out
// explicitly as something that must become "a single kernel-state
// aggregate accessed through interior-mutable, critical-section-guarded
// operations") lives on *Machine: the thread pool, the scheduler, the
// mutex/semaphore pools, the per-thread mailboxes, the tick counter, and
// the two simulation-only execution flags (inSyscall, inISR) that stand
// in for "which CPU mode is currently active."
//
// Machine is not safe for use by more than one goroutine calling its
// exported methods concurrently with itself during Run -- that is the
// point: it models a single core. What it is safe for is many thread
// goroutines, each representing a simulated thread of control, calling
// in at any time; internally every call is serialized through cs,
// exactly as every kernel operation on target hardware runs with
// interrupts disabled around the mutation.
package kernel

import (
	"fmt"
	"sync/atomic"

	"github.com/lattice-os/kernel/arch"
	"github.com/lattice-os/kernel/heap"
	"github.com/lattice-os/kernel/mpu"
)

// Machine is one instance of the kernel core: thread pool, scheduler,
// synchronization object pools, IPC mailboxes, and the arch glue they
// run on.
type Machine struct {
	cs     arch.CriticalSection
	target arch.Target

	pool [MaxThreads]tcb
	sched scheduler

	mutexes [MaxMutexes]mutexCB
	sems    [MaxSemaphores]semCB

	mailboxes [MaxThreads]mailbox

	mpuRegs mpu.RegisterFile
	heap    *heap.Allocator

	tickCount uint64 // written only by the tick goroutine, read anywhere

	inSyscall bool // set by Dispatch around a syscall-originated call
	inISR     bool // set by SimulateISR for tests

	idleStarted bool // idle's goroutine has taken its one resume token

	nextStackBase uintptr // bump allocator for simulated stack buffers
}

// New creates a Machine with a fresh thread pool, an idle thread
// enrolled, and a default-sized heap arena. Threads are not started
// until Start is called.
func New(target arch.Target, heapBytes int) *Machine {
	if target == nil {
		target = arch.NewHost()
	}
	m := &Machine{target: target, heap: heap.New(heapBytes)}
	for i := range m.pool {
		m.pool[i].id = ThreadID(i)
		m.pool[i].state = Inactive
		m.pool[i].nextReady = InvalidThreadID
		m.pool[i].nextWait = InvalidThreadID
	}
	m.sched.init()
	m.mpuRegs.Init()
	m.nextStackBase = 0x20000000 // simulated SRAM base, arbitrary but stable

	idleID, status := m.CreateThread(ThreadConfig{
		Entry:     func(*Handle) { select {} },
		Name:      "idle",
		StackSize: 256,
		Priority:  idlePriority,
		TimeSlice: 1,
		Privileged: true,
	})
	if status != Ok {
		panic("kernel: failed to create idle thread")
	}
	m.sched.setIdleThread(idleID)
	return m
}

// TickCount returns the monotonic tick counter. It is 64 bits wide, so
// it does not wrap in any realistic run time, and Sleep/wakeup scanning
// in tick.go compares deadlines against it directly.
func (m *Machine) TickCount() uint64 {
	return atomic.LoadUint64(&m.tickCount)
}

// Heap exposes the allocator backing the heapAlloc/heapFree/
// heapGetStats syscalls.
func (m *Machine) Heap() *heap.Allocator { return m.heap }

// SimulateISR runs fn with the machine's execution context flagged as
// an interrupt handler, the way the real tick/SVC vectors would be
// flagged by hardware mode bits. Used by tests to exercise the "no
// blocking calls from ISR" rule (§5 ISR policy) without a real
// interrupt controller.
func (m *Machine) SimulateISR(fn func()) {
	m.cs.Enter()
	m.inISR = true
	m.cs.Exit()
	defer func() {
		m.cs.Enter()
		m.inISR = false
		m.cs.Exit()
	}()
	fn()
}

// inISRContext reports whether the calling context is an ISR that has
// not been re-flagged as a syscall (§4.3's "syscall context flag").
// Must be called with cs held.
func (m *Machine) inISRContext() bool {
	return m.inISR && !m.inSyscall
}

func (m *Machine) signal(id ThreadID) {
	// The idle thread's entry never makes another blocking kernel call
	// after its first run -- on real hardware idle just falls through
	// to WFI with no handler needing to wake it explicitly, and nothing
	// here depends on its goroutine noticing further scheduler bookkeeping
	// (Running/Ready toggling around it is harmless busywork). So idle
	// takes exactly one resume token, ever; every later reselection of
	// idle as current is a no-op from the goroutine's point of view, and
	// skipping the resend avoids overflowing its buffered channel.
	if id == m.sched.idleID {
		if m.idleStarted {
			return
		}
		m.idleStarted = true
	}
	select {
	case m.pool[id].resume <- struct{}{}:
	default:
		// Already has a pending resume token; a thread can only be
		// signalled once between parks under the invariants in §3, so
		// this branch means a bug elsewhere, not a legitimate race.
		panic(fmt.Sprintf("kernel: thread %d signalled while already runnable", id))
	}
}

// enter blocks the calling goroutine (which represents thread id) until
// the scheduler has actually made id the current thread, then returns
// with the critical section held. This is the "preemption point": if a
// tick handler reassigned currency away from id before this call, id's
// goroutine discovers that here and parks until resumed, simulating a
// preempted thread that has not yet been given the CPU back.
func (m *Machine) enter(id ThreadID) {
	m.cs.Enter()
	for m.sched.currentID != id {
		m.cs.Exit()
		<-m.pool[id].resume
		m.cs.Enter()
	}
}

// handoff performs the load-bearing sequence from §9's design notes:
// it must run with cs already held, and it always releases cs before
// returning. It asks the scheduler to pick the next current thread; if
// that differs from id (true for every blocking call, and for a yield
// or preemption that hands off to someone else), the new current
// thread is signalled and id's goroutine parks on its own resume
// channel until a later operation resumes it. If the scheduler
// re-picks id itself (the only case: a non-blocking yield with no
// other ready peer), there is nothing to wait for and this returns
// immediately.
func (m *Machine) handoff(id ThreadID) {
	next := m.switchContext()
	m.mpuRegs.ConfigureThreadRegion(m.pool[next].mpuConfig)
	m.target.TriggerContextSwitch()
	m.cs.Exit()
	if next == id {
		return
	}
	m.signal(next)
	<-m.pool[id].resume
}

// maybeSwitch is handoff's cousin for the "an unblock/signal/reply made
// a higher-priority thread ready -- should the caller give up the CPU
// immediately" case from §4.5/§4.6/§4.7. preempt is the boolean
// unblockThread returned. Must run with cs held; always releases it.
func (m *Machine) maybeSwitch(id ThreadID, preempt bool) {
	if !preempt {
		m.cs.Exit()
		return
	}
	m.handoff(id)
}
