// Licensed under GPLv3 or later.

// thread.go - thread pool: fixed-capacity TCB table, initial stack
// frame construction, creation/destruction.
//
// Ported from the original's Thread.cpp. threadCreate is O(N) in pool
// size (linear scan for an Inactive slot) by design -- the pool is tiny
// (MaxThreads) and the scan cost is irrelevant next to a context
// switch. Creation never enrolls the new thread in the scheduler; that
// is always a separate, explicit step (Machine.Schedule), so callers
// can build every thread before anything runs.
package kernel

import (
	"github.com/lattice-os/kernel/mpu"
)

// ThreadID indexes the fixed thread pool. It is deliberately a small
// integer rather than a pointer so link fields (nextReady, nextWait)
// can live inline in the TCB array instead of as separate allocations.
type ThreadID uint8

// InvalidThreadID marks an empty link-field slot or a failed
// allocation.
const InvalidThreadID ThreadID = 0xFF

const (
	MaxThreads          = 8
	MaxPriorities       = 32
	DefaultTimeSlice    = 10
	defaultStackBytes   = 512
	idlePriority        = MaxPriorities - 1
)

// ThreadState is one of {Inactive, Ready, Running, Blocked}. Inactive
// marks a free pool slot.
type ThreadState uint8

const (
	Inactive ThreadState = iota
	Ready
	Running
	Blocked
)

func (s ThreadState) String() string {
	switch s {
	case Inactive:
		return "Inactive"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	default:
		return "Unknown"
	}
}

// ThreadFunc is a thread's entry point. It receives a Handle bound to
// its own thread id, through which it makes kernel calls, and runs
// until it returns (which invokes the exit trampoline) or the thread
// is destroyed from elsewhere.
type ThreadFunc func(h *Handle)

// Handle is the ergonomic, per-thread front end to Machine: every
// kernel call that implicitly operates on "the calling thread" takes
// an explicit ThreadID on Machine itself (so tests can drive any
// thread id directly without spinning a goroutine for it); Handle just
// closes over that id for application code running inside a real
// thread goroutine.
type Handle struct {
	m  *Machine
	id ThreadID
}

func (h *Handle) ID() ThreadID   { return h.id }
func (h *Handle) Machine() *Machine { return h.m }
func (h *Handle) Arg() any {
	h.m.cs.Enter()
	defer h.m.cs.Exit()
	return h.m.pool[h.id].arg
}
func (h *Handle) Yield()                { h.m.Yield(h.id) }
func (h *Handle) Sleep(ticks uint32)    { h.m.Sleep(h.id, ticks) }
func (h *Handle) TickCount() uint64     { return h.m.TickCount() }

// ThreadConfig describes a thread to be created.
type ThreadConfig struct {
	Entry      ThreadFunc
	Arg        any
	Name       string
	StackSize  uint32 // bytes; rounded up to a valid MPU region size
	Priority   uint8  // lower number = higher priority
	TimeSlice  uint32 // ticks; 0 = DefaultTimeSlice
	Privileged bool
}

// stackFrame mirrors the sixteen words a real context switch would
// save/restore: the eight hardware-stacked registers an exception
// entry pushes, followed by the eight software-saved registers the
// context-switch assembly pushes below them. The struct's field order
// is the ABI -- it must match what a real PendSV handler expects at
// the stack pointer -- even though nothing here executes machine code.
type stackFrame struct {
	// Software-saved (pushed/popped by the context-switch routine)
	R4, R5, R6, R7, R8, R9, R10, R11 uint32
	// Hardware-stacked (what an exception entry pushes / exit pops)
	R0, R1, R2, R3, R12 uint32
	LR, PC, XPSR         uint32
}

// tcb is the thread control block. Kept in a fixed array indexed by
// ThreadID; never individually heap-allocated. stackPointer must
// logically be "offset 0" for a real assembly context switch to read
// it directly -- here that constraint is honored by always reading it
// through this one field rather than by literal struct layout, since
// Go offers no portable way to pin a field to offset 0 that would
// matter to anything but real assembly.
type tcb struct {
	stackPointer *stackFrame

	state           ThreadState
	id              ThreadID
	basePriority    uint8
	currentPriority uint8

	stackBase uintptr
	stackSize uint32

	timeSlice          uint32
	timeSliceRemaining uint32

	wakeupTick uint64

	nextReady ThreadID
	nextWait  ThreadID

	name       string
	privileged bool
	mpuConfig  mpu.ThreadConfig

	entry ThreadFunc
	arg   any

	resume chan struct{} // simulated "this thread is the one executing"

	pendingMsg *Message // set while blocked on a full dest mailbox
	replySlot  *Message // set while blocked waiting for messageReply
}

// buildInitialFrame constructs the frame described in spec §3: the
// hardware-stacked words arranged so the first restore into this
// thread behaves exactly as if it had just been preempted, with PC at
// entry, LR at the exit trampoline, and r0 carrying the argument
// pointer. Software-saved r4-r11 start zeroed.
func buildInitialFrame(entryPC, exitLR, argR0, xpsr uint32) *stackFrame {
	return &stackFrame{
		R0: argR0,
		LR: exitLR,
		PC: entryPC,
		XPSR: xpsr,
	}
}

// allocateStack hands out a fresh, MPU-aligned stack buffer from the
// machine's bump allocator, the simulated equivalent of a caller
// supplying a statically-allocated stack array.
func (m *Machine) allocateStack(size uint32) uintptr {
	rounded := mpu.RoundUpSize(size)
	base := m.nextStackBase
	if base%uintptr(rounded) != 0 {
		base += uintptr(rounded) - (base % uintptr(rounded))
	}
	m.nextStackBase = base + uintptr(rounded)
	return base
}

// CreateThread scans for an Inactive slot, validates the stack
// geometry, pre-computes the MPU region, builds the initial frame, and
// marks the thread Ready. It does not enroll the thread in the
// scheduler -- call Schedule for that.
func (m *Machine) CreateThread(cfg ThreadConfig) (ThreadID, Status) {
	if cfg.Entry == nil {
		return InvalidThreadID, Invalid
	}
	stackSize := cfg.StackSize
	if stackSize == 0 {
		stackSize = defaultStackBytes
	}
	timeSlice := cfg.TimeSlice
	if timeSlice == 0 {
		timeSlice = DefaultTimeSlice
	}

	m.cs.Enter()
	defer m.cs.Exit()

	var id ThreadID = InvalidThreadID
	for i := range m.pool {
		if m.pool[i].state == Inactive {
			id = ThreadID(i)
			break
		}
	}
	if id == InvalidThreadID {
		return InvalidThreadID, Invalid
	}

	stackBase := m.allocateStack(stackSize)
	rounded := mpu.RoundUpSize(stackSize)
	if !mpu.ValidateStack(stackBase, rounded) {
		return InvalidThreadID, Invalid
	}

	t := &m.pool[id]
	t.state = Ready
	t.id = id
	t.basePriority = cfg.Priority
	t.currentPriority = cfg.Priority
	t.stackBase = stackBase
	t.stackSize = rounded
	t.timeSlice = timeSlice
	t.timeSliceRemaining = timeSlice
	t.wakeupTick = 0
	t.nextReady = InvalidThreadID
	t.nextWait = InvalidThreadID
	t.name = cfg.Name
	t.privileged = cfg.Privileged
	t.mpuConfig = mpu.ComputeThreadConfig(stackBase, rounded)
	t.entry = cfg.Entry
	t.arg = cfg.Arg
	t.resume = make(chan struct{}, 1)
	t.stackPointer = buildInitialFrame(0, exitTrampolinePC, 0, m.target.InitialStatusRegister())

	m.mailboxes[id] = newMailbox()

	go m.runThread(id)

	return id, Ok
}

// exitTrampolinePC is a sentinel recorded in a fresh frame's LR slot
// (the PC slot is left 0); it carries no real address in this simulation (there is no
// machine code to jump to) but documents the ABI contract: on real
// hardware this is the address of kernelThreadExit, reached if the
// thread's entry function returns.
const exitTrampolinePC = 0xFFFFFFFE

// runThread is the goroutine standing in for "this thread's
// instruction stream." It parks until first scheduled in, runs the
// entry function, and on return invokes the exit trampoline -- which,
// like the real one, never returns.
func (m *Machine) runThread(id ThreadID) {
	<-m.pool[id].resume
	entry := m.pool[id].entry
	entry(&Handle{m: m, id: id})
	m.threadExitTrampoline(id)
}

// threadExitTrampoline destroys the current thread and switches away.
// Reached when a thread's entry function returns; never returns itself.
func (m *Machine) threadExitTrampoline(id ThreadID) {
	m.cs.Enter()
	m.destroyThreadLocked(id)
	next := m.switchContext()
	m.mpuRegs.ConfigureThreadRegion(m.pool[next].mpuConfig)
	m.cs.Exit()
	m.signal(next)
	// this goroutine is done; never scheduled again
}

// DestroyThread marks id Inactive, removes it from every scheduler and
// wait list, and resets its mailbox. Fails for the idle thread or an
// out-of-range/already-inactive id.
func (m *Machine) DestroyThread(id ThreadID) Status {
	if int(id) >= MaxThreads {
		return NoThread
	}
	m.cs.Enter()
	defer m.cs.Exit()
	if id == m.sched.idleID {
		return Invalid
	}
	if m.pool[id].state == Inactive {
		return NoThread
	}
	m.destroyThreadLocked(id)
	return Ok
}

func (m *Machine) destroyThreadLocked(id ThreadID) {
	m.removeThread(id)
	removeFromWaitQueueAnywhere(m, id)
	m.pool[id] = tcb{id: id, state: Inactive, nextReady: InvalidThreadID, nextWait: InvalidThreadID}
	m.mailboxes[id] = newMailbox()
}

// ThreadInfo is a read-only snapshot of one TCB, safe to hand to
// callers outside the critical section (used by the shell's `ps`
// command and cmd/ksim's summary).
type ThreadInfo struct {
	ID              ThreadID
	Name            string
	State           ThreadState
	BasePriority    uint8
	CurrentPriority uint8
	StackSize       uint32
	TimeSliceRemaining uint32
	Privileged      bool
}

// ThreadInfo returns a copy of thread id's visible state, or ok=false
// if the slot is inactive or out of range.
func (m *Machine) ThreadInfo(id ThreadID) (ThreadInfo, bool) {
	if int(id) >= MaxThreads {
		return ThreadInfo{}, false
	}
	m.cs.Enter()
	defer m.cs.Exit()
	t := &m.pool[id]
	if t.state == Inactive {
		return ThreadInfo{}, false
	}
	return ThreadInfo{
		ID: t.id, Name: t.name, State: t.state,
		BasePriority: t.basePriority, CurrentPriority: t.currentPriority,
		StackSize: t.stackSize, TimeSliceRemaining: t.timeSliceRemaining,
		Privileged: t.privileged,
	}, true
}

// CurrentThreadID returns the scheduler's notion of the current thread.
func (m *Machine) CurrentThreadID() ThreadID {
	m.cs.Enter()
	defer m.cs.Exit()
	return m.sched.currentID
}

// Schedule enrolls an already-created thread in the scheduler's ready
// lists. Kept separate from CreateThread so callers can build an
// entire thread population before anything becomes runnable.
func (m *Machine) Schedule(id ThreadID) Status {
	m.cs.Enter()
	defer m.cs.Exit()
	if int(id) >= MaxThreads || m.pool[id].state == Inactive {
		return NoThread
	}
	if !m.addThread(id) {
		return Invalid
	}
	return Ok
}

// Start launches the first scheduled thread. Must be called once,
// after every initial thread has been created and Scheduled; it never
// returns on real hardware (startFirstThread) but here simply performs
// the first handoff and returns once that thread is running.
func (m *Machine) Start() {
	m.cs.Enter()
	first := m.switchContext()
	m.mpuRegs.ConfigureThreadRegion(m.pool[first].mpuConfig)
	m.cs.Exit()
	m.signal(first)
}
