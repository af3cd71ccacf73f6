// Licensed under GPLv3 or later.

// svc.go - the SVC dispatch table: the one crossing point between
// unprivileged caller code and the kernel.
//
// Ported from the original's Syscall.h/SVC_Handler pair. On target
// hardware an unprivileged thread cannot call kernel APIs directly; it
// executes SVC with the syscall number and four argument registers,
// and SVC_Handler extracts them and calls svcDispatch(). Dispatch is
// that function: a flat switch over the syscall number, not a
// function-pointer table, because §4.8 calls out the switch form
// specifically so the mapping stays inspectable by static analyzers
// rather than hidden behind indirect calls.
package kernel

import (
	"unsafe"

	"github.com/lattice-os/kernel/heap"
)

// Syscall numbers, in the exact order the original's Syscall.h assigns
// them (0 is reserved for starting the first thread, the rest are
// grouped by subsystem).
const (
	SyscallStartFirstThread uint8 = iota
	SyscallYield
	SyscallSleep
	SyscallTickCount

	SyscallMutexCreate
	SyscallMutexDestroy
	SyscallMutexLock
	SyscallMutexTryLock
	SyscallMutexUnlock

	SyscallSemaphoreCreate
	SyscallSemaphoreDestroy
	SyscallSemaphoreWait
	SyscallSemaphoreTryWait
	SyscallSemaphoreSignal

	SyscallMessageSend
	SyscallMessageReceive
	SyscallMessageReply
	SyscallMessageTrySend
	SyscallMessageTryReceive
	SyscallMessageNotify
	SyscallMessageCheckNotify

	SyscallHeapAlloc
	SyscallHeapFree
	SyscallHeapGetStats

	MaxSyscall = SyscallHeapGetStats
)

// Dispatch performs the kernel operation numbered num on behalf of
// caller, using args exactly as a real SVC_Handler would read r0-r3,
// and returns the value a real handler would write back into the
// caller's stacked r0. caller is host-simulation bookkeeping (there is
// no way to read "the currently faulting thread" off a host stack
// frame); Wrapper passes through whatever caller id it is given.
//
// args is uintptr-wide rather than uint32: on the real 32-bit target
// the two are the same size, but the host simulation runs on 64-bit
// hosts where a genuine Go pointer does not fit in 32 bits. uintptr is
// the native "holds any register or pointer value" width in both
// cases, so widening it here costs nothing on target and avoids
// silently truncating pointers on the host.
//
// A handful of syscalls carry more than four words of data (a Message
// is 64 bytes; HeapStats is four words but by reference, matching the
// original's out-parameter convention). For those, the relevant arg
// word holds a uintptr pointing at the caller's own Message/HeapStats
// value, the host-simulation equivalent of "r1 holds a pointer into
// the caller's stack" -- valid for the duration of this call because
// the caller that built args is blocked on it synchronously.
func (m *Machine) Dispatch(caller ThreadID, num uint8, args [4]uintptr) uint32 {
	m.cs.Enter()
	m.inSyscall = true
	m.cs.Exit()
	defer func() {
		m.cs.Enter()
		m.inSyscall = false
		m.cs.Exit()
	}()

	switch num {
	case SyscallStartFirstThread:
		m.Start()
		return 0

	case SyscallYield:
		m.Yield(caller)
		return 0

	case SyscallSleep:
		m.Sleep(caller, uint32(args[0]))
		return 0

	case SyscallTickCount:
		return uint32(m.TickCount())

	case SyscallMutexCreate:
		name := stringArg(args[0])
		id, _ := m.CreateMutex(name)
		return uint32(id)

	case SyscallMutexDestroy:
		return uint32(m.DestroyMutex(MutexID(args[0])))

	case SyscallMutexLock:
		return boolWord(m.MutexLock(caller, MutexID(args[0])))

	case SyscallMutexTryLock:
		return boolWord(m.MutexTryLock(caller, MutexID(args[0])))

	case SyscallMutexUnlock:
		return boolWord(m.MutexUnlock(caller, MutexID(args[0])))

	case SyscallSemaphoreCreate:
		name := stringArg(args[2])
		id, _ := m.CreateSemaphore(uint32(args[0]), uint32(args[1]), name)
		return uint32(id)

	case SyscallSemaphoreDestroy:
		return uint32(m.DestroySemaphore(SemaphoreID(args[0])))

	case SyscallSemaphoreWait:
		return boolWord(m.SemWait(caller, SemaphoreID(args[0])))

	case SyscallSemaphoreTryWait:
		return boolWord(m.SemTryWait(SemaphoreID(args[0])))

	case SyscallSemaphoreSignal:
		return boolWord(m.SemSignal(caller, SemaphoreID(args[0])))

	case SyscallMessageSend:
		dest := ThreadID(args[0])
		msg := messageArg(args[1])
		replyOut := messageOut(args[2])
		reply, status := m.Send(caller, dest, *msg)
		if replyOut != nil {
			*replyOut = reply
		}
		return uint32(status)

	case SyscallMessageReceive:
		out := messageOut(args[0])
		msg, status := m.Receive(caller)
		if out != nil {
			*out = msg
		}
		return uint32(status)

	case SyscallMessageReply:
		dest := ThreadID(args[0])
		reply := messageArg(args[1])
		return uint32(m.Reply(caller, dest, *reply))

	case SyscallMessageTrySend:
		dest := ThreadID(args[0])
		msg := messageArg(args[1])
		return uint32(m.TrySend(caller, dest, *msg))

	case SyscallMessageTryReceive:
		out := messageOut(args[0])
		msg, status := m.TryReceive(caller)
		if out != nil {
			*out = msg
		}
		return uint32(status)

	case SyscallMessageNotify:
		return uint32(m.Notify(ThreadID(args[0]), uint32(args[1])))

	case SyscallMessageCheckNotify:
		return m.CheckNotify(caller)

	case SyscallHeapAlloc:
		ptr, ok := m.heap.Alloc(int(args[0]))
		if !ok {
			return 0
		}
		return ptr

	case SyscallHeapFree:
		return boolWord(m.heap.Free(uint32(args[0])) == nil)

	case SyscallHeapGetStats:
		out := (*heap.Stats)(unsafe.Pointer(args[0]))
		if out != nil {
			*out = m.heap.Stats()
		}
		return 0

	default:
		return uint32(Method)
	}
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func stringArg(word uintptr) string {
	return *(*string)(unsafe.Pointer(word))
}

func messageArg(word uintptr) *Message {
	return (*Message)(unsafe.Pointer(word))
}

func messageOut(word uintptr) *Message {
	return (*Message)(unsafe.Pointer(word))
}

// Wrapper is the unprivileged caller's entry point: on target hardware
// this issues the SVC instruction; on a host CPU there is no privilege
// fault to trap, so Wrapper is a direct call straight through to
// Dispatch. It exists as its own call path (rather than callers simply
// calling Dispatch) so the privileged-boundary invariant in §4.8 --
// "unprivileged code reaches the kernel only through this door" --
// stays a visible, testable seam instead of disappearing into a single
// indistinguishable call site.
func Wrapper(m *Machine, caller ThreadID, num uint8, args [4]uintptr) uint32 {
	return m.Dispatch(caller, num, args)
}
