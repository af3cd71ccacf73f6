// Licensed under GPLv3 or later.

// scheduler.go - per-priority ready lists, preemption bookkeeping,
// priority changes.
//
// Ported from the original's Scheduler.cpp: a per-priority array of
// intrusive singly-linked lists (head/tail ThreadIDs) plus a bitmap
// with one bit per priority class, so "highest ready priority" is a
// single count-trailing-zeros instead of a scan. The lists are modeled
// as arena-and-index lists over the fixed thread pool per §9's design
// notes: ThreadID is the index, nextReady is the link field, and the
// list operations below are effectively free functions over *Machine's
// pool plus a head/tail pair -- they just happen to be methods on
// scheduler for namespacing.
package kernel

import "math/bits"

// scheduler holds the ready-list bitmap, per-priority list heads/tails,
// and the current/idle thread ids. It never allocates; every link lives
// in the owning Machine's tcb pool.
type scheduler struct {
	readyBitmap uint32
	readyHead   [MaxPriorities]ThreadID
	readyTail   [MaxPriorities]ThreadID

	currentID ThreadID
	idleID    ThreadID
}

func (s *scheduler) init() {
	for p := range s.readyHead {
		s.readyHead[p] = InvalidThreadID
		s.readyTail[p] = InvalidThreadID
	}
	s.readyBitmap = 0
	s.currentID = InvalidThreadID
	s.idleID = InvalidThreadID
}

func (s *scheduler) setIdleThread(id ThreadID) { s.idleID = id }

// enqueueReady appends id to the tail of its currentPriority list and
// sets the corresponding bitmap bit. Caller holds cs.
func (m *Machine) enqueueReady(id ThreadID) {
	t := &m.pool[id]
	p := t.currentPriority
	t.nextReady = InvalidThreadID
	s := &m.sched
	if s.readyHead[p] == InvalidThreadID {
		s.readyHead[p] = id
		s.readyTail[p] = id
	} else {
		m.pool[s.readyTail[p]].nextReady = id
		s.readyTail[p] = id
	}
	s.readyBitmap |= 1 << p
}

// dequeueReady pops the head of priority class p's list, clearing the
// bitmap bit if the list becomes empty. Caller holds cs.
func (m *Machine) dequeueReady(p uint8) ThreadID {
	s := &m.sched
	id := s.readyHead[p]
	if id == InvalidThreadID {
		return InvalidThreadID
	}
	next := m.pool[id].nextReady
	s.readyHead[p] = next
	if next == InvalidThreadID {
		s.readyTail[p] = InvalidThreadID
		s.readyBitmap &^= 1 << p
	}
	m.pool[id].nextReady = InvalidThreadID
	return id
}

// removeFromReadyList removes id from priority class p's list
// regardless of position. Caller holds cs.
func (m *Machine) removeFromReadyList(id ThreadID, p uint8) {
	s := &m.sched
	if s.readyHead[p] == id {
		m.dequeueReady(p)
		return
	}
	prev := s.readyHead[p]
	for prev != InvalidThreadID && m.pool[prev].nextReady != id {
		prev = m.pool[prev].nextReady
	}
	if prev == InvalidThreadID {
		return // not found: not an error, matches original's tolerant removal
	}
	next := m.pool[id].nextReady
	m.pool[prev].nextReady = next
	if s.readyTail[p] == id {
		s.readyTail[p] = prev
	}
	if s.readyHead[p] == InvalidThreadID {
		s.readyBitmap &^= 1 << p
	}
	m.pool[id].nextReady = InvalidThreadID
}

// highestReadyPriority is a count-trailing-zeros over the bitmap.
// Caller holds cs. Only valid when the bitmap is non-zero.
func (s *scheduler) highestReadyPriority() uint8 {
	return uint8(bits.TrailingZeros32(s.readyBitmap))
}

// addThread enrolls an already-Ready thread in the scheduler. Caller
// holds cs.
func (m *Machine) addThreadLocked(id ThreadID) bool {
	if int(id) >= MaxThreads {
		return false
	}
	m.enqueueReady(id)
	return true
}

func (m *Machine) addThread(id ThreadID) bool { return m.addThreadLocked(id) }

// removeThread strips id out of its ready list (if Ready) and clears it
// as the current thread; wait queues are left to
// removeFromWaitQueueAnywhere. Caller holds cs.
func (m *Machine) removeThread(id ThreadID) {
	t := &m.pool[id]
	if t.state == Ready {
		m.removeFromReadyList(id, t.currentPriority)
	}
	if m.sched.currentID == id {
		m.sched.currentID = InvalidThreadID
	}
}

// switchContext is the sole function that changes "current thread":
//  1. if the outgoing thread is still Running, demote it to Ready and
//     append it to its own priority list;
//  2. pick the highest-priority non-empty list (or the idle thread if
//     none);
//  3. mark the new current thread Running.
//
// Caller holds cs; blockCurrentThread must already have transitioned
// a blocking caller to Blocked before this runs, or it will be wrongly
// re-enqueued as Ready.
func (s *scheduler) switchContextOn(m *Machine) ThreadID {
	out := s.currentID
	if out != InvalidThreadID && m.pool[out].state == Running {
		m.pool[out].state = Ready
		m.enqueueReady(out)
	}

	var next ThreadID
	if s.readyBitmap != 0 {
		p := s.highestReadyPriority()
		next = m.dequeueReady(p)
	} else {
		next = s.idleID
	}

	m.pool[next].state = Running
	s.currentID = next
	return next
}

func (m *Machine) switchContext() ThreadID { return m.sched.switchContextOn(m) }

// blockCurrentThread transitions the current thread to Blocked. Does
// not switch context; callers call switchContext immediately after,
// per the load-bearing sequence in §9.
func (m *Machine) blockCurrentThread() {
	m.pool[m.sched.currentID].state = Blocked
}

// unblockThread transitions a Blocked thread to Ready and enrolls it.
// Returns true iff the unblocked thread's currentPriority is strictly
// better (numerically lower) than the current thread's, which callers
// use to decide whether to switch immediately. Caller holds cs.
func (m *Machine) unblockThread(id ThreadID) bool {
	t := &m.pool[id]
	if t.state != Blocked {
		return false
	}
	t.state = Ready
	t.wakeupTick = 0
	m.enqueueReady(id)
	if m.sched.currentID == InvalidThreadID {
		return false
	}
	return t.currentPriority < m.pool[m.sched.currentID].currentPriority
}

// setThreadPriority is used only by the priority-inheritance path. If
// id is in a ready list, it is removed and reinserted at the tail of
// its new priority class. If id is in a wait queue, the queue is left
// alone -- its sort key reflects currentPriority at insertion time,
// which priority inheritance's call ordering keeps correct (§4.2).
// Caller holds cs.
func (m *Machine) setThreadPriority(id ThreadID, newPriority uint8) {
	t := &m.pool[id]
	if t.currentPriority == newPriority {
		return
	}
	if t.state == Ready {
		m.removeFromReadyList(id, t.currentPriority)
		t.currentPriority = newPriority
		m.enqueueReady(id)
		return
	}
	t.currentPriority = newPriority
}

// Yield refills id's time slice and forces same-priority peers to
// rotate. id must be the calling thread.
func (m *Machine) Yield(id ThreadID) {
	m.enter(id)
	m.pool[id].timeSliceRemaining = m.pool[id].timeSlice
	m.handoff(id)
}
