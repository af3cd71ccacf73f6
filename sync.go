// Licensed under GPLv3 or later.

// sync.go - mutex with priority inheritance and counting semaphore.
//
// Both pools are small fixed arrays (ported from Mutex.cpp/Semaphore.cpp),
// both use the shared waitqueue.go operations, and both follow the same
// enter/mutate/handoff shape as every other blocking call in this
// package.
package kernel

// ---- Mutex ----

// MutexID indexes the fixed mutex pool.
type MutexID uint8

const InvalidMutexID MutexID = 0xFF

const MaxMutexes = 8

type mutexCB struct {
	active    bool
	owner     ThreadID
	lockCount uint8
	waitHead  ThreadID
	name      string
}

// CreateMutex allocates a mutex from the fixed pool.
func (m *Machine) CreateMutex(name string) (MutexID, Status) {
	m.cs.Enter()
	defer m.cs.Exit()
	for i := range m.mutexes {
		if !m.mutexes[i].active {
			m.mutexes[i] = mutexCB{active: true, owner: InvalidThreadID, waitHead: InvalidThreadID, name: name}
			return MutexID(i), Ok
		}
	}
	return InvalidMutexID, Invalid
}

// DestroyMutex frees a mutex slot for reuse.
func (m *Machine) DestroyMutex(id MutexID) Status {
	m.cs.Enter()
	defer m.cs.Exit()
	if int(id) >= MaxMutexes || !m.mutexes[id].active {
		return Invalid
	}
	m.mutexes[id] = mutexCB{}
	return Ok
}

// MutexLock blocks caller until it owns mutex id. Recursive: if caller
// already owns it, lockCount increments. If another thread owns it and
// caller's priority is strictly better, the owner is boosted to
// caller's priority (non-transitively -- §9 open question, intentional
// per the source). Returns false on an invalid id or an ISR caller.
func (m *Machine) MutexLock(caller ThreadID, id MutexID) bool {
	m.enter(caller)
	if int(id) >= MaxMutexes || !m.mutexes[id].active {
		m.cs.Exit()
		return false
	}
	if m.inISRContext() {
		m.cs.Exit()
		return false
	}
	mu := &m.mutexes[id]
	if mu.owner == InvalidThreadID {
		mu.owner = caller
		mu.lockCount = 1
		m.cs.Exit()
		return true
	}
	if mu.owner == caller {
		mu.lockCount++
		m.cs.Exit()
		return true
	}
	if m.pool[caller].currentPriority < m.pool[mu.owner].currentPriority {
		m.setThreadPriority(mu.owner, m.pool[caller].currentPriority)
	}
	m.waitQueueInsert(&mu.waitHead, caller)
	m.blockCurrentThread()
	m.handoff(caller)
	// Resumed: unlock() transferred ownership to us directly.
	return true
}

// MutexTryLock never blocks or boosts; returns false on contention.
func (m *Machine) MutexTryLock(caller ThreadID, id MutexID) bool {
	m.cs.Enter()
	defer m.cs.Exit()
	if int(id) >= MaxMutexes || !m.mutexes[id].active {
		return false
	}
	mu := &m.mutexes[id]
	if mu.owner == InvalidThreadID {
		mu.owner = caller
		mu.lockCount = 1
		return true
	}
	if mu.owner == caller {
		mu.lockCount++
		return true
	}
	return false
}

// MutexUnlock must be called by the owner. Decrements lockCount; at
// zero, restores the owner's boosted priority (if any) and transfers
// ownership directly to the highest-priority waiter, or clears the
// owner if none is waiting.
func (m *Machine) MutexUnlock(caller ThreadID, id MutexID) bool {
	m.enter(caller)
	if int(id) >= MaxMutexes || !m.mutexes[id].active {
		m.cs.Exit()
		return false
	}
	mu := &m.mutexes[id]
	if mu.owner != caller {
		m.cs.Exit()
		return false
	}
	mu.lockCount--
	if mu.lockCount > 0 {
		m.cs.Exit()
		return true
	}
	if m.pool[caller].currentPriority != m.pool[caller].basePriority {
		m.setThreadPriority(caller, m.pool[caller].basePriority)
	}
	if !waitQueueEmpty(mu.waitHead) {
		w := m.waitQueueRemoveHead(&mu.waitHead)
		mu.owner = w
		mu.lockCount = 1
		preempt := m.unblockThread(w)
		m.maybeSwitch(caller, preempt)
		return true
	}
	mu.owner = InvalidThreadID
	m.cs.Exit()
	return true
}

// ---- Semaphore ----

type SemaphoreID uint8

const InvalidSemaphoreID SemaphoreID = 0xFF

const MaxSemaphores = 8

type semCB struct {
	active   bool
	count    uint32
	maxCount uint32
	waitHead ThreadID
	name     string
}

// CreateSemaphore allocates a counting semaphore with initialCount <=
// maxCount.
func (m *Machine) CreateSemaphore(initial, max uint32, name string) (SemaphoreID, Status) {
	if initial > max {
		return InvalidSemaphoreID, Invalid
	}
	m.cs.Enter()
	defer m.cs.Exit()
	for i := range m.sems {
		if !m.sems[i].active {
			m.sems[i] = semCB{active: true, count: initial, maxCount: max, waitHead: InvalidThreadID, name: name}
			return SemaphoreID(i), Ok
		}
	}
	return InvalidSemaphoreID, Invalid
}

func (m *Machine) DestroySemaphore(id SemaphoreID) Status {
	m.cs.Enter()
	defer m.cs.Exit()
	if int(id) >= MaxSemaphores || !m.sems[id].active {
		return Invalid
	}
	m.sems[id] = semCB{}
	return Ok
}

// SemWait blocks until the count is available. If count > 0 it is
// decremented immediately; otherwise caller enrolls in the
// priority-sorted wait queue and treats being resumed as success (the
// signaller already accounted for the decrement).
func (m *Machine) SemWait(caller ThreadID, id SemaphoreID) bool {
	m.enter(caller)
	if int(id) >= MaxSemaphores || !m.sems[id].active || m.inISRContext() {
		m.cs.Exit()
		return false
	}
	s := &m.sems[id]
	if s.count > 0 {
		s.count--
		m.cs.Exit()
		return true
	}
	m.waitQueueInsert(&s.waitHead, caller)
	m.blockCurrentThread()
	m.handoff(caller)
	return true
}

// SemTryWait decrements and succeeds iff count > 0.
func (m *Machine) SemTryWait(id SemaphoreID) bool {
	m.cs.Enter()
	defer m.cs.Exit()
	if int(id) >= MaxSemaphores || !m.sems[id].active {
		return false
	}
	s := &m.sems[id]
	if s.count == 0 {
		return false
	}
	s.count--
	return true
}

// SemSignal wakes the highest-priority waiter if any (count stays the
// same -- the decrement was anticipated by the waiter's prior block),
// otherwise increments count up to maxCount. Returns false if count is
// already at maxCount and nobody is waiting.
func (m *Machine) SemSignal(caller ThreadID, id SemaphoreID) bool {
	m.enter(caller)
	if int(id) >= MaxSemaphores || !m.sems[id].active {
		m.cs.Exit()
		return false
	}
	s := &m.sems[id]
	if !waitQueueEmpty(s.waitHead) {
		w := m.waitQueueRemoveHead(&s.waitHead)
		preempt := m.unblockThread(w)
		m.maybeSwitch(caller, preempt)
		return true
	}
	if s.count >= s.maxCount {
		m.cs.Exit()
		return false
	}
	s.count++
	m.cs.Exit()
	return true
}
