// Licensed under GPLv3 or later.

package kernel

import (
	"testing"

	"github.com/lattice-os/kernel/arch"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	return New(arch.NewHost(), 4*1024)
}

func TestCreateThreadAssignsReadyState(t *testing.T) {
	m := newTestMachine(t)
	id, status := m.CreateThread(ThreadConfig{
		Entry: func(h *Handle) { select {} }, Name: "worker", Priority: 5,
	})
	if status != Ok {
		t.Fatalf("CreateThread status = %v, want Ok", status)
	}
	info, ok := m.ThreadInfo(id)
	if !ok {
		t.Fatalf("ThreadInfo(%d) not found", id)
	}
	if info.State != Ready {
		t.Errorf("new thread state = %v, want Ready", info.State)
	}
	if info.BasePriority != 5 || info.CurrentPriority != 5 {
		t.Errorf("priorities = %d/%d, want 5/5", info.BasePriority, info.CurrentPriority)
	}
}

func TestCreateThreadRejectsNilEntry(t *testing.T) {
	m := newTestMachine(t)
	_, status := m.CreateThread(ThreadConfig{Name: "bad"})
	if status != Invalid {
		t.Errorf("CreateThread with nil entry = %v, want Invalid", status)
	}
}

func TestCreateThreadPoolExhaustion(t *testing.T) {
	m := newTestMachine(t)
	// One slot is already used by the idle thread.
	for i := 0; i < MaxThreads-1; i++ {
		if _, status := m.CreateThread(ThreadConfig{
			Entry: func(h *Handle) { select {} }, Name: "w", Priority: 10,
		}); status != Ok {
			t.Fatalf("thread %d: status = %v, want Ok", i, status)
		}
	}
	if _, status := m.CreateThread(ThreadConfig{
		Entry: func(h *Handle) { select {} }, Name: "overflow", Priority: 10,
	}); status != Invalid {
		t.Errorf("pool-exhausted CreateThread = %v, want Invalid", status)
	}
}

func TestDestroyThreadRejectsIdle(t *testing.T) {
	m := newTestMachine(t)
	idleInfo, _ := m.ThreadInfo(m.sched.idleID)
	if status := m.DestroyThread(idleInfo.ID); status != Invalid {
		t.Errorf("DestroyThread(idle) = %v, want Invalid", status)
	}
}

func TestDestroyThreadMarksInactive(t *testing.T) {
	m := newTestMachine(t)
	id, _ := m.CreateThread(ThreadConfig{
		Entry: func(h *Handle) { select {} }, Name: "victim", Priority: 10,
	})
	if status := m.DestroyThread(id); status != Ok {
		t.Fatalf("DestroyThread = %v, want Ok", status)
	}
	if _, ok := m.ThreadInfo(id); ok {
		t.Errorf("destroyed thread still reports ThreadInfo")
	}
	if status := m.DestroyThread(id); status != NoThread {
		t.Errorf("double DestroyThread = %v, want NoThread", status)
	}
}

func TestScheduleRejectsOutOfRangeAndInactive(t *testing.T) {
	m := newTestMachine(t)
	if status := m.Schedule(ThreadID(MaxThreads)); status != NoThread {
		t.Errorf("Schedule(out of range) = %v, want NoThread", status)
	}
	id, _ := m.CreateThread(ThreadConfig{
		Entry: func(h *Handle) { select {} }, Name: "t", Priority: 10,
	})
	m.DestroyThread(id)
	if status := m.Schedule(id); status != NoThread {
		t.Errorf("Schedule(inactive) = %v, want NoThread", status)
	}
}
