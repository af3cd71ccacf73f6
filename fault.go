// Licensed under GPLv3 or later.

// fault.go - wires the portable crash-dump formatter to live Machine
// state: captures the current thread's identity and stack bounds into
// an arch.FaultFrame and hands it to crashdump.Format. Grounded on the
// original's faultHandlerC, which reads g_currentTcb the same way.
package kernel

import (
	"context"
	"errors"
	"io"

	"github.com/lattice-os/kernel/arch"
	"github.com/lattice-os/kernel/crashdump"
)

// DumpFault writes a structured crash dump for the current thread to
// w. kind distinguishes a real captured hardware fault from one of the
// synthetic test faults triggered via TriggerTestFault.
func (m *Machine) DumpFault(w io.Writer, kind crashdump.FaultType, frame arch.FaultFrame) error {
	m.cs.Enter()
	cur := m.sched.currentID
	if cur != InvalidThreadID {
		t := &m.pool[cur]
		frame.ThreadID = uint8(t.id)
		frame.ThreadName = t.name
		frame.StackBase = uint32(t.stackBase)
		frame.StackSize = t.stackSize
	}
	m.cs.Exit()
	return crashdump.Format(w, kind, frame)
}

// TriggerTestFault synthesizes a fault frame for the named test fault
// kind and writes the dump to w, exercising the same formatting path a
// real hard fault would without needing a real MPU/bus trap on a host
// CPU. Mirrors the original's triggerTestFault, which exists purely to
// exercise the dump path on target hardware.
func (m *Machine) TriggerTestFault(w io.Writer, kind crashdump.FaultType) error {
	frame := arch.FaultFrame{PC: 0xDEADBEEF, XPSR: m.target.InitialStatusRegister()}
	switch kind {
	case crashdump.DivideByZero:
		frame.CFSR = 1 << 25 // DIVBYZERO bit in UFSR (CFSR[25])
	case crashdump.InvalidMemory:
		frame.CFSR = 1 << 0 // IACCVIOL bit in MMFSR
		frame.MMFAR = 0xFFFFFFFF
	case crashdump.UndefinedInstruction:
		frame.CFSR = 1 << 16 // UNDEFINSTR bit in UFSR
	}
	return m.DumpFault(w, kind, frame)
}

// RunSupervised is Run wrapped so that a panic escaping the tick loop
// (an internal invariant violation -- see status.go) is turned into a
// crash dump on w instead of taking down the whole process, matching
// §7's propagation policy: predictable failures return a Status,
// invariant violations panic to the fault path.
func (m *Machine) RunSupervised(ctx context.Context, hz uint32, w io.Writer) error {
	err := m.Run(ctx, hz)
	var fault FaultError
	if errors.As(err, &fault) {
		if dumpErr := m.TriggerTestFault(w, crashdump.Hardware); dumpErr != nil {
			return dumpErr
		}
		return err
	}
	return err
}
