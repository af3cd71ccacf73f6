// Licensed under GPLv3 or later.

// crashdump.go - portable crash-dump formatter.
//
// Ported from the original's CrashDumpCommon.cpp: the register-capture
// side is arch-specific (arch.FaultFrame, already populated by the time
// it reaches here) and board-specific output is out of scope per the
// kernel spec's collaborator list, so Format only does the part that
// is genuinely portable -- turning a captured fault frame plus thread
// context into the same structured, line-oriented dump the original
// writes over UART, here written to any io.Writer.
package crashdump

import (
	"fmt"
	"io"

	"github.com/lattice-os/kernel/arch"
)

// FaultType names the class of fault being reported, mirroring the
// original's test-fault enum plus a Hardware case for a real captured
// frame.
type FaultType uint8

const (
	Hardware FaultType = iota
	DivideByZero
	InvalidMemory
	UndefinedInstruction
)

func (f FaultType) String() string {
	switch f {
	case Hardware:
		return "HardFault"
	case DivideByZero:
		return "DivideByZero"
	case InvalidMemory:
		return "InvalidMemory"
	case UndefinedInstruction:
		return "UndefinedInstruction"
	default:
		return "Unknown"
	}
}

// Format writes the structured crash dump for frame to w, matching the
// original's faultHandlerC layout: a banner, the fault type, the
// faulting thread's identity, then every captured register in a fixed
// order.
func Format(w io.Writer, kind FaultType, frame arch.FaultFrame) error {
	lines := []string{
		"=== CRASH DUMP BEGIN ===",
		"Fault: " + kind.String(),
		threadLine(frame),
		"Registers:",
		hexLine("R0", frame.R0),
		hexLine("R1", frame.R1),
		hexLine("R2", frame.R2),
		hexLine("R3", frame.R3),
		hexLine("R12", frame.R12),
		hexLine("LR", frame.LR),
		hexLine("PC", frame.PC),
		hexLine("XPSR", frame.XPSR),
		"Fault status:",
		hexLine("CFSR", frame.CFSR),
		hexLine("HFSR", frame.HFSR),
		hexLine("MMFAR", frame.MMFAR),
		hexLine("EXC_RETURN", frame.ExcReturn),
		"=== CRASH DUMP END ===",
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func threadLine(frame arch.FaultFrame) string {
	if frame.ThreadName == "" {
		return "Thread: (none)"
	}
	return fmt.Sprintf("Thread: %s (id=%d) stack=[0x%08X,+%d)",
		frame.ThreadName, frame.ThreadID, frame.StackBase, frame.StackSize)
}

func hexLine(label string, value uint32) string {
	return fmt.Sprintf("  %s: %08X", label, value)
}
