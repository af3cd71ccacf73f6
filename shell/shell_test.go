// Licensed under GPLv3 or later.

package shell

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/lattice-os/kernel"
	"github.com/lattice-os/kernel/arch"
	"github.com/lattice-os/kernel/boardconfig"
)

func newTestMachine(t *testing.T) *kernel.Machine {
	t.Helper()
	return kernel.New(arch.NewHost(), 4*1024)
}

func TestRunDispatchesKnownCommands(t *testing.T) {
	m := newTestMachine(t)
	m.CreateThread(kernel.ThreadConfig{Entry: func(h *kernel.Handle) { select {} }, Name: "worker", Priority: 5})

	var out bytes.Buffer
	sh := New(m, &out, nil)
	in := strings.NewReader("ps\nmem\nuptime\nversion\ndt\nhelp\nbogus\n")
	if err := sh.Run(in); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	got := out.String()

	for _, want := range []string{
		"TID  NAME",
		"worker",
		"total:",
		"ticks",
		Version,
		"no board config",
		"commands:",
		"unknown command: bogus",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("shell output missing %q; got:\n%s", want, got)
		}
	}
}

func TestCmdDtReportsBoardConfig(t *testing.T) {
	m := newTestMachine(t)
	board := &boardconfig.Board{TickHz: 1000, ConsoleUART: "uart0", ConsoleBaud: 115200}

	var out bytes.Buffer
	sh := New(m, &out, board)
	if err := sh.Run(strings.NewReader("dt\n")); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	got := out.String()

	for _, want := range []string{"tick-hz:       1000", "console-uart:  uart0", "console-baud:  115200"} {
		if !strings.Contains(got, want) {
			t.Errorf("dt output missing %q; got:\n%s", want, got)
		}
	}
}

func TestCmdMboxReportsMailboxState(t *testing.T) {
	m := newTestMachine(t)
	id, status := m.CreateThread(kernel.ThreadConfig{Entry: func(h *kernel.Handle) { select {} }, Priority: 5})
	if status != kernel.Ok {
		t.Fatalf("CreateThread status = %v, want Ok", status)
	}
	if status := m.TrySend(kernel.InvalidThreadID, id, kernel.Message{MethodID: 1}); status != kernel.Ok {
		t.Fatalf("TrySend status = %v, want Ok", status)
	}
	m.Notify(id, 0b0001)

	var out bytes.Buffer
	sh := New(m, &out, nil)
	if err := sh.Run(strings.NewReader(fmt.Sprintf("mbox %d\n", id))); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	got := out.String()

	for _, want := range []string{"head:       0", "tail:       1", "count:      1", "notifyBits: 0b1"} {
		if !strings.Contains(got, want) {
			t.Errorf("mbox output missing %q; got:\n%s", want, got)
		}
	}
}

func TestCmdMboxRejectsBadArgs(t *testing.T) {
	m := newTestMachine(t)
	var out bytes.Buffer
	sh := New(m, &out, nil)
	if err := sh.Run(strings.NewReader("mbox\nmbox notanumber\nmbox 99\n")); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	got := out.String()

	for _, want := range []string{"usage: mbox <id>", "invalid thread id", "no such thread 99"} {
		if !strings.Contains(got, want) {
			t.Errorf("mbox error output missing %q; got:\n%s", want, got)
		}
	}
}

func TestRunEmptyLinesAreIgnored(t *testing.T) {
	m := newTestMachine(t)
	var out bytes.Buffer
	sh := New(m, &out, nil)
	if err := sh.Run(strings.NewReader("\n\n")); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if strings.Contains(out.String(), "unknown command") {
		t.Errorf("blank lines should not dispatch as unknown commands, got:\n%s", out.String())
	}
}
