// Licensed under GPLv3 or later.

// shell.go - interactive debug shell over any io.Reader/io.Writer.
//
// Ported from the original's Shell.cpp: a small built-in command table
// (help, ps, mem, uptime, version, dt, mbox) inspecting live kernel state.
// The original processes raw UART bytes one at a time with its own
// line editor; here that collapses to bufio.Scanner reading whole
// lines, since the host simulation's "UART" is just a terminal -- the
// built-in commands and their output formatting are what's ported,
// not the character-at-a-time input state machine, which has no
// purpose once a real line-buffered reader is available.
package shell

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lattice-os/kernel"
	"github.com/lattice-os/kernel/boardconfig"
)

// Version is the shell's own identifier, shown by the version command.
const Version = "lattice-kernel-shell 0.1"

// Shell is a debug REPL bound to one Machine. It owns no I/O hardware,
// matching the original's explicit design note: everything is driven
// through the Reader/Writer it's given, so it runs identically whether
// that's a real terminal or a test's bytes.Buffer pair.
type Shell struct {
	m      *kernel.Machine
	out    io.Writer
	board  *boardconfig.Board
	prompt string
}

// New creates a shell bound to m. board may be nil if no device tree
// was parsed (the dt command then reports "no board config").
func New(m *kernel.Machine, out io.Writer, board *boardconfig.Board) *Shell {
	return &Shell{m: m, out: out, board: board, prompt: "kernel> "}
}

// Run reads lines from in until EOF or a read error, dispatching each
// as a command. Returns nil on clean EOF.
func (s *Shell) Run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(s.out, s.prompt)
	for scanner.Scan() {
		s.execute(strings.TrimSpace(scanner.Text()))
		fmt.Fprint(s.out, s.prompt)
	}
	return scanner.Err()
}

func (s *Shell) writeLine(format string, args ...any) {
	fmt.Fprintf(s.out, format+"\r\n", args...)
}

func (s *Shell) execute(line string) {
	if line == "" {
		return
	}
	fields := strings.Fields(line)
	cmd, ok := commands[fields[0]]
	if !ok {
		s.writeLine("unknown command: %s", line)
		return
	}
	cmd(s, fields[1:])
}

var commands = map[string]func(*Shell, []string){
	"help":    (*Shell).cmdHelp,
	"ps":      (*Shell).cmdPs,
	"mem":     (*Shell).cmdMem,
	"uptime":  (*Shell).cmdUptime,
	"version": (*Shell).cmdVersion,
	"dt":      (*Shell).cmdDt,
	"mbox":    (*Shell).cmdMbox,
}

func (s *Shell) cmdHelp([]string) {
	s.writeLine("commands:")
	s.writeLine("  help     - show this message")
	s.writeLine("  ps       - list threads")
	s.writeLine("  mem      - heap statistics")
	s.writeLine("  uptime   - ticks since boot")
	s.writeLine("  version  - show version")
	s.writeLine("  dt       - device tree info")
	s.writeLine("  mbox <id> - mailbox head/tail/count/notifyBits")
}

func threadStateName(state kernel.ThreadState) string {
	switch state {
	case kernel.Ready:
		return "Ready "
	case kernel.Running:
		return "Run   "
	case kernel.Blocked:
		return "Block "
	default:
		return "???   "
	}
}

func (s *Shell) cmdPs([]string) {
	s.writeLine("TID  NAME         STATE   PRI  STACK")
	s.writeLine("---  ----------   ------  ---  -----")
	for i := kernel.ThreadID(0); int(i) < kernel.MaxThreads; i++ {
		info, ok := s.m.ThreadInfo(i)
		if !ok {
			continue
		}
		name := info.Name
		if name == "" {
			name = "(noname)"
		}
		s.writeLine("%-4d %-12s %s  %-4d %d", info.ID, name, threadStateName(info.State), info.CurrentPriority, info.StackSize)
	}
}

func (s *Shell) cmdMem([]string) {
	stats := s.m.Heap().Stats()
	s.writeLine("total:    %d", stats.TotalBytes)
	s.writeLine("used:     %d", stats.UsedBytes)
	s.writeLine("free:     %d", stats.FreeBytes)
	s.writeLine("largest:  %d", stats.LargestFreeBlock)
}

func (s *Shell) cmdUptime([]string) {
	s.writeLine("%d ticks", s.m.TickCount())
}

func (s *Shell) cmdVersion([]string) {
	s.writeLine(Version)
}

func (s *Shell) cmdDt([]string) {
	if s.board == nil {
		s.writeLine("no board config")
		return
	}
	s.writeLine("tick-hz:       %d", s.board.TickHz)
	s.writeLine("console-uart:  %s", s.board.ConsoleUART)
	s.writeLine("console-baud:  %d", s.board.ConsoleBaud)
}

func (s *Shell) cmdMbox(args []string) {
	if len(args) != 1 {
		s.writeLine("usage: mbox <id>")
		return
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id < 0 {
		s.writeLine("mbox: invalid thread id %q", args[0])
		return
	}
	info, ok := s.m.MailboxInfo(kernel.ThreadID(id))
	if !ok {
		s.writeLine("mbox: no such thread %d", id)
		return
	}
	s.writeLine("head:       %d", info.Head)
	s.writeLine("tail:       %d", info.Tail)
	s.writeLine("count:      %d", info.Count)
	s.writeLine("notifyBits: %#b", info.NotifyBits)
}
