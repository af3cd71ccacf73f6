// Licensed under GPLv3 or later.

// Command kshell boots a Machine and attaches the debug shell to the
// controlling terminal, the host-simulation equivalent of wiring the
// original's shellInit() to a real UART. Raw mode follows the same
// term.MakeRaw/Restore pattern as the teacher's terminal_host.go, since
// line editing is handled by bufio.Scanner rather than the terminal
// driver's cooked-mode echo.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/term"

	"github.com/lattice-os/kernel"
	"github.com/lattice-os/kernel/arch"
	"github.com/lattice-os/kernel/boardconfig"
	"github.com/lattice-os/kernel/shell"
)

func main() {
	heapBytes := flag.Int("heap", 16*1024, "simulated heap arena size in bytes")
	hz := flag.Uint("hz", 1000, "tick rate in Hz")
	dtbPath := flag.String("dtb", "", "optional flattened device tree blob to load board config from")
	flag.Parse()

	var board *boardconfig.Board
	if *dtbPath != "" {
		data, err := os.ReadFile(*dtbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kshell: reading dtb: %v\n", err)
			os.Exit(1)
		}
		b, err := boardconfig.Parse(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kshell: parsing dtb: %v\n", err)
			os.Exit(1)
		}
		board = b
	}

	m := kernel.New(arch.NewHost(), *heapBytes)
	m.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		if err := m.RunSupervised(ctx, uint32(*hz), os.Stderr); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "kshell: tick loop stopped: %v\n", err)
		}
	}()

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err == nil {
		defer term.Restore(fd, oldState)
	}

	sh := shell.New(m, os.Stdout, board)
	if err := sh.Run(os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "kshell: %v\n", err)
		os.Exit(1)
	}
}
