// Licensed under GPLv3 or later.

// Command ksim runs a small fixed thread population against a Machine
// for a bounded number of ticks and prints a ps-style summary, the
// host-simulation equivalent of the original's on-target smoke test
// that boots a handful of demo threads and watches them run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lattice-os/kernel"
	"github.com/lattice-os/kernel/arch"
)

func main() {
	ticks := flag.Duration("duration", 200*time.Millisecond, "how long to run the simulation")
	hz := flag.Uint("hz", 1000, "tick rate in Hz")
	flag.Parse()

	m := kernel.New(arch.NewHost(), 16*1024)

	worker := func(label string, iterations *int) kernel.ThreadFunc {
		return func(h *kernel.Handle) {
			for {
				*iterations++
				h.Sleep(5)
			}
		}
	}

	var producerIters, consumerIters int
	producerID, status := m.CreateThread(kernel.ThreadConfig{
		Entry: worker("producer", &producerIters), Name: "producer", Priority: 5,
	})
	if status != kernel.Ok {
		fmt.Fprintln(os.Stderr, "ksim: failed to create producer thread")
		os.Exit(1)
	}
	consumerID, status := m.CreateThread(kernel.ThreadConfig{
		Entry: worker("consumer", &consumerIters), Name: "consumer", Priority: 10,
	})
	if status != kernel.Ok {
		fmt.Fprintln(os.Stderr, "ksim: failed to create consumer thread")
		os.Exit(1)
	}
	m.Schedule(producerID)
	m.Schedule(consumerID)
	m.Start()

	ctx, cancel := context.WithTimeout(context.Background(), *ticks)
	defer cancel()
	if err := m.Run(ctx, uint32(*hz)); err != nil && err != context.DeadlineExceeded {
		fmt.Fprintf(os.Stderr, "ksim: run stopped early: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("ran %d ticks\n", m.TickCount())
	for _, id := range []kernel.ThreadID{producerID, consumerID} {
		info, ok := m.ThreadInfo(id)
		if !ok {
			continue
		}
		fmt.Printf("%-10s state=%-8s priority=%d\n", info.Name, info.State, info.CurrentPriority)
	}
}
