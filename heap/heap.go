// Licensed under GPLv3 or later.

// heap.go - first-fit-with-coalescing allocator.
//
// Out of scope per the kernel spec ("straightforward first-fit-with-
// coalescing and is not the hard part; described only by contract") --
// implemented here only so the heapAlloc/heapFree/heapGetStats SVCs
// have something real to call. Single arena, boundary-tag free list,
// grounded on the original's Heap.cpp algorithm.
package heap

import "fmt"

type blockHeader struct {
	size int // payload size, not including header
	free bool
}

const headerSize = 16 // simulated fixed header cost per block

// Allocator manages one backing arena as a sequence of blocks.
type Allocator struct {
	arena  []byte
	blocks []blockHeader // parallel list, in address order
	offset []int         // payload start offset for blocks[i]
}

// New creates an allocator over a fresh arena of the given size.
func New(size int) *Allocator {
	a := &Allocator{arena: make([]byte, size)}
	a.blocks = []blockHeader{{size: size - headerSize, free: true}}
	a.offset = []int{headerSize}
	return a
}

// Alloc returns the byte offset of a payload of at least size bytes,
// or ok=false if no free block is large enough.
func (a *Allocator) Alloc(size int) (ptr uint32, ok bool) {
	if size <= 0 {
		return 0, false
	}
	for i, b := range a.blocks {
		if !b.free || b.size < size {
			continue
		}
		remaining := b.size - size
		a.blocks[i].size = size
		a.blocks[i].free = false
		if remaining > headerSize {
			a.blocks = append(a.blocks, blockHeader{})
			a.offset = append(a.offset, 0)
			copy(a.blocks[i+2:], a.blocks[i+1:])
			copy(a.offset[i+2:], a.offset[i+1:])
			a.blocks[i+1] = blockHeader{size: remaining - headerSize, free: true}
			a.offset[i+1] = a.offset[i] + size + headerSize
		}
		return uint32(a.offset[i]), true
	}
	return 0, false
}

// Free releases the block at ptr and coalesces with free neighbors.
func (a *Allocator) Free(ptr uint32) error {
	for i, off := range a.offset {
		if off != int(ptr) {
			continue
		}
		if a.blocks[i].free {
			return fmt.Errorf("heap: double free at offset %d", ptr)
		}
		a.blocks[i].free = true
		a.coalesce()
		return nil
	}
	return fmt.Errorf("heap: free of unknown pointer %d", ptr)
}

func (a *Allocator) coalesce() {
	for i := 0; i < len(a.blocks)-1; {
		if a.blocks[i].free && a.blocks[i+1].free {
			a.blocks[i].size += a.blocks[i+1].size + headerSize
			a.blocks = append(a.blocks[:i+1], a.blocks[i+2:]...)
			a.offset = append(a.offset[:i+1], a.offset[i+2:]...)
			continue
		}
		i++
	}
}

// Stats reports aggregate allocator state for the heapGetStats syscall.
type Stats struct {
	TotalBytes       uint32
	UsedBytes        uint32
	FreeBytes        uint32
	LargestFreeBlock uint32
}

func (a *Allocator) Stats() Stats {
	s := Stats{TotalBytes: uint32(len(a.arena))}
	for _, b := range a.blocks {
		if b.free {
			s.FreeBytes += uint32(b.size)
			if uint32(b.size) > s.LargestFreeBlock {
				s.LargestFreeBlock = uint32(b.size)
			}
		} else {
			s.UsedBytes += uint32(b.size)
		}
	}
	return s
}
