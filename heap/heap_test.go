// Licensed under GPLv3 or later.

package heap

import "testing"

func TestAllocReturnsDistinctNonOverlappingBlocks(t *testing.T) {
	a := New(1024)

	p1, ok := a.Alloc(64)
	if !ok {
		t.Fatal("first Alloc(64) failed on a fresh 1024-byte arena")
	}
	p2, ok := a.Alloc(64)
	if !ok {
		t.Fatal("second Alloc(64) failed")
	}
	if p1 == p2 {
		t.Fatalf("Alloc returned the same offset twice: %d", p1)
	}
	if p2 < p1+64 {
		t.Errorf("second block at %d overlaps first block [%d,+64)", p2, p1)
	}
}

func TestAllocFailsWhenArenaExhausted(t *testing.T) {
	a := New(128)
	if _, ok := a.Alloc(1000); ok {
		t.Error("Alloc(1000) on a 128-byte arena should fail")
	}
}

func TestAllocRejectsNonPositiveSize(t *testing.T) {
	a := New(1024)
	if _, ok := a.Alloc(0); ok {
		t.Error("Alloc(0) should fail")
	}
	if _, ok := a.Alloc(-1); ok {
		t.Error("Alloc(-1) should fail")
	}
}

func TestFreeThenAllocReusesSpace(t *testing.T) {
	a := New(256)
	p1, ok := a.Alloc(64)
	if !ok {
		t.Fatal("Alloc(64) failed")
	}
	if err := a.Free(p1); err != nil {
		t.Fatalf("Free returned error: %v", err)
	}

	p2, ok := a.Alloc(64)
	if !ok {
		t.Fatal("Alloc(64) after Free should succeed")
	}
	if p2 != p1 {
		t.Errorf("Alloc after Free returned offset %d, want reused offset %d", p2, p1)
	}
}

func TestFreeCoalescesAdjacentBlocks(t *testing.T) {
	a := New(256)
	p1, _ := a.Alloc(32)
	p2, _ := a.Alloc(32)
	_ = p1
	if err := a.Free(p2); err != nil {
		t.Fatalf("Free(p2) returned error: %v", err)
	}
	if err := a.Free(p1); err != nil {
		t.Fatalf("Free(p1) returned error: %v", err)
	}

	// After freeing both allocations, a single larger allocation spanning
	// their combined (coalesced) space should succeed.
	if _, ok := a.Alloc(64 + headerSize); !ok {
		t.Error("Alloc across the coalesced region failed; blocks were not merged")
	}
}

func TestFreeRejectsDoubleFree(t *testing.T) {
	a := New(256)
	p, _ := a.Alloc(32)
	if err := a.Free(p); err != nil {
		t.Fatalf("first Free returned error: %v", err)
	}
	if err := a.Free(p); err == nil {
		t.Error("second Free of the same pointer should return an error")
	}
}

func TestFreeRejectsUnknownPointer(t *testing.T) {
	a := New(256)
	if err := a.Free(9999); err == nil {
		t.Error("Free of an unknown offset should return an error")
	}
}

func TestStatsReflectAllocationsAndFrees(t *testing.T) {
	a := New(1024)
	before := a.Stats()
	if before.TotalBytes != 1024 {
		t.Errorf("TotalBytes = %d, want 1024", before.TotalBytes)
	}
	if before.UsedBytes != 0 {
		t.Errorf("fresh allocator UsedBytes = %d, want 0", before.UsedBytes)
	}

	p, ok := a.Alloc(100)
	if !ok {
		t.Fatal("Alloc(100) failed")
	}
	afterAlloc := a.Stats()
	if afterAlloc.UsedBytes != 100 {
		t.Errorf("UsedBytes after Alloc(100) = %d, want 100", afterAlloc.UsedBytes)
	}
	if afterAlloc.FreeBytes >= before.FreeBytes {
		t.Errorf("FreeBytes after Alloc should shrink: before=%d after=%d", before.FreeBytes, afterAlloc.FreeBytes)
	}

	if err := a.Free(p); err != nil {
		t.Fatalf("Free returned error: %v", err)
	}
	afterFree := a.Stats()
	if afterFree.UsedBytes != 0 {
		t.Errorf("UsedBytes after Free = %d, want 0", afterFree.UsedBytes)
	}
}
