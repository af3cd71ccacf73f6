// Licensed under GPLv3 or later.

// mpu.go - ARMv7-M MPU region math (portable part of §4.9).
//
// Region layout (8 regions total), matching the original's Mpu.h:
//
//	0: FLASH        -- read-only (priv + unpriv), execute
//	1: Kernel SRAM   -- priv RW only, no execute
//	2: Peripherals   -- priv RW only, no execute, device memory
//	3: System        -- priv RW only, no execute (NVIC, SCB)
//	4: Thread stack  -- full access, no execute (updated on context switch)
//	5: Heap          -- full access, no execute (set once during init)
//	6-7: Reserved    -- for future user regions
//
// PRIVDEFENA=1 so privileged code keeps the default map for anything
// unmatched; HFNMIENA=0 so the crash dumper can reach the console
// peripheral with the MPU disabled during a hard fault.
package mpu

import "math/bits"

// Region identifies one of the eight static MPU region slots.
type Region uint8

const (
	RegionFlash Region = iota
	RegionKernelSRAM
	RegionPeripherals
	RegionSystem
	RegionThreadStack
	RegionHeap
	RegionUser0
	RegionUser1
)

// ThreadConfig holds the pre-computed register values for a thread's
// stack region, assembled once at threadCreate time and written into
// the region registers on every context switch into that thread.
type ThreadConfig struct {
	RBAR uint32 // region base address (region number + valid bit + base)
	RASR uint32 // region attribute and size register
}

const (
	minRegionSize uint32 = 32

	rasrEnable    uint32 = 1 << 0
	rasrSizeShift        = 1
	rasrFullAccess uint32 = 0x3 << 24 // AP=011 full access priv+unpriv
	rasrXN         uint32 = 1 << 28  // execute-never
)

// RoundUpSize returns the smallest power of two that is both >= n and
// >= the 32-byte minimum MPU region size.
func RoundUpSize(n uint32) uint32 {
	if n < minRegionSize {
		n = minRegionSize
	}
	if n&(n-1) == 0 {
		return n
	}
	return 1 << bits.Len32(n)
}

// SizeEncoding packs a power-of-two region size into the 5-bit RASR
// SIZE field (SIZE = log2(size) - 1). Returns 0 for anything that is
// not a valid power of two >= 32, which the caller must treat as
// "invalid" (0 would otherwise decode to a 2-byte region, smaller than
// any region the MPU can express, so it doubles as a sentinel).
func SizeEncoding(size uint32) uint8 {
	if size < minRegionSize || size&(size-1) != 0 {
		return 0
	}
	return uint8(bits.Len32(size) - 2)
}

// ValidateStack enforces the two MPU region constraints on a thread's
// stack buffer: size is a power of two no smaller than 32 bytes, and
// base is aligned to size.
func ValidateStack(base uintptr, size uint32) bool {
	if size < minRegionSize || size&(size-1) != 0 {
		return false
	}
	return uint32(base)%size == 0
}

// ComputeThreadConfig assembles RBAR/RASR for a full-access, no-execute
// normal-memory region covering the given stack buffer, to be written
// into the thread-stack region slot on every context switch into the
// owning thread.
func ComputeThreadConfig(base uintptr, size uint32) ThreadConfig {
	encoding := SizeEncoding(RoundUpSize(size))
	rbar := uint32(base) | (1 << 4) | uint32(RegionThreadStack)
	rasr := rasrEnable | (uint32(encoding) << rasrSizeShift) | rasrFullAccess | rasrXN
	return ThreadConfig{RBAR: rbar, RASR: rasr}
}

// RegisterFile is the simulated region register bank mpuInit/
// mpuConfigureThreadRegion program. On real hardware these are MMIO
// registers; here they are plain fields so tests can assert on the
// values a context switch would have written.
type RegisterFile struct {
	regions    [8]ThreadConfig
	privdefena bool
	hfnmiena   bool
	enabled    bool
}

// Init installs the static regions and enables the MPU with
// PRIVDEFENA=1, HFNMIENA=0, matching the original's mpuInit().
func (r *RegisterFile) Init() {
	const (
		apReadOnly uint32 = 0x6 << 24 // AP=110 read-only priv+unpriv
		apPrivRW   uint32 = 0x1 << 24 // AP=001 priv RW, unpriv no access
		bufferable uint32 = 1 << 16   // TEX=000 C=0 B=1: shared device memory
	)
	r.regions[RegionFlash] = ThreadConfig{RBAR: uint32(RegionFlash), RASR: rasrEnable | apReadOnly}
	r.regions[RegionKernelSRAM] = ThreadConfig{RBAR: uint32(RegionKernelSRAM), RASR: rasrEnable | apPrivRW | rasrXN}
	r.regions[RegionPeripherals] = ThreadConfig{RBAR: uint32(RegionPeripherals), RASR: rasrEnable | apPrivRW | bufferable | rasrXN}
	r.regions[RegionSystem] = ThreadConfig{RBAR: uint32(RegionSystem), RASR: rasrEnable | apPrivRW | rasrXN}
	r.regions[RegionHeap] = ThreadConfig{RBAR: uint32(RegionHeap), RASR: rasrEnable | rasrFullAccess | rasrXN}
	r.privdefena = true
	r.hfnmiena = false
	r.enabled = true
}

// ConfigureThreadRegion writes a thread's pre-computed stack region
// into the thread-stack slot. Called by the scheduler on every context
// switch.
func (r *RegisterFile) ConfigureThreadRegion(cfg ThreadConfig) {
	r.regions[RegionThreadStack] = cfg
}

func (r *RegisterFile) Region(idx Region) ThreadConfig { return r.regions[idx] }
func (r *RegisterFile) Enabled() bool                  { return r.enabled }
