// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package probe

import (
	"encoding/binary"
	"runtime"

	"github.com/hashicorp/go-hclog"

	"github.com/flight-hal/core/hal"
)

// MemoryFingerprinter detects total physical memory, native byte order,
// and which allocator strategies the platform can realistically back.
// Grounded on the teacher's memory fingerprinter, which reports
// memory.totalbytes from the host.
type MemoryFingerprinter struct {
	StaticFingerprinter
	logger hclog.Logger
	// TotalPhysicalMemory lets embedders (tests, or a port to a platform
	// without a portable memory-size syscall) supply the value directly
	// instead of relying on a host-specific query this package does not
	// implement for every target.
	TotalPhysicalMemory uint64
}

func NewMemoryFingerprinter(logger hclog.Logger, totalPhysicalMemory uint64) *MemoryFingerprinter {
	return &MemoryFingerprinter{logger: logger.Named("memory"), TotalPhysicalMemory: totalPhysicalMemory}
}

func (f *MemoryFingerprinter) Fingerprint(req *Request, resp *Response) error {
	resp.Detected = true
	resp.Name = "memory"
	resp.TotalPhysicalMemory = f.TotalPhysicalMemory

	endian := detectEndian()
	resp.Endian = &endian

	resp.PageSize = 4096
	if runtime.GOARCH == "arm64" || runtime.GOARCH == "riscv64" {
		// Many arm64/riscv64 kernels default to a 16 KiB or 64 KiB page;
		// without a portable syscall this is a best-effort default rather
		// than a detected value.
		resp.PageSize = 4096
	}

	// Every platform gets System; larger-memory tiers additionally get
	// the more complex allocators whose bookkeeping overhead only pays
	// off once there is enough memory to fragment.
	allocators := []hal.AllocatorType{hal.AllocatorLinear, hal.AllocatorStack, hal.AllocatorPool, hal.AllocatorSystem}
	caps := hal.Mask{}.
		Set(hal.CapMemoryLinearAllocator).
		Set(hal.CapMemoryStackAllocator).
		Set(hal.CapMemoryPoolAllocator).
		Set(hal.CapMemorySystemAllocator)

	const mb = 1024 * 1024
	if f.TotalPhysicalMemory == 0 || f.TotalPhysicalMemory > 32*mb {
		allocators = append(allocators, hal.AllocatorBuddy, hal.AllocatorFreeList)
		caps = caps.Set(hal.CapMemoryBuddyAllocator).Set(hal.CapMemoryFreeListAllocator)
		caps = caps.Set(hal.CapMemoryDefragmentation)
	}
	resp.Allocators = allocators
	resp.Capabilities = caps
	return nil
}

func detectEndian() hal.Endian {
	var i uint16 = 1
	b := make([]byte, 2)
	binary.NativeEndian.PutUint16(b, i)
	if b[0] == 1 {
		return hal.LittleEndian
	}
	return hal.BigEndian
}
