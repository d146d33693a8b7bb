// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package memory

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/flight-hal/core/hal"
)

// SystemAllocator delegates to the host (Go runtime) allocator, per §4.2's
// table row for System: "delegates to host allocator." The Go runtime's
// make([]byte, n) makes no alignment guarantee beyond 1 byte, so any
// alignment above that is achieved by over-allocating by up to align-1
// bytes and slicing into the first address within the backing array that
// satisfies the requested boundary - the standard over-allocate-and-trim
// idiom for alignment without cgo.
type SystemAllocator struct {
	mu    sync.Mutex
	owned map[uintptr][]byte // aligned slice's first address -> backing array
	used  uint64
	peak  uint64
	count uint64
}

func NewSystemAllocator() *SystemAllocator {
	return &SystemAllocator{owned: make(map[uintptr][]byte)}
}

func (a *SystemAllocator) Type() hal.AllocatorType { return hal.AllocatorSystem }

func (a *SystemAllocator) Allocate(size uint64, align uint32) ([]byte, error) {
	if size == 0 {
		return nil, errors.New("system: size must be positive")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	backing := make([]byte, size+uint64(align))
	base := uintptr(unsafe.Pointer(&backing[0]))
	start := alignUp(uint64(base), uint64(align)) - uint64(base)
	aligned := backing[start : start+size : start+size]

	key := uintptr(unsafe.Pointer(&aligned[0]))
	a.owned[key] = backing
	a.used += size
	a.count++
	if a.used > a.peak {
		a.peak = a.used
	}
	return aligned, nil
}

func (a *SystemAllocator) Free(buf []byte) error {
	if len(buf) == 0 {
		return errors.New("system: cannot free empty slice")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	key := uintptr(unsafe.Pointer(&buf[0]))
	if _, ok := a.owned[key]; !ok {
		return errors.New("system: buffer does not belong to this allocator")
	}
	delete(a.owned, key)
	a.used -= uint64(len(buf))
	return nil
}

func (a *SystemAllocator) Stats() AllocatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AllocatorStats{
		Total:            a.used, // no fixed arena: total tracks live usage
		Used:             a.used,
		Free:             0,
		Peak:             a.peak,
		AllocationCount:  a.count,
		FragmentationPct: 0,
		LargestFreeBlock: 0,
		Efficiency:       1,
	}
}

func (a *SystemAllocator) SupportsDefrag() bool { return false }
func (a *SystemAllocator) Defragment()          {}
