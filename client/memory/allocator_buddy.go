// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package memory

import (
	"errors"
	"math/bits"

	"github.com/flight-hal/core/hal"
)

// BuddyAllocator implements the classic binary-buddy strategy: sizes are
// rounded up to the next power of two, alloc is O(log n), and free
// always attempts to coalesce with the block's buddy, per §4.2's table.
// Free is not O(log n): it finds the block by scanning the outstanding
// allocations, and each coalescing step scans that order's free list.
type BuddyAllocator struct {
	buf       []byte
	minOrder  int // smallest block is 1<<minOrder bytes
	maxOrder  int // whole arena is 1<<maxOrder bytes
	freeLists [][]uint64
	allocated map[uint64]int // offset -> order, for blocks currently handed out
	used      uint64
	peak      uint64
	count     uint64
}

// NewBuddyAllocator creates a buddy allocator over an arena of size bytes
// (rounded up to a power of two) with a minimum block size of minBlock
// bytes (also rounded up to a power of two).
func NewBuddyAllocator(size uint64, minBlock uint64) *BuddyAllocator {
	maxOrder := ceilLog2(size)
	minOrder := ceilLog2(minBlock)
	if minOrder > maxOrder {
		minOrder = maxOrder
	}
	arena := uint64(1) << uint(maxOrder)

	a := &BuddyAllocator{
		buf:       make([]byte, arena),
		minOrder:  minOrder,
		maxOrder:  maxOrder,
		freeLists: make([][]uint64, maxOrder+1),
		allocated: make(map[uint64]int),
	}
	a.freeLists[maxOrder] = []uint64{0}
	return a
}

func ceilLog2(v uint64) int {
	if v <= 1 {
		return 0
	}
	return bits.Len64(v - 1)
}

func (a *BuddyAllocator) orderFor(size uint64) int {
	order := ceilLog2(size)
	if order < a.minOrder {
		order = a.minOrder
	}
	return order
}

func (a *BuddyAllocator) Type() hal.AllocatorType { return hal.AllocatorBuddy }

func (a *BuddyAllocator) Allocate(size uint64, align uint32) ([]byte, error) {
	order := a.orderFor(size)
	if alignOrder := a.orderFor(uint64(align)); alignOrder > order {
		// A power-of-two block is always aligned to its own size, so
		// bumping to the alignment's order guarantees the alignment
		// invariant without any extra padding logic.
		order = alignOrder
	}
	if order > a.maxOrder {
		return nil, errors.New("buddy: requested size exceeds arena")
	}

	offset, err := a.allocBlock(order)
	if err != nil {
		return nil, err
	}
	blockSize := uint64(1) << uint(order)
	a.allocated[offset] = order
	a.used += blockSize
	a.count++
	if a.used > a.peak {
		a.peak = a.used
	}
	return a.buf[offset : offset+blockSize : offset+blockSize], nil
}

// allocBlock finds a free block of the requested order, splitting a larger
// block if necessary.
func (a *BuddyAllocator) allocBlock(order int) (uint64, error) {
	if n := len(a.freeLists[order]); n > 0 {
		off := a.freeLists[order][n-1]
		a.freeLists[order] = a.freeLists[order][:n-1]
		return off, nil
	}
	if order >= a.maxOrder {
		return 0, errors.New("buddy arena exhausted")
	}
	parent, err := a.allocBlock(order + 1)
	if err != nil {
		return 0, err
	}
	buddy := parent + (uint64(1) << uint(order))
	a.freeLists[order] = append(a.freeLists[order], buddy)
	return parent, nil
}

func (a *BuddyAllocator) Free(buf []byte) error {
	if len(buf) == 0 {
		return errors.New("buddy: cannot free empty slice")
	}
	offset, order, found := a.findAllocatedLocked(buf)
	if !found {
		return errors.New("buddy: buffer does not belong to this allocator")
	}
	delete(a.allocated, offset)
	a.used -= uint64(1) << uint(order)
	a.coalesce(offset, order)
	return nil
}

// findAllocatedLocked locates the outstanding block whose backing array
// matches buf's first byte, by pointer identity against each recorded
// offset (mirroring the scan PoolAllocator.Free and StackAllocator.Free
// use rather than reaching for unsafe.Pointer arithmetic).
func (a *BuddyAllocator) findAllocatedLocked(buf []byte) (uint64, int, bool) {
	for off, order := range a.allocated {
		if &a.buf[off] == &buf[0] {
			return off, order, true
		}
	}
	return 0, 0, false
}

// coalesce merges offset's block with its buddy, walking up orders as
// long as the buddy is free, so free always attempts to coalesce per
// §4.2's table.
func (a *BuddyAllocator) coalesce(offset uint64, order int) {
	for order < a.maxOrder {
		buddy := offset ^ (uint64(1) << uint(order))
		idx := -1
		for i, o := range a.freeLists[order] {
			if o == buddy {
				idx = i
				break
			}
		}
		if idx == -1 {
			break
		}
		a.freeLists[order] = append(a.freeLists[order][:idx], a.freeLists[order][idx+1:]...)
		if buddy < offset {
			offset = buddy
		}
		order++
	}
	a.freeLists[order] = append(a.freeLists[order], offset)
}

func (a *BuddyAllocator) Stats() AllocatorStats {
	total := uint64(len(a.buf))
	var largest uint64
	for order := a.maxOrder; order >= a.minOrder; order-- {
		if len(a.freeLists[order]) > 0 {
			largest = uint64(1) << uint(order)
			break
		}
	}
	free := total - a.used
	fragPct := 0.0
	if free > 0 && largest < free {
		fragPct = 100 * (1 - float64(largest)/float64(free))
	}
	return AllocatorStats{
		Total:            total,
		Used:             a.used,
		Free:             free,
		Peak:             a.peak,
		AllocationCount:  a.count,
		FragmentationPct: fragPct,
		LargestFreeBlock: largest,
		Efficiency:       efficiency(a.used, total),
	}
}

func (a *BuddyAllocator) SupportsDefrag() bool { return false }
func (a *BuddyAllocator) Defragment()          {}
