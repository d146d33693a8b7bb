// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package memory

import (
	"errors"

	"github.com/flight-hal/core/hal"
)

// PoolAllocator hands out fixed-size blocks from a preallocated arena.
// Alloc is O(1); Free finds the block by scanning the arena's block
// starts, so it is linear in the block count. Blocks never split, so
// fragmentation is always zero per §4.2's table.
type PoolAllocator struct {
	buf       []byte
	blockSize uint64
	free      []uint64 // free block start offsets
	used      uint64
	count     uint64
	peak      uint64
}

// NewPoolAllocator preallocates blockCount blocks of blockSize bytes each.
func NewPoolAllocator(blockSize uint64, blockCount int) *PoolAllocator {
	buf := make([]byte, blockSize*uint64(blockCount))
	free := make([]uint64, blockCount)
	for i := range free {
		free[i] = uint64(blockCount-1-i) * blockSize
	}
	return &PoolAllocator{buf: buf, blockSize: blockSize, free: free}
}

func (a *PoolAllocator) Type() hal.AllocatorType { return hal.AllocatorPool }

func (a *PoolAllocator) Allocate(size uint64, align uint32) ([]byte, error) {
	if size > a.blockSize {
		return nil, errors.New("pool: requested size exceeds fixed block size")
	}
	if uint64(align) > a.blockSize {
		return nil, errors.New("pool: alignment exceeds block size")
	}
	n := len(a.free)
	if n == 0 {
		return nil, errors.New("pool exhausted")
	}
	start := a.free[n-1]
	a.free = a.free[:n-1]
	a.used += a.blockSize
	a.count++
	if a.used > a.peak {
		a.peak = a.used
	}
	return a.buf[start : start+a.blockSize : start+a.blockSize], nil
}

func (a *PoolAllocator) Free(buf []byte) error {
	if len(buf) == 0 {
		return errors.New("pool: cannot free empty slice")
	}
	offset := uint64(0)
	found := false
	for i := uint64(0); i < uint64(len(a.buf)); i += a.blockSize {
		if &a.buf[i] == &buf[0] {
			offset = i
			found = true
			break
		}
	}
	if !found {
		return errors.New("pool: buffer does not belong to this allocator")
	}
	a.free = append(a.free, offset)
	a.used -= a.blockSize
	return nil
}

func (a *PoolAllocator) Stats() AllocatorStats {
	total := uint64(len(a.buf))
	return AllocatorStats{
		Total:            total,
		Used:             a.used,
		Free:             total - a.used,
		Peak:             a.peak,
		AllocationCount:  a.count,
		FragmentationPct: 0,
		LargestFreeBlock: a.blockSize * uint64(len(a.free)),
		Efficiency:       efficiency(a.used, total),
	}
}

func (a *PoolAllocator) SupportsDefrag() bool { return false }
func (a *PoolAllocator) Defragment()          {}
