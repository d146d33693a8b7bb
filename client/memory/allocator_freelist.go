// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package memory

import (
	"errors"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flight-hal/core/hal"
)

// recentFreeCacheSize bounds the FreeListAllocator's coalescing fast-path
// cache: a workload that frees and reallocates the same size repeatedly
// (a frame-scoped pool of fixed-size buffers, say) hits this before falling
// back to the first-fit scan.
const recentFreeCacheSize = 64

// freeBlock is a gap in the FreeList arena.
type freeBlock struct {
	offset uint64
	size   uint64
}

// busyBlock is an outstanding allocation's placement, kept so Free can
// locate and reclaim it.
type busyBlock struct {
	offset uint64
	size   uint64
}

// FreeListAllocator is a general-purpose allocator: first-fit search over
// a sorted free list, O(n) alloc. Free is not O(1): it finds the block by
// scanning the outstanding allocations, then reinserts the freed range,
// re-sorts the free list and coalesces it with adjacent neighbors.
type FreeListAllocator struct {
	buf    []byte
	free   []freeBlock // sorted by offset
	busy   map[uint64]busyBlock
	used   uint64
	peak   uint64
	count  uint64
	recent *lru.Cache[uint64, uint64] // size -> most recently freed offset of that exact size
}

func NewFreeListAllocator(size uint64) *FreeListAllocator {
	recent, _ := lru.New[uint64, uint64](recentFreeCacheSize)
	return &FreeListAllocator{
		buf:    make([]byte, size),
		free:   []freeBlock{{offset: 0, size: size}},
		busy:   make(map[uint64]busyBlock),
		recent: recent,
	}
}

func (a *FreeListAllocator) Type() hal.AllocatorType { return hal.AllocatorFreeList }

// Allocate does a first-fit scan of the free list, splitting the chosen
// block if it is larger than needed. Unaligned requests first consult the
// recently-freed cache for a block of this exact size before scanning.
func (a *FreeListAllocator) Allocate(size uint64, align uint32) ([]byte, error) {
	if align <= 1 {
		if off, ok := a.recent.Get(size); ok {
			a.recent.Remove(size)
			if i := a.indexOfFreeCovering(off, size); i >= 0 {
				return a.splitAndAllocate(i, size, align)
			}
		}
	}
	for i, fb := range a.free {
		start := alignUp(fb.offset, uint64(align))
		pad := start - fb.offset
		if size+pad > fb.size {
			continue
		}
		return a.splitAndAllocate(i, size, align)
	}
	return nil, errors.New("freelist: no block large enough")
}

// indexOfFreeCovering returns the index of the free block that still
// covers [offset, offset+size), or -1 if the hinted offset no longer
// names a valid free block (it was reallocated, or coalesced away from
// that starting offset).
func (a *FreeListAllocator) indexOfFreeCovering(offset, size uint64) int {
	for i, fb := range a.free {
		if fb.offset <= offset && offset+size <= fb.offset+fb.size {
			return i
		}
	}
	return -1
}

// splitAndAllocate carves size bytes (aligned to align) out of a.free[i],
// reinserting any leading padding and trailing remainder as new free
// blocks, and records the allocation in a.busy.
func (a *FreeListAllocator) splitAndAllocate(i int, size uint64, align uint32) ([]byte, error) {
	fb := a.free[i]
	start := alignUp(fb.offset, uint64(align))
	pad := start - fb.offset
	need := size + pad

	a.free = append(a.free[:i:i], a.free[i+1:]...)
	if pad > 0 {
		a.free = append(a.free, freeBlock{offset: fb.offset, size: pad})
	}
	remaining := fb.size - need
	if remaining > 0 {
		a.free = append(a.free, freeBlock{offset: start + size, size: remaining})
	}
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].offset < a.free[j].offset })

	a.busy[start] = busyBlock{offset: start, size: size}
	a.used += size
	a.count++
	if a.used > a.peak {
		a.peak = a.used
	}
	return a.buf[start : start+size : start+size], nil
}

func (a *FreeListAllocator) Free(buf []byte) error {
	if len(buf) == 0 {
		return errors.New("freelist: cannot free empty slice")
	}
	offset, blk, found := a.findBusyLocked(buf)
	if !found {
		return errors.New("freelist: buffer does not belong to this allocator")
	}
	delete(a.busy, offset)
	a.used -= blk.size
	a.insertAndCoalesce(freeBlock{offset: blk.offset, size: blk.size})
	a.recent.Add(blk.size, blk.offset)
	return nil
}

func (a *FreeListAllocator) findBusyLocked(buf []byte) (uint64, busyBlock, bool) {
	for off, blk := range a.busy {
		if &a.buf[off] == &buf[0] {
			return off, blk, true
		}
	}
	return 0, busyBlock{}, false
}

// insertAndCoalesce inserts fb into the sorted free list, merging with an
// immediately-adjacent predecessor or successor so adjacent frees don't
// accumulate as separate gaps.
func (a *FreeListAllocator) insertAndCoalesce(fb freeBlock) {
	a.free = append(a.free, fb)
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].offset < a.free[j].offset })

	merged := a.free[:0]
	for _, cur := range a.free {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.offset+last.size == cur.offset {
				last.size += cur.size
				continue
			}
		}
		merged = append(merged, cur)
	}
	a.free = merged
}

func (a *FreeListAllocator) Stats() AllocatorStats {
	total := uint64(len(a.buf))
	var largest uint64
	for _, fb := range a.free {
		if fb.size > largest {
			largest = fb.size
		}
	}
	free := total - a.used
	fragPct := 0.0
	if free > 0 {
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

func (a *FreeListAllocator) SupportsDefrag() bool { return true }

// Defragment reshapes the free list by re-sorting and re-coalescing it,
// per §4.2's invariant that defragmentation "invalidates no live
// pointers; instead it reshapes free lists." It never moves a busy
// block's bytes, so every outstanding Allocation.Ptr (and the table entry
// Facade.Deref reads it from) stays valid without needing to be re-homed.
// insertAndCoalesce already keeps the free list maximally merged after
// every Free, so this is mostly a defensive re-normalization; it is not a
// compacting defragmenter that can close gaps between live allocations.
func (a *FreeListAllocator) Defragment() {
	if len(a.free) == 0 {
		return
	}
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].offset < a.free[j].offset })
	merged := a.free[:1]
	for _, cur := range a.free[1:] {
		last := &merged[len(merged)-1]
		if last.offset+last.size == cur.offset {
			last.size += cur.size
			continue
		}
		merged = append(merged, cur)
	}
	a.free = merged
}
