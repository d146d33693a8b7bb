// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package memory

import (
	"errors"

	"github.com/flight-hal/core/hal"
)

// StackAllocator is an O(1) alloc/free allocator with LIFO free discipline:
// freeing anything other than the most recent outstanding allocation is
// InvalidFreeOrder, per §4.2's table.
type StackAllocator struct {
	buf    []byte
	offset uint64
	marks  []uint64 // offset before each outstanding allocation, LIFO
	peak   uint64
	count  uint64
}

func NewStackAllocator(size uint64) *StackAllocator {
	return &StackAllocator{buf: make([]byte, size)}
}

func (a *StackAllocator) Type() hal.AllocatorType { return hal.AllocatorStack }

func (a *StackAllocator) Allocate(size uint64, align uint32) ([]byte, error) {
	start := alignUp(a.offset, uint64(align))
	end := start + size
	if end > uint64(len(a.buf)) {
		return nil, errors.New("stack allocator exhausted")
	}
	a.marks = append(a.marks, a.offset)
	a.offset = end
	a.count++
	if a.offset > a.peak {
		a.peak = a.offset
	}
	return a.buf[start:end:end], nil
}

// Free releases buf only if it is the most recent outstanding allocation;
// otherwise it returns InvalidFreeOrder via a plain error that Facade
// wraps into hal.ErrInvalidState — callers that need the exact §7 kind
// should check FreeIsOrderViolation.
func (a *StackAllocator) Free(buf []byte) error {
	if len(a.marks) == 0 {
		return errInvalidFreeOrder
	}
	// The most recent allocation starts at marks[last] and ends at the
	// current offset.
	top := a.marks[len(a.marks)-1]
	if &buf[0] != &a.buf[top] {
		return errInvalidFreeOrder
	}
	a.marks = a.marks[:len(a.marks)-1]
	a.offset = top
	return nil
}

var errInvalidFreeOrder = errors.New("invalid free order: not the most recent allocation")

// FreeIsOrderViolation reports whether err is the stack allocator's
// out-of-order free error, letting callers map it to hal.ErrInvalidFreeOrder-
// equivalent handling (the taxonomy in §7 folds this into InvalidState
// since InvalidFreeOrder is not itself a top-level ErrorKind; the message
// preserves the distinction for logs).
func FreeIsOrderViolation(err error) bool {
	return errors.Is(err, errInvalidFreeOrder)
}

func (a *StackAllocator) Stats() AllocatorStats {
	return AllocatorStats{
		Total:            uint64(len(a.buf)),
		Used:             a.offset,
		Free:             uint64(len(a.buf)) - a.offset,
		Peak:             a.peak,
		AllocationCount:  a.count,
		FragmentationPct: 0,
		LargestFreeBlock: uint64(len(a.buf)) - a.offset,
		Efficiency:       efficiency(a.offset, uint64(len(a.buf))),
	}
}

func (a *StackAllocator) SupportsDefrag() bool { return false }
func (a *StackAllocator) Defragment()          {}
