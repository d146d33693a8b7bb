// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package memory implements the HAL's multi-allocator façade: typed
// regions, allocator-strategy routing, a pressure monitor with
// level-triggered callbacks, and live statistics. It is organized the way
// the teacher's client/lib/cgutil package organizes a resource manager
// that must pick the right host-specific implementation at construction
// time (cgroup v1/v2/noop) and present one uniform interface to callers
// regardless of which one was picked.
package memory

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"

	"github.com/flight-hal/core/hal"
)

// MemoryType routes an allocation request to the region/allocator best
// suited for it, per §4.2 step 3.
type MemoryType uint8

const (
	TypeGeneral MemoryType = iota
	TypeVideo
	TypeAudio
	TypeTemporary
	TypePoolHint
)

// Flags are the allocation flags from §4.2.
type Flags uint16

const (
	FlagCacheable Flags = 1 << iota
	FlagExecutable
	FlagPersistent
	FlagDMACapable
	FlagShared
	FlagTemporary
	FlagCritical
	FlagZero
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Allocation is the MemoryAllocation value from §3. Ptr is represented as
// a byte slice view over the allocator's backing storage rather than an
// unsafe.Pointer: Go code that receives an Allocation can read/write
// through Ptr without ever holding a raw pointer that outlives the
// allocator, satisfying the "allocator-owned buffers are never returned as
// raw pointers" redesign rule in spec §9.
type Allocation struct {
	handle      hal.Handle
	Ptr         []byte
	Size        uint64
	Alignment   uint32
	Flags       Flags
	Type        MemoryType
	AllocatorID AllocatorID
}

// Handle returns the opaque handle identifying this allocation for Free.
func (a Allocation) Handle() hal.Handle { return a.handle }

// AllocatorID names one configured allocator instance within a Façade.
type AllocatorID string

// Allocator is the contract every allocator strategy in §4.2 implements.
// Alignment handling, zero-initialization, and statistics bookkeeping are
// done by Façade around Allocator so each strategy only implements its
// core placement algorithm.
type Allocator interface {
	Type() hal.AllocatorType
	// Allocate returns a byte slice of exactly size bytes aligned to
	// align, or an error. align is guaranteed by the caller (Façade) to
	// be one of the supported discrete alignments.
	Allocate(size uint64, align uint32) ([]byte, error)
	// Free releases a previously allocated slice. Stack rejects an
	// out-of-order free with an error FreeIsOrderViolation recognizes;
	// Linear accepts the call as a no-op and reclaims only on Reset.
	Free(buf []byte) error
	// Stats reports this allocator's live counters.
	Stats() AllocatorStats
	// SupportsDefrag reports whether Defragment is implemented.
	SupportsDefrag() bool
	// Defragment reshapes free lists without invalidating live pointers.
	// A no-op on allocators whose SupportsDefrag is false.
	Defragment()
}

// AllocatorStats is the live counter set from §4.2. Values are eventually
// consistent per §4.2: readers may observe a snapshot that trails writers
// by at most one operation, since Façade reads them without taking the
// per-allocator lock.
type AllocatorStats struct {
	Total            uint64
	Used             uint64
	Free             uint64
	Peak             uint64
	AllocationCount  uint64
	FragmentationPct float64
	LargestFreeBlock uint64
	Efficiency       float64
}

// Region is the MemoryRegion value from §3.
type Region struct {
	Base         uint64
	Size         uint64
	Type         MemoryType
	Capabilities hal.Mask
	Managed      bool
}

// routingEntry binds a MemoryType to the allocator that should service it
// by default, per §4.2 step 3's routing table.
type routingEntry struct {
	allocatorID AllocatorID
	region      Region
}

// Facade is the memory façade from §4.2. It owns a set of named
// allocators, a routing table from MemoryType to allocator, a pressure
// monitor, and the handle table for outstanding allocations.
type Facade struct {
	logger  hclog.Logger
	metrics *metrics.Metrics

	mu            sync.Mutex
	allocators    map[AllocatorID]Allocator
	routing       map[MemoryType]routingEntry
	regions       []Region
	table         *hal.Table[Allocation]
	allowFallback bool

	pressure *PressureMonitor
}

const kindAllocation hal.Kind = 100

// NewFacade constructs an empty Facade. Allocators and routing entries are
// registered with RegisterAllocator/RouteType before the facade is used;
// this mirrors the teacher's two-phase construct-then-wire pattern for
// client/lib/cgutil managers, which probe the host in NewCpusetManager
// then have partitions assigned by the caller.
func NewFacade(logger hclog.Logger, m *metrics.Metrics, total uint64) *Facade {
	f := &Facade{
		logger:        logger.Named("memory"),
		metrics:       m,
		allocators:    make(map[AllocatorID]Allocator),
		routing:       make(map[MemoryType]routingEntry),
		table:         hal.NewTable[Allocation](kindAllocation),
		allowFallback: true,
	}
	f.pressure = newPressureMonitor(total)
	return f
}

// RegisterAllocator adds a named allocator instance to the facade.
func (f *Facade) RegisterAllocator(id AllocatorID, a Allocator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocators[id] = a
}

// RouteType binds mt to the allocator that should service it by default,
// along with the region metadata reported for introspection.
func (f *Facade) RouteType(mt MemoryType, allocatorID AllocatorID, region Region) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routing[mt] = routingEntry{allocatorID: allocatorID, region: region}
	f.regions = append(f.regions, region)
}

// Regions returns the immutable partition of the address space discovered
// at construction time (§3 MemoryRegion: "Regions are discovered once").
func (f *Facade) Regions() []Region {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Region, len(f.regions))
	copy(out, f.regions)
	return out
}

// SetAllowFallback toggles step 4 of the allocation algorithm (§4.2):
// whether a failed allocation may retry against the System allocator and
// the next-best region.
func (f *Facade) SetAllowFallback(allow bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowFallback = allow
}

var supportedAlignments = [...]uint32{1, 4, 16, 32, 256, 4096}

func isSupportedAlignment(align uint32) bool {
	for _, a := range supportedAlignments {
		if a == align {
			return true
		}
	}
	return false
}

func normalizeSize(size uint64, align uint32) uint64 {
	a := uint64(align)
	if a == 0 {
		return size
	}
	return (size + a - 1) / a * a
}

// Allocate implements the §4.2 allocation algorithm end to end: alignment
// validation, preferred-allocator attempt, type-routing, fallback, and
// pressure-triggered retry.
func (f *Facade) Allocate(mt MemoryType, size uint64, align uint32, flags Flags, preferred AllocatorID) (Allocation, *hal.Error) {
	if size == 0 {
		return Allocation{}, hal.New(hal.ErrInvalidParameters, "size must be positive")
	}
	if !isSupportedAlignment(align) {
		return Allocation{}, hal.New(hal.ErrUnsupportedAlignment, fmt.Sprintf("alignment %d not in supported set", align))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	size = normalizeSize(size, align)

	if flags.Has(FlagExecutable) {
		if entry, ok := f.routing[mt]; !ok || !entry.region.Capabilities.Has(hal.CapMemoryExecutableRegions) {
			return Allocation{}, hal.New(hal.ErrFeatureNotSupported, "executable regions unavailable on this platform")
		}
	}

	buf, allocatorID, err := f.tryAllocateLocked(mt, size, align, preferred)
	if err != nil {
		// §4.2 step 5: evaluate pressure, invoke the monitor, retry once.
		// No MemoryPressure event is published; level and ratio are only
		// logged.
		level, ratio := f.pressure.evaluateLocked(f.totalUsedLocked())
		f.logger.Debug("allocation failed, invoking pressure monitor", "level", level, "ratio", ratio)
		f.pressure.fireLocked(level)
		buf, allocatorID, err = f.tryAllocateLocked(mt, size, align, preferred)
		if err != nil {
			f.incrCounter("allocate.out_of_memory", 1)
			return Allocation{}, hal.New(hal.ErrOutOfMemory, "no allocator could satisfy request after pressure retry")
		}
	}

	if flags.Has(FlagZero) {
		for i := range buf {
			buf[i] = 0
		}
	}

	alloc := Allocation{Ptr: buf, Size: size, Alignment: align, Flags: flags, Type: mt, AllocatorID: allocatorID}
	alloc.handle = f.table.Alloc(alloc)
	f.incrCounter("allocate.ok", 1)
	f.pressure.evaluateLocked(f.totalUsedLocked())
	return alloc, nil
}

// tryAllocateLocked implements steps 2-4: preferred allocator, then
// type-routing, then System fallback. Caller holds f.mu.
func (f *Facade) tryAllocateLocked(mt MemoryType, size uint64, align uint32, preferred AllocatorID) ([]byte, AllocatorID, error) {
	if preferred != "" {
		if a, ok := f.allocators[preferred]; ok {
			if buf, err := a.Allocate(size, align); err == nil {
				return buf, preferred, nil
			}
		}
	}

	if entry, ok := f.routing[mt]; ok {
		if a, ok := f.allocators[entry.allocatorID]; ok {
			if buf, err := a.Allocate(size, align); err == nil {
				return buf, entry.allocatorID, nil
			}
		}
	}

	if f.allowFallback {
		if a, ok := f.allocators[AllocatorID("system")]; ok {
			if buf, err := a.Allocate(size, align); err == nil {
				return buf, AllocatorID("system"), nil
			}
		}
	}

	return nil, "", hal.New(hal.ErrOutOfMemory, "exhausted preferred, routed, and fallback allocators")
}

// Free releases the allocation referred to by h.
func (f *Facade) Free(h hal.Handle) *hal.Error {
	f.mu.Lock()
	defer f.mu.Unlock()

	alloc, derefErr := f.table.Deref(h)
	if derefErr != nil {
		return derefErr
	}
	a, ok := f.allocators[alloc.AllocatorID]
	if !ok {
		return hal.New(hal.ErrInternalError, "allocator for handle no longer registered")
	}
	if err := a.Free(alloc.Ptr); err != nil {
		return hal.Wrap(hal.ErrInvalidState, "allocator rejected free", err)
	}
	if freeErr := f.table.Free(h); freeErr != nil {
		return freeErr
	}
	f.incrCounter("free.ok", 1)
	f.pressure.evaluateLocked(f.totalUsedLocked())
	return nil
}

// Deref resolves h without freeing it, for callers that need to re-read
// allocation metadata (size, flags) given only the handle.
func (f *Facade) Deref(h hal.Handle) (Allocation, *hal.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.table.Deref(h)
}

func (f *Facade) totalUsedLocked() uint64 {
	var used uint64
	for _, a := range f.allocators {
		used += a.Stats().Used
	}
	return used
}

// Stats aggregates every registered allocator's statistics.
func (f *Facade) Stats() map[AllocatorID]AllocatorStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[AllocatorID]AllocatorStats, len(f.allocators))
	for id, a := range f.allocators {
		out[id] = a.Stats()
	}
	return out
}

// Defragment runs Defragment on every allocator whose SupportsDefrag is
// true, per §4.2.
func (f *Facade) Defragment() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.allocators {
		if a.SupportsDefrag() {
			a.Defragment()
		}
	}
}

// PressureMonitor returns the facade's pressure monitor for callback
// registration.
func (f *Facade) PressureMonitor() *PressureMonitor {
	return f.pressure
}

func (f *Facade) incrCounter(op string, n int64) {
	if f.metrics == nil {
		return
	}
	f.metrics.IncrCounter([]string{"hal", "memory", op}, float32(n))
}
