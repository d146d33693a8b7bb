// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package resource implements the L2 Resource Coordinator from §4.3:
// rank-ordered lease arbitration over named shared hardware regions with
// deadlock avoidance enforced at acquire time. The rank table is data
// registered once and frozen, the way the teacher's advisory-lock
// helpers (go-sock-locker) keep a small explicit table rather than a
// generic mutex pool; contention is surfaced both as a client/event
// publication and as a github.com/hashicorp/go-metrics counter labeled by
// region name, per the teacher's client/allocrunner convention of
// emitting metrics on every resource acquisition path.
package resource

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-set/v3"

	"github.com/flight-hal/core/client/event"
	"github.com/flight-hal/core/hal"
)

// Mode is a lease's access mode, per §3's ResourceLease.
type Mode uint8

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "Exclusive"
	}
	return "Shared"
}

// HolderID identifies a lease's caller for lock-order tracking. Go has no
// goroutine-identity primitive (the same gap client/thread's
// RecursiveMutex works around), so callers pass an opaque token of their
// own choosing - consistent across every lease they hold concurrently.
type HolderID int64

// region is an immutable-after-Freeze entry in the rank table, plus the
// mutable lock state Freeze does not cover.
type region struct {
	name string
	rank int

	exclusiveHeld bool
	sharedCount   int
	wake          chan struct{} // closed and replaced on every state change
}

// Lease is the value handed back by Acquire, per §3's ResourceLease.
type Lease struct {
	Region     string
	Holder     HolderID
	Mode       Mode
	Rank       int
	AcquiredAt time.Time
}

type leaseRecord struct {
	lease Lease
}

// Coordinator is the Resource Coordinator façade.
type Coordinator struct {
	mu          sync.Mutex
	regions     map[string]*region
	regionNames *set.Set[string] // mirrors the regions map's keys, for cheap Regions() introspection
	frozen      bool
	leases      *hal.Table[leaseRecord]
	byHolder    map[HolderID]map[hal.Handle]int // held lease -> rank, per holder

	logger  hclog.Logger
	metrics *metrics.Metrics
	bus     *event.Bus
}

// KindResourceLease tags every Handle this package mints.
const KindResourceLease hal.Kind = 4

// New constructs an empty Coordinator. bus may be nil (no ResourceContention
// publication); logger may be nil (double-release warnings are dropped).
func New(logger hclog.Logger, m *metrics.Metrics, bus *event.Bus) *Coordinator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Coordinator{
		regions:     make(map[string]*region),
		regionNames: set.New[string](0),
		leases:      hal.NewTable[leaseRecord](KindResourceLease),
		byHolder:    make(map[HolderID]map[hal.Handle]int),
		logger:      logger,
		metrics:     m,
		bus:         bus,
	}
}

// RegisterRegion assigns rank to name. Fails with InvalidState once Freeze
// has been called - the rank table is data fixed at startup, per the
// SPEC_FULL.md supplement.
func (c *Coordinator) RegisterRegion(name string, rank int) *hal.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return hal.New(hal.ErrInvalidState, "cannot register a region after Freeze")
	}
	if _, ok := c.regions[name]; ok {
		return hal.New(hal.ErrDuplicate, "region already registered").WithContext("", name)
	}
	c.regions[name] = &region{name: name, rank: rank, wake: make(chan struct{})}
	c.regionNames.Insert(name)
	return nil
}

// Regions returns the names of every registered region, in no particular
// order. Useful for introspection tooling alongside client/registry.Catalog.
func (c *Coordinator) Regions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regionNames.Slice()
}

// Freeze makes the rank table immutable; RegisterRegion fails afterward.
func (c *Coordinator) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Acquire blocks at most timeout for region in mode on behalf of holder,
// also racing ctx.Done() per the SPEC_FULL §4.5 context-plumbing
// supplement: if ctx fires before the timeout, Acquire returns Cancelled
// rather than Timeout. It enforces §4.3's deadlock-avoidance rule at
// acquire time: holder may acquire this region only if its rank exceeds
// every rank holder currently holds.
func (c *Coordinator) Acquire(ctx context.Context, holder HolderID, regionName string, mode Mode, timeout time.Duration) (hal.Handle, *hal.Error) {
	c.mu.Lock()
	reg, ok := c.regions[regionName]
	if !ok {
		c.mu.Unlock()
		return hal.Handle{}, hal.New(hal.ErrNotFound, "unregistered region").WithContext("", regionName)
	}

	if maxRank, any := c.holderMaxRank(holder); any && reg.rank <= maxRank {
		c.mu.Unlock()
		c.countViolation(regionName)
		return hal.Handle{}, hal.New(hal.ErrLockOrderViolation, "acquire would violate strictly increasing rank order").
			WithContext("", regionName)
	}

	deadline := time.Now().Add(timeout)
	for {
		if c.tryAcquireLocked(reg, mode) {
			h := c.leases.Alloc(leaseRecord{lease: Lease{
				Region: regionName, Holder: holder, Mode: mode, Rank: reg.rank, AcquiredAt: time.Now(),
			}})
			if c.byHolder[holder] == nil {
				c.byHolder[holder] = make(map[hal.Handle]int)
			}
			c.byHolder[holder][h] = reg.rank
			c.mu.Unlock()
			return h, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.mu.Unlock()
			c.countTimeout(regionName)
			c.publishContention(regionName, holder)
			return hal.Handle{}, hal.New(hal.ErrTimeout, "acquire timed out").WithContext("", regionName)
		}

		wake := reg.wake
		c.mu.Unlock()
		select {
		case <-wake:
		case <-time.After(remaining):
		case <-ctx.Done():
			c.mu.Lock()
			c.countCancelled(regionName)
			c.mu.Unlock()
			return hal.Handle{}, hal.New(hal.ErrCancelled, "acquire cancelled via context").WithContext("", regionName)
		}
		c.mu.Lock()
	}
}

// holderMaxRank must be called with c.mu held.
func (c *Coordinator) holderMaxRank(holder HolderID) (int, bool) {
	held := c.byHolder[holder]
	if len(held) == 0 {
		return 0, false
	}
	max := 0
	for _, rank := range held {
		if rank > max {
			max = rank
		}
	}
	return max, true
}

// tryAcquireLocked must be called with c.mu held.
func (c *Coordinator) tryAcquireLocked(reg *region, mode Mode) bool {
	if reg.exclusiveHeld {
		return false
	}
	if mode == Exclusive && reg.sharedCount > 0 {
		return false
	}
	if mode == Exclusive {
		reg.exclusiveHeld = true
	} else {
		reg.sharedCount++
	}
	return true
}

func (c *Coordinator) notifyLocked(reg *region) {
	close(reg.wake)
	reg.wake = make(chan struct{})
}

// Release is idempotent: releasing an already-released or unknown lease
// is a no-op that logs a Warning trace, per §4.3.
func (c *Coordinator) Release(h hal.Handle) *hal.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, herr := c.leases.Deref(h)
	if herr != nil {
		// Already released (or never valid): Table.Free already bumped
		// the slot's generation, so a second Deref fails here rather
		// than finding a live record.
		c.logger.Warn("double release of resource lease", "handle", h.String())
		return nil
	}

	reg := c.regions[rec.lease.Region]
	if rec.lease.Mode == Exclusive {
		reg.exclusiveHeld = false
	} else {
		reg.sharedCount--
	}
	c.notifyLocked(reg)

	delete(c.byHolder[rec.lease.Holder], h)
	_ = c.leases.Free(h)
	return nil
}

// TryUpgrade converts a Shared lease to Exclusive, succeeding only if
// this holder's lease is the sole Shared lease on the region; otherwise
// returns Contended, per §4.3. On success h is invalidated and a new
// handle to the upgraded lease is returned; an Exclusive lease returns h.
func (c *Coordinator) TryUpgrade(h hal.Handle) (hal.Handle, *hal.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, herr := c.leases.Deref(h)
	if herr != nil {
		return hal.Handle{}, herr
	}
	if rec.lease.Mode == Exclusive {
		return h, nil
	}
	reg := c.regions[rec.lease.Region]
	if reg.sharedCount != 1 {
		return hal.Handle{}, hal.New(hal.ErrContended, "other shared holders present").WithContext("", rec.lease.Region)
	}

	reg.sharedCount = 0
	reg.exclusiveHeld = true
	rec.lease.Mode = Exclusive
	_ = c.leases.Free(h)
	newH := c.leases.Alloc(rec)
	delete(c.byHolder[rec.lease.Holder], h)
	c.byHolder[rec.lease.Holder][newH] = rec.lease.Rank
	return newH, nil
}

// Lease returns the current state of a held lease.
func (c *Coordinator) Lease(h hal.Handle) (Lease, *hal.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, herr := c.leases.Deref(h)
	if herr != nil {
		return Lease{}, herr
	}
	return rec.lease, nil
}

func (c *Coordinator) countViolation(regionName string) {
	if c.metrics == nil {
		return
	}
	c.metrics.IncrCounterWithLabels([]string{"hal", "resource", "lock_order_violation"}, 1,
		[]metrics.Label{{Name: "region", Value: regionName}})
}

func (c *Coordinator) countTimeout(regionName string) {
	if c.metrics == nil {
		return
	}
	c.metrics.IncrCounterWithLabels([]string{"hal", "resource", "timeout"}, 1,
		[]metrics.Label{{Name: "region", Value: regionName}})
}

func (c *Coordinator) countCancelled(regionName string) {
	if c.metrics == nil {
		return
	}
	c.metrics.IncrCounterWithLabels([]string{"hal", "resource", "cancelled"}, 1,
		[]metrics.Label{{Name: "region", Value: regionName}})
}

func (c *Coordinator) publishContention(regionName string, holder HolderID) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(event.Event{
		Category:   event.CategoryResource,
		Severity:   event.SeverityWarning,
		Source:     "resource-coordinator",
		Kind:       "ResourceContention",
		Attributes: map[string]any{"region": regionName, "holder": int64(holder)},
	})
}
