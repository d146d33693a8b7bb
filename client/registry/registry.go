// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package registry implements the L2 Driver Registry and Capability
// Provider from §4.1: a per-interface-name mapping to at most one Active
// driver, with priority-ordered capability-gated activation and fallback.
// The driver table is a github.com/hashicorp/go-memdb in-memory database,
// the same indexed/transactional table the teacher's nomad/state package
// builds server state on, chosen here over a plain map so Catalog() reads
// never block a concurrent activate/shutdown (memdb's MVCC snapshot gives
// every reader its own consistent view without a table-wide lock).
package registry

import (
	"sort"

	"github.com/hashicorp/go-memdb"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"

	"github.com/flight-hal/core/client/event"
	"github.com/flight-hal/core/hal"
)

// InterfaceName is one of the closed set of driver interfaces §4.1 names.
type InterfaceName string

const (
	InterfaceMemory      InterfaceName = "memory"
	InterfaceTime        InterfaceName = "time"
	InterfaceThread      InterfaceName = "thread"
	InterfaceGraphics    InterfaceName = "graphics"
	InterfaceAudio       InterfaceName = "audio"
	InterfaceInput       InterfaceName = "input"
	InterfaceFile        InterfaceName = "file"
	InterfaceNetwork     InterfaceName = "network"
	InterfacePerformance InterfaceName = "performance"
	InterfaceEvent       InterfaceName = "event"
	InterfaceResource    InterfaceName = "resource"
)

// layerIndex is the reverse-dependency shutdown ordering §4.1 and the
// SPEC_FULL.md supplement fix: ShutdownAll tears down the highest layer
// first. memory/time sit below thread, which sits below every driver
// interface that can itself depend on worker threads or timers.
var layerIndex = map[InterfaceName]int{
	InterfaceMemory:      0,
	InterfaceTime:        0,
	InterfaceThread:      1,
	InterfaceResource:    2,
	InterfaceEvent:       3,
	InterfaceGraphics:    4,
	InterfaceAudio:       4,
	InterfaceInput:       4,
	InterfaceFile:        4,
	InterfaceNetwork:     4,
	InterfacePerformance: 4,
}

// DriverState is the lifecycle §3 assigns a DriverRecord:
// Registered -> Active (on initialize) -> Failed | Shutdown.
type DriverState uint8

const (
	StateRegistered DriverState = iota
	StateActive
	StateFailed
	StateShutdown
)

func (s DriverState) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StateFailed:
		return "Failed"
	case StateShutdown:
		return "Shutdown"
	default:
		return "Registered"
	}
}

// Driver is the contract every plugins/drivers implementation satisfies.
// initialize/shutdown take no context: drivers in this kernel run
// in-process (unlike the teacher's out-of-process task drivers), so there
// is no RPC deadline to thread through.
type Driver interface {
	Initialize() *hal.Error
	Shutdown() *hal.Error
	Capabilities() hal.Mask
	Version() string
}

// DriverFactory is what register() accepts: everything needed to decide
// whether a driver is a activation candidate, plus the constructor that
// runs only once it has won selection.
type DriverFactory struct {
	InterfaceName        InterfaceName
	DriverName           string
	Priority             int
	RequiredCapabilities hal.Mask
	Fallback             bool // true if this factory's driver satisfies capabilities purely in software
	Create               func() (Driver, *hal.Error)
}

// DriverRecord is the row stored in the registry's memdb table, per §3's
// {interface_name, driver_name, priority, capability_mask, factory, state,
// version} shape.
type DriverRecord struct {
	ID            string
	InterfaceName InterfaceName
	DriverName    string
	Priority      int
	Capabilities  hal.Mask
	Fallback      bool
	Factory       DriverFactory
	State         DriverState
	Version       string
	Driver        Driver // non-nil only once Active
}

// DriverRef is the read-only view Get/Activate return to callers, per
// §4.1's Result<DriverRef>.
type DriverRef struct {
	ID            string
	InterfaceName InterfaceName
	DriverName    string
	Capabilities  hal.Mask
	Fallback      bool
	Driver        Driver
}

const tableDrivers = "drivers"

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableDrivers: {
				Name: tableDrivers,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"interface_driver": {
						Name:   "interface_driver",
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "InterfaceName"},
								&memdb.StringFieldIndex{Field: "DriverName"},
							},
						},
					},
					"interface": {
						Name:    "interface",
						Indexer: &memdb.StringFieldIndex{Field: "InterfaceName"},
					},
				},
			},
		},
	}
}

// Registry is the L2 Driver Registry and Capability Provider. It satisfies
// hal.CapabilityProvider: Supports/CapabilityMask report the union of
// capabilities advertised by every currently Active driver, not the raw
// platform mask (a platform can have DSP hardware that no registered
// driver has claimed yet).
type Registry struct {
	db       *memdb.MemDB
	platform hal.CapabilityProvider
	bus      *event.Bus
}

// New constructs an empty Registry. platform supplies the capability mask
// activate() gates candidates against; bus receives DriverInitialized /
// DriverError / DriverShutdown / NoSuitableDriver events.
func New(platform hal.CapabilityProvider, bus *event.Bus) (*Registry, *hal.Error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, hal.Wrap(hal.ErrInternalError, "registry: building memdb schema", err)
	}
	return &Registry{db: db, platform: platform, bus: bus}, nil
}

// Register inserts a DriverRecord in the Registered state. It fails with
// Duplicate if {interface_name, driver_name} already exists, per §4.1.
func (r *Registry) Register(f DriverFactory) (string, *hal.Error) {
	txn := r.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableDrivers, "interface_driver", string(f.InterfaceName), f.DriverName)
	if err != nil {
		return "", hal.Wrap(hal.ErrInternalError, "registry: lookup during register", err)
	}
	if existing != nil {
		return "", hal.New(hal.ErrDuplicate, "driver already registered for interface").
			WithContext(f.DriverName, "register")
	}

	id, uerr := uuid.GenerateUUID()
	if uerr != nil {
		return "", hal.Wrap(hal.ErrInternalError, "registry: generating driver id", uerr)
	}

	rec := &DriverRecord{
		ID:            id,
		InterfaceName: f.InterfaceName,
		DriverName:    f.DriverName,
		Priority:      f.Priority,
		Capabilities:  f.RequiredCapabilities,
		Fallback:      f.Fallback,
		Factory:       f,
		State:         StateRegistered,
	}
	if err := txn.Insert(tableDrivers, rec); err != nil {
		return "", hal.Wrap(hal.ErrInternalError, "registry: inserting driver record", err)
	}
	txn.Commit()
	return id, nil
}

// Activate selects, among Registered candidates for name whose required
// capabilities are a subset of the platform's, the highest-priority one
// (ties broken by lexicographic driver name), initializes it, and
// transitions it to Active. A candidate whose initialize() fails
// transitions to Failed and the next candidate is tried. Returns
// NoSuitableDriver if every candidate is exhausted.
func (r *Registry) Activate(name InterfaceName) (DriverRef, *hal.Error) {
	candidates, herr := r.registeredCandidates(name)
	if herr != nil {
		return DriverRef{}, herr
	}

	for _, rec := range candidates {
		if !rec.Capabilities.Subset(r.platform.CapabilityMask()) {
			continue
		}
		drv, ierr := rec.Factory.Create()
		if ierr == nil {
			ierr = drv.Initialize()
		}
		if ierr != nil {
			r.markFailed(rec.ID)
			r.publish(event.CategoryDriver, event.SeverityError, "driver-registry", "DriverError",
				map[string]any{"interface": string(name), "driver": rec.DriverName, "error": ierr.Error()})
			continue
		}

		ref := r.markActive(rec.ID, drv)
		r.publish(event.CategoryDriver, event.SeverityInfo, "driver-registry", "DriverInitialized",
			map[string]any{"interface": string(name), "driver": rec.DriverName})
		return ref, nil
	}

	r.publish(event.CategoryDriver, event.SeverityWarning, "driver-registry", "NoSuitableDriver",
		map[string]any{"interface": string(name)})
	return DriverRef{}, hal.New(hal.ErrNoSuitableDriver, "no registered driver satisfies platform capabilities").
		WithContext("", "activate")
}

// registeredCandidates returns every Registered record for name, sorted by
// descending priority, then ascending driver name (the exact tie-break
// order §4.1 specifies).
func (r *Registry) registeredCandidates(name InterfaceName) ([]*DriverRecord, *hal.Error) {
	txn := r.db.Txn(false)
	it, err := txn.Get(tableDrivers, "interface", string(name))
	if err != nil {
		return nil, hal.Wrap(hal.ErrInternalError, "registry: listing candidates", err)
	}
	var out []*DriverRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*DriverRecord)
		if rec.State == StateRegistered {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].DriverName < out[j].DriverName
	})
	return out, nil
}

func (r *Registry) markActive(id string, drv Driver) DriverRef {
	txn := r.db.Txn(true)
	defer txn.Commit()
	raw, _ := txn.First(tableDrivers, "id", id)
	rec := *raw.(*DriverRecord)
	rec.State = StateActive
	rec.Driver = drv
	rec.Version = drv.Version()
	_ = txn.Insert(tableDrivers, &rec)
	return DriverRef{ID: rec.ID, InterfaceName: rec.InterfaceName, DriverName: rec.DriverName,
		Capabilities: rec.Capabilities, Fallback: rec.Fallback, Driver: rec.Driver}
}

func (r *Registry) markFailed(id string) {
	txn := r.db.Txn(true)
	defer txn.Commit()
	raw, _ := txn.First(tableDrivers, "id", id)
	rec := *raw.(*DriverRecord)
	rec.State = StateFailed
	_ = txn.Insert(tableDrivers, &rec)
}

// Get performs an O(1) lookup of the Active driver bound to name.
func (r *Registry) Get(name InterfaceName) (DriverRef, *hal.Error) {
	txn := r.db.Txn(false)
	it, err := txn.Get(tableDrivers, "interface", string(name))
	if err != nil {
		return DriverRef{}, hal.Wrap(hal.ErrInternalError, "registry: get lookup", err)
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*DriverRecord)
		if rec.State == StateActive {
			return DriverRef{ID: rec.ID, InterfaceName: rec.InterfaceName, DriverName: rec.DriverName,
				Capabilities: rec.Capabilities, Fallback: rec.Fallback, Driver: rec.Driver}, nil
		}
	}
	return DriverRef{}, hal.New(hal.ErrNotFound, "no active driver for interface").WithContext("", "get")
}

// Shutdown tears down the Active driver bound to name, if any. It is
// idempotent: calling it on an interface with no Active driver is a no-op.
func (r *Registry) Shutdown(name InterfaceName) *hal.Error {
	ref, herr := r.Get(name)
	if herr != nil {
		return nil // nothing Active: idempotent no-op
	}
	if err := ref.Driver.Shutdown(); err != nil {
		return err
	}
	txn := r.db.Txn(true)
	raw, _ := txn.First(tableDrivers, "id", ref.ID)
	rec := *raw.(*DriverRecord)
	rec.State = StateShutdown
	rec.Driver = nil
	_ = txn.Insert(tableDrivers, &rec)
	txn.Commit()
	r.publish(event.CategoryDriver, event.SeverityInfo, "driver-registry", "DriverShutdown",
		map[string]any{"interface": string(name), "driver": ref.DriverName})
	return nil
}

// ShutdownAll tears down every Active driver in reverse-dependency order:
// highest layer (network, file, graphics, audio, input, performance,
// event, resource) down to lowest (thread, then memory/time), per §4.1.
// A failing shutdown does not stop the rest: every failure is collected
// into one aggregate error carrying the first failure's kind.
func (r *Registry) ShutdownAll() *hal.Error {
	txn := r.db.Txn(false)
	it, err := txn.Get(tableDrivers, "id")
	if err != nil {
		return hal.Wrap(hal.ErrInternalError, "registry: listing for shutdown_all", err)
	}
	var active []InterfaceName
	seen := map[InterfaceName]bool{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*DriverRecord)
		if rec.State == StateActive && !seen[rec.InterfaceName] {
			active = append(active, rec.InterfaceName)
			seen[rec.InterfaceName] = true
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return layerIndex[active[i]] > layerIndex[active[j]]
	})
	var result *multierror.Error
	var firstKind hal.ErrorKind
	for _, name := range active {
		if err := r.Shutdown(name); err != nil {
			if result == nil {
				firstKind = err.Kind
			}
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		return hal.Wrap(firstKind, "registry: shutdown_all", result.ErrorOrNil())
	}
	return nil
}

// Supports delegates to the union of capabilities advertised by every
// currently Active driver, per §4.1's "supports(cap) -> bool" operation.
func (r *Registry) Supports(cap hal.Capability) bool {
	return r.activeCapabilityMask().Has(cap)
}

// CapabilityMask returns the union of Active drivers' capability masks.
func (r *Registry) CapabilityMask() hal.Mask {
	return r.activeCapabilityMask()
}

func (r *Registry) activeCapabilityMask() hal.Mask {
	txn := r.db.Txn(false)
	it, err := txn.Get(tableDrivers, "id")
	if err != nil {
		return hal.Mask{}
	}
	var mask hal.Mask
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*DriverRecord)
		if rec.State == StateActive && rec.Driver != nil {
			mask = mask.Union(rec.Driver.Capabilities())
		}
	}
	return mask
}

// PlatformTier delegates to the underlying platform descriptor.
func (r *Registry) PlatformTier() hal.Tier { return r.platform.PlatformTier() }

// HasFallback reports whether the Active driver advertising cap registered
// it with Fallback=true - §4.1's "software emulation path exists" test.
func (r *Registry) HasFallback(cap hal.Capability) bool {
	txn := r.db.Txn(false)
	it, err := txn.Get(tableDrivers, "id")
	if err != nil {
		return false
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*DriverRecord)
		if rec.State == StateActive && rec.Driver != nil && rec.Driver.Capabilities().Has(cap) && rec.Fallback {
			return true
		}
	}
	return false
}

// Catalog returns a snapshot map of interface name to every DriverRecord
// registered for it (any state), for introspection/CLI tooling - the
// SPEC_FULL.md supplement mirroring the teacher's plugin Catalog().
func (r *Registry) Catalog() map[InterfaceName][]DriverRecord {
	txn := r.db.Txn(false)
	it, err := txn.Get(tableDrivers, "id")
	if err != nil {
		return nil
	}
	out := map[InterfaceName][]DriverRecord{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*DriverRecord)
		out[rec.InterfaceName] = append(out[rec.InterfaceName], *rec)
	}
	return out
}

func (r *Registry) publish(cat event.Category, sev event.Severity, source, kind string, attrs map[string]any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(event.Event{Category: cat, Severity: sev, Source: source, Kind: kind, Attributes: attrs})
}
