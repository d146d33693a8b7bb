// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package base defines the L3 contract every concrete driver
// implementation satisfies, per §6: a Driver receives a *CoreServices
// bundle at initialize time instead of reaching for a package-level
// singleton, the same dependency-injection shape the teacher's
// plugins/drivers/*/driver.go constructors use to take a *base.Config
// and a logger rather than a global. Individual device drivers (their
// command translation, mixing, parsing algorithms) are external
// collaborators; this package only fixes the shape they must present.
package base

import (
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"
	version "github.com/hashicorp/go-version"

	"github.com/flight-hal/core/client/event"
	"github.com/flight-hal/core/client/memory"
	"github.com/flight-hal/core/client/resource"
	"github.com/flight-hal/core/client/thread"
	"github.com/flight-hal/core/client/timing"
	"github.com/flight-hal/core/hal"
)

// CoreServices is the reference bundle passed to Driver.Initialize, per
// §6: "references to Memory, Time, Thread, EventBus, ResourceCoordinator."
// A driver that only needs a subset simply ignores the rest; this breaks
// the cyclic driver<->event-system graph the teacher's design notes flag,
// since drivers obtain their EventBus handle from here rather than a
// global HALEventSystem::instance().
type CoreServices struct {
	Memory    *memory.Facade
	Time      *timing.Registry
	Thread    *thread.Facade
	EventBus  *event.Bus
	Resources *resource.Coordinator

	Metrics *metrics.Metrics
	Logger  hclog.Logger
}

// Extension is the driver-local escape hatch §9's design notes describe
// for platform extensions that mix storage/display/audio semantics (AICA
// DSP, VMU memory on the Dreamcast) without the core taking a position on
// their shape: GetExtension(id) returns the driver's own type, or false
// if it does not expose one under that id.
type Extension interface {
	GetExtension(id string) (any, bool)
}

// Driver is the L3 contract from §6: initialize/shutdown plus capability
// and version introspection. Concrete interface contracts
// (plugins/drivers) embed this and add their own operation set.
type Driver interface {
	Initialize(platform *hal.PlatformInfo, services *CoreServices) *hal.Error
	Shutdown() *hal.Error
	Capabilities() hal.Mask
	Version() *version.Version
}

// DriverFactory is the construction-time record §6 specifies:
// {interface_name, driver_name, priority, required_capabilities,
// create()}. It mirrors client/registry.DriverFactory's shape but
// produces a base.Driver (the real, PlatformInfo/CoreServices-aware
// contract) rather than the registry's internal no-arg bookkeeping
// interface - Bridge adapts between the two.
type DriverFactory struct {
	InterfaceName        string
	DriverName           string
	Priority             int
	RequiredCapabilities hal.Mask
	Fallback             bool
	Create               func() (Driver, *hal.Error)
}
