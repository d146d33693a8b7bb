// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package base

import (
	"github.com/flight-hal/core/client/registry"
	"github.com/flight-hal/core/hal"
)

// adapter satisfies registry.Driver by closing over the platform and
// CoreServices a base.Driver needs at Initialize time, so
// client/registry (which only ever calls the zero-argument
// Initialize/Shutdown/Capabilities/Version it was built against) never
// has to import plugins/base and create the import cycle Initialize's
// *CoreServices parameter would otherwise force (CoreServices itself
// references client/registry's sibling façades, not the registry).
//
// Driver is embedded rather than held in a named field so a concrete
// driver's own operation set (plugins/drivers.AudioDriver.CreateEffect
// and friends) promotes straight through the adapter: a caller that
// type-asserts registry.DriverRef.Driver against an interface.drivers
// contract still reaches the real implementation, not a dead end at the
// bridging shim.
type adapter struct {
	Driver
	platform *hal.PlatformInfo
	services *CoreServices
}

func (a *adapter) Initialize() *hal.Error { return a.Driver.Initialize(a.platform, a.services) }
func (a *adapter) Version() string {
	if v := a.Driver.Version(); v != nil {
		return v.String()
	}
	return ""
}

// Bridge converts a DriverFactory into the registry.DriverFactory that
// client/registry.Register accepts, binding platform and services so
// every candidate's Initialize call receives them without the registry
// itself needing to know about CoreServices.
func Bridge(f DriverFactory, platform *hal.PlatformInfo, services *CoreServices) registry.DriverFactory {
	return registry.DriverFactory{
		InterfaceName:        registry.InterfaceName(f.InterfaceName),
		DriverName:           f.DriverName,
		Priority:             f.Priority,
		RequiredCapabilities: f.RequiredCapabilities,
		Fallback:             f.Fallback,
		Create: func() (registry.Driver, *hal.Error) {
			drv, err := f.Create()
			if err != nil {
				return nil, err
			}
			return &adapter{Driver: drv, platform: platform, services: services}, nil
		},
	}
}
