// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package registry

import (
	"testing"

	"github.com/shoenig/test/must"

	"github.com/flight-hal/core/client/event"
	"github.com/flight-hal/core/hal"
	"github.com/flight-hal/core/internal/ci"
)

// capHardwareDSP stands in for the audio interface's own capability
// sub-namespace (graphics/audio/input/... reserve bits past the core set
// this exercise's plugins/drivers does not define), per Scenario A.
const capHardwareDSP hal.Capability = 70

type stubDriver struct {
	caps    hal.Mask
	version string
	initErr *hal.Error
}

func (d *stubDriver) Initialize() *hal.Error  { return d.initErr }
func (d *stubDriver) Shutdown() *hal.Error    { return nil }
func (d *stubDriver) Capabilities() hal.Mask  { return d.caps }
func (d *stubDriver) Version() string         { return d.version }

func newMinimalPlatform() *hal.PlatformInfo {
	return &hal.PlatformInfo{
		Name: "test-minimal",
		Tier: hal.TierMinimal,
		// No HardwareDSP bit set: only basic PCM capability is implied by
		// absence, matching Scenario A's "capabilities = {basic PCM, no
		// hardware DSP}".
	}
}

// TestRegistry_ScenarioA reproduces the spec's capability-gated fallback
// scenario: hw_dsp_driver requires HardwareDSP (unsupported on this
// platform), sw_mixer requires nothing. activate("audio") must select
// sw_mixer.
func TestRegistry_ScenarioA(t *testing.T) {
	ci.Parallel(t)

	bus := event.NewBus()
	reg, herr := New(newMinimalPlatform(), bus)
	must.Nil(t, herr)

	_, herr = reg.Register(DriverFactory{
		InterfaceName:        InterfaceAudio,
		DriverName:           "hw_dsp_driver",
		Priority:             10,
		RequiredCapabilities: hal.Mask{}.Set(capHardwareDSP),
		Create: func() (Driver, *hal.Error) {
			return &stubDriver{version: "1.0.0"}, nil
		},
	})
	must.Nil(t, herr)

	_, herr = reg.Register(DriverFactory{
		InterfaceName: InterfaceAudio,
		DriverName:    "sw_mixer",
		Priority:      1,
		Fallback:      true,
		Create: func() (Driver, *hal.Error) {
			return &stubDriver{version: "1.0.0"}, nil
		},
	})
	must.Nil(t, herr)

	ref, herr := reg.Activate(InterfaceAudio)
	must.Nil(t, herr)
	must.Eq(t, "sw_mixer", ref.DriverName)

	// sw_mixer won activation but advertises no capabilities, so neither
	// Supports nor HasFallback reports HardwareDSP: an operation that
	// needs it has no hardware path and no registered fallback.
	must.False(t, reg.Supports(capHardwareDSP))
	must.False(t, reg.HasFallback(capHardwareDSP))
}

func TestRegistry_RegisterRejectsDuplicateInterfaceDriverPair(t *testing.T) {
	ci.Parallel(t)

	reg, herr := New(newMinimalPlatform(), nil)
	must.Nil(t, herr)

	f := DriverFactory{InterfaceName: InterfaceMemory, DriverName: "linear", Priority: 1,
		Create: func() (Driver, *hal.Error) { return &stubDriver{version: "1.0.0"}, nil }}
	_, herr = reg.Register(f)
	must.Nil(t, herr)

	_, herr = reg.Register(f)
	must.NotNil(t, herr)
	must.Eq(t, hal.ErrDuplicate, herr.Kind)
}

func TestRegistry_ActivatePicksHighestPriorityThenLexicographicName(t *testing.T) {
	ci.Parallel(t)

	reg, herr := New(newMinimalPlatform(), nil)
	must.Nil(t, herr)

	mk := func(name string, priority int) DriverFactory {
		return DriverFactory{InterfaceName: InterfaceMemory, DriverName: name, Priority: priority,
			Create: func() (Driver, *hal.Error) { return &stubDriver{version: "1.0.0"}, nil }}
	}
	_, herr = reg.Register(mk("beta", 5))
	must.Nil(t, herr)
	_, herr = reg.Register(mk("alpha", 5))
	must.Nil(t, herr)
	_, herr = reg.Register(mk("low_priority", 1))
	must.Nil(t, herr)

	ref, herr := reg.Activate(InterfaceMemory)
	must.Nil(t, herr)
	must.Eq(t, "alpha", ref.DriverName)
}

func TestRegistry_ActivateFallsBackAfterInitFailure(t *testing.T) {
	ci.Parallel(t)

	reg, herr := New(newMinimalPlatform(), nil)
	must.Nil(t, herr)

	_, herr = reg.Register(DriverFactory{InterfaceName: InterfaceMemory, DriverName: "broken", Priority: 10,
		Create: func() (Driver, *hal.Error) {
			return &stubDriver{version: "1.0.0", initErr: hal.New(hal.ErrDeviceError, "boom")}, nil
		}})
	must.Nil(t, herr)
	_, herr = reg.Register(DriverFactory{InterfaceName: InterfaceMemory, DriverName: "fallback", Priority: 1,
		Create: func() (Driver, *hal.Error) { return &stubDriver{version: "1.0.0"}, nil }})
	must.Nil(t, herr)

	ref, herr := reg.Activate(InterfaceMemory)
	must.Nil(t, herr)
	must.Eq(t, "fallback", ref.DriverName)
}

func TestRegistry_ActivateReturnsNoSuitableDriverWhenAllFail(t *testing.T) {
	ci.Parallel(t)

	reg, herr := New(newMinimalPlatform(), nil)
	must.Nil(t, herr)

	_, herr = reg.Register(DriverFactory{InterfaceName: InterfaceMemory, DriverName: "only", Priority: 1,
		Create: func() (Driver, *hal.Error) {
			return &stubDriver{version: "1.0.0", initErr: hal.New(hal.ErrDeviceError, "boom")}, nil
		}})
	must.Nil(t, herr)

	_, herr = reg.Activate(InterfaceMemory)
	must.NotNil(t, herr)
	must.Eq(t, hal.ErrNoSuitableDriver, herr.Kind)
}

func TestRegistry_GetReturnsActiveDriver(t *testing.T) {
	ci.Parallel(t)

	reg, herr := New(newMinimalPlatform(), nil)
	must.Nil(t, herr)
	_, herr = reg.Register(DriverFactory{InterfaceName: InterfaceTime, DriverName: "clock", Priority: 1,
		Create: func() (Driver, *hal.Error) { return &stubDriver{version: "2.0.0"}, nil }})
	must.Nil(t, herr)

	_, herr = reg.Get(InterfaceTime)
	must.NotNil(t, herr)
	must.Eq(t, hal.ErrNotFound, herr.Kind)

	_, herr = reg.Activate(InterfaceTime)
	must.Nil(t, herr)

	ref, herr := reg.Get(InterfaceTime)
	must.Nil(t, herr)
	must.Eq(t, "clock", ref.DriverName)
}

func TestRegistry_ShutdownIsIdempotent(t *testing.T) {
	ci.Parallel(t)

	reg, herr := New(newMinimalPlatform(), nil)
	must.Nil(t, herr)
	_, herr = reg.Register(DriverFactory{InterfaceName: InterfaceThread, DriverName: "pool", Priority: 1,
		Create: func() (Driver, *hal.Error) { return &stubDriver{version: "1.0.0"}, nil }})
	must.Nil(t, herr)
	_, herr = reg.Activate(InterfaceThread)
	must.Nil(t, herr)

	must.Nil(t, reg.Shutdown(InterfaceThread))
	must.Nil(t, reg.Shutdown(InterfaceThread))

	_, herr = reg.Get(InterfaceThread)
	must.NotNil(t, herr)
}

func TestRegistry_ShutdownAllTearsDownInReverseDependencyOrder(t *testing.T) {
	ci.Parallel(t)

	reg, herr := New(newMinimalPlatform(), nil)
	must.Nil(t, herr)

	var order []InterfaceName
	mk := func(iface InterfaceName) DriverFactory {
		return DriverFactory{InterfaceName: iface, DriverName: "d", Priority: 1,
			Create: func() (Driver, *hal.Error) {
				return &recordingDriver{iface: iface, order: &order}, nil
			}}
	}
	for _, iface := range []InterfaceName{InterfaceMemory, InterfaceThread, InterfaceNetwork} {
		_, herr = reg.Register(mk(iface))
		must.Nil(t, herr)
		_, herr = reg.Activate(iface)
		must.Nil(t, herr)
	}

	must.Nil(t, reg.ShutdownAll())
	must.Eq(t, []InterfaceName{InterfaceNetwork, InterfaceThread, InterfaceMemory}, order)
}

type recordingDriver struct {
	iface InterfaceName
	order *[]InterfaceName
}

func (d *recordingDriver) Initialize() *hal.Error { return nil }
func (d *recordingDriver) Shutdown() *hal.Error {
	*d.order = append(*d.order, d.iface)
	return nil
}
func (d *recordingDriver) Capabilities() hal.Mask { return hal.Mask{} }
func (d *recordingDriver) Version() string        { return "1.0.0" }

func TestRegistry_CatalogListsEveryRegisteredRecord(t *testing.T) {
	ci.Parallel(t)

	reg, herr := New(newMinimalPlatform(), nil)
	must.Nil(t, herr)
	_, herr = reg.Register(DriverFactory{InterfaceName: InterfaceMemory, DriverName: "a", Priority: 1,
		Create: func() (Driver, *hal.Error) { return &stubDriver{version: "1.0.0"}, nil }})
	must.Nil(t, herr)
	_, herr = reg.Register(DriverFactory{InterfaceName: InterfaceMemory, DriverName: "b", Priority: 2,
		Create: func() (Driver, *hal.Error) { return &stubDriver{version: "1.0.0"}, nil }})
	must.Nil(t, herr)

	cat := reg.Catalog()
	must.Len(t, 2, cat[InterfaceMemory])
}
