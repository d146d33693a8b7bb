// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package base_test

import (
	"testing"

	version "github.com/hashicorp/go-version"
	"github.com/shoenig/test/must"

	"github.com/flight-hal/core/client/event"
	"github.com/flight-hal/core/client/registry"
	"github.com/flight-hal/core/hal"
	"github.com/flight-hal/core/internal/ci"
	"github.com/flight-hal/core/plugins/base"
	"github.com/flight-hal/core/plugins/drivers"
)

const capHardwareDSP hal.Capability = 70

// hwDSPDriver and swMixerDriver reproduce Scenario A as real
// plugins/drivers.AudioDriver implementations bridged into
// client/registry, rather than the registry package's own bare stub -
// this is the end-to-end path a real driver author exercises.
type hwDSPDriver struct{}

func (d *hwDSPDriver) Initialize(*hal.PlatformInfo, *base.CoreServices) *hal.Error { return nil }
func (d *hwDSPDriver) Shutdown() *hal.Error                                       { return nil }
func (d *hwDSPDriver) Capabilities() hal.Mask                                      { return hal.Mask{}.Set(capHardwareDSP) }
func (d *hwDSPDriver) Version() *version.Version                                  { v, _ := version.NewVersion("1.0.0"); return v }
func (d *hwDSPDriver) CreateEffect(drivers.AudioEffect) (hal.Handle, *hal.Error) {
	return hal.Handle{ID: 1, Generation: 1}, nil
}

type swMixerDriver struct{}

func (d *swMixerDriver) Initialize(*hal.PlatformInfo, *base.CoreServices) *hal.Error { return nil }
func (d *swMixerDriver) Shutdown() *hal.Error                                        { return nil }
func (d *swMixerDriver) Capabilities() hal.Mask                                      { return hal.Mask{} }
func (d *swMixerDriver) Version() *version.Version                                   { v, _ := version.NewVersion("1.0.0"); return v }
func (d *swMixerDriver) CreateEffect(effect drivers.AudioEffect) (hal.Handle, *hal.Error) {
	if effect != drivers.EffectReverb {
		return hal.Handle{}, hal.New(hal.ErrFeatureNotSupported, "effect requires HardwareDSP").
			WithContext("sw_mixer", "create_effect")
	}
	return hal.Handle{ID: 1, Generation: 1}, nil
}

func TestBridge_ScenarioA_EndToEnd(t *testing.T) {
	ci.Parallel(t)

	platform := &hal.PlatformInfo{Name: "test-minimal", Tier: hal.TierMinimal}
	bus := event.NewBus()
	reg, herr := registry.New(platform, bus)
	must.Nil(t, herr)

	services := &base.CoreServices{EventBus: bus}

	_, herr = reg.Register(base.Bridge(base.DriverFactory{
		InterfaceName:        "audio",
		DriverName:           "hw_dsp_driver",
		Priority:             10,
		RequiredCapabilities: hal.Mask{}.Set(capHardwareDSP),
		Create:               func() (base.Driver, *hal.Error) { return &hwDSPDriver{}, nil },
	}, platform, services))
	must.Nil(t, herr)

	_, herr = reg.Register(base.Bridge(base.DriverFactory{
		InterfaceName: "audio",
		DriverName:    "sw_mixer",
		Priority:      1,
		Fallback:      true,
		Create:        func() (base.Driver, *hal.Error) { return &swMixerDriver{}, nil },
	}, platform, services))
	must.Nil(t, herr)

	ref, herr := reg.Activate(registry.InterfaceAudio)
	must.Nil(t, herr)
	must.Eq(t, "sw_mixer", ref.DriverName)

	audio := ref.Driver.(interface {
		CreateEffect(drivers.AudioEffect) (hal.Handle, *hal.Error)
	})
	_, herr = audio.CreateEffect(drivers.EffectReverb)
	must.Nil(t, herr)

	_, herr = audio.CreateEffect(drivers.EffectChorus)
	must.NotNil(t, herr)
	must.Eq(t, hal.ErrFeatureNotSupported, herr.Kind)
	must.Eq(t, "sw_mixer", herr.Driver)
}
