// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package drivers defines the abstract operation set each driver
// interface in the closed §4.1 set must satisfy beyond plugins/base's
// shared Initialize/Shutdown/Capabilities/Version contract. Individual
// drivers' actual algorithms (graphics command translation, audio
// mixing, input decoding, ...) are external collaborators and out of
// scope here; these interfaces only fix the shape a registry.Driver
// implementation presents once activated, grounded on the teacher's
// plugins/drivers/ pattern of one small interface per driver kind
// (FingerprintDriver, TaskDriver, DeviceDriver) rather than one giant
// interface every driver must implement in full.
package drivers

import (
	version "github.com/hashicorp/go-version"

	"github.com/flight-hal/core/hal"
	"github.com/flight-hal/core/plugins/base"
)

// AudioEffect is the closed set of effect kinds a driver may be asked to
// create, per Scenario A.
type AudioEffect uint8

const (
	EffectReverb AudioEffect = iota
	EffectChorus
	EffectEQ
)

// AudioDriver is the audio interface's operation set. CreateEffect must
// succeed for effects the driver can realize - in hardware if the
// HardwareDSP capability is present, in software otherwise - and return
// FeatureNotSupported (attributed to this driver via hal.Error.Driver)
// when neither path exists, per Scenario A.
type AudioDriver interface {
	base.Driver
	CreateEffect(effect AudioEffect) (hal.Handle, *hal.Error)
}

// GraphicsDriver is the graphics interface's operation set: command
// submission against an opaque, driver-owned command ring.
type GraphicsDriver interface {
	base.Driver
	SubmitCommandList(commands []byte) *hal.Error
	Present() *hal.Error
}

// InputState is an opaque, driver-defined snapshot handed back by Poll;
// the core makes no claim on its internal shape (it varies from a
// Dreamcast controller's digital pad to a desktop's multi-device input
// stack).
type InputState any

// InputDriver is the input interface's operation set.
type InputDriver interface {
	base.Driver
	Poll() (InputState, *hal.Error)
}

// FileDriver is the file interface's operation set. File I/O's own
// semantics (archive providers, watchers) are a driver-internal concern
// per §9's open questions; the core only fixes open/close/read/write.
type FileDriver interface {
	base.Driver
	Open(path string, flags int) (hal.Handle, *hal.Error)
	Read(h hal.Handle, buf []byte) (int, *hal.Error)
	Write(h hal.Handle, buf []byte) (int, *hal.Error)
	Close(h hal.Handle) *hal.Error
}

// NetworkDriver is the network interface's operation set, fixed at the
// socket contract per the root Non-goals (no protocol implementation
// above it).
type NetworkDriver interface {
	base.Driver
	Connect(address string) (hal.Handle, *hal.Error)
	Send(h hal.Handle, buf []byte) (int, *hal.Error)
	Recv(h hal.Handle, buf []byte) (int, *hal.Error)
	Disconnect(h hal.Handle) *hal.Error
}

// PerformanceDriver is the performance interface's operation set: a
// source of platform-specific hardware counters (cycle counts, GPU
// timers) beyond what client/timing's PerformanceCounter already
// provides in software.
type PerformanceDriver interface {
	base.Driver
	ReadCounter(name string) (uint64, *hal.Error)
}

// ExtensionID names a driver-local platform extension, per §9's
// redesign of void* get_extension("vmu")-style casts: a typed registry
// keyed by a constant identifier returning a narrow interface, with
// FeatureNotSupported on a miss rather than a null cast.
type ExtensionID string

const (
	ExtensionAICADSP  ExtensionID = "aica_dsp"
	ExtensionVMUStore ExtensionID = "vmu_store"
)

// GetExtension looks up id on d, returning FeatureNotSupported
// (attributed to driverName) if d does not implement base.Extension or
// does not recognize id - the one place a caller is allowed to fall
// back to a dynamic, driver-defined type instead of a fixed interface.
func GetExtension(d base.Driver, driverName string, id ExtensionID) (any, *hal.Error) {
	ext, ok := d.(base.Extension)
	if !ok {
		return nil, hal.New(hal.ErrFeatureNotSupported, "driver exposes no extensions").
			WithContext(driverName, string(id))
	}
	v, ok := ext.GetExtension(string(id))
	if !ok {
		return nil, hal.New(hal.ErrFeatureNotSupported, "extension not recognized").
			WithContext(driverName, string(id))
	}
	return v, nil
}

// MinVersion is a small go-version convenience for driver authors
// comparing their own SemVer against a floor they require from
// CoreServices or a companion driver. The registry does not call it:
// §4.1's activation tie-break is priority-then-name only.
func MinVersion(v *version.Version, floor string) bool {
	f, err := version.NewVersion(floor)
	if err != nil {
		return false
	}
	return v.GreaterThanOrEqual(f)
}
