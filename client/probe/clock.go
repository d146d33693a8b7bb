// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package probe

import (
	"github.com/hashicorp/go-hclog"

	"github.com/flight-hal/core/hal"
)

// ClockFingerprinter advertises the clock sources client/timing can back
// on this platform. Monotonic and Realtime are always available because
// Go's runtime guarantees both everywhere the toolchain targets.
type ClockFingerprinter struct {
	StaticFingerprinter
	logger hclog.Logger
	// HighResolutionAvailable lets a platform adapter (e.g. one backed by
	// a console's cycle counter) advertise a HighResolution source;
	// without it the façade still works, falling back to Monotonic.
	HighResolutionAvailable bool
}

func NewClockFingerprinter(logger hclog.Logger, highResolutionAvailable bool) *ClockFingerprinter {
	return &ClockFingerprinter{logger: logger.Named("clock"), HighResolutionAvailable: highResolutionAvailable}
}

func (f *ClockFingerprinter) Fingerprint(req *Request, resp *Response) error {
	resp.Detected = true
	resp.Name = "clock"
	clocks := []hal.ClockType{hal.ClockMonotonic, hal.ClockRealtime, hal.ClockProcess, hal.ClockThread, hal.ClockGameTimer, hal.ClockProfileTimer}
	caps := hal.Mask{}.Set(hal.CapClockProcess).Set(hal.CapClockThread)
	if f.HighResolutionAvailable {
		clocks = append(clocks, hal.ClockHighResolution)
		caps = caps.Set(hal.CapClockHighResolution)
	}
	resp.Clocks = clocks
	resp.Capabilities = caps
	return nil
}
