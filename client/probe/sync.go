// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package probe

import (
	"github.com/hashicorp/go-hclog"

	"github.com/flight-hal/core/hal"
)

// ThreadingFingerprinter decides which of the four threading models §4.5
// names this process can run, and which sync primitives that model
// supports, purely from detected core count (an explicit override belongs
// in client/config, not here — the probe only reports what the hardware
// allows).
type ThreadingFingerprinter struct {
	StaticFingerprinter
	logger hclog.Logger
	// CooperativeOnly forces the cooperative/single-threaded branch even
	// on a multi-core host, for platforms (PSP-class) whose OS does not
	// expose preemptive scheduling to user code despite multiple cores.
	CooperativeOnly bool
}

func NewThreadingFingerprinter(logger hclog.Logger, cooperativeOnly bool) *ThreadingFingerprinter {
	return &ThreadingFingerprinter{logger: logger.Named("threading"), CooperativeOnly: cooperativeOnly}
}

func (f *ThreadingFingerprinter) Fingerprint(req *Request, resp *Response) error {
	resp.Detected = true
	resp.Name = "threading"

	cores := req.Base.CPUCores
	caps := hal.Mask{}
	var sync []hal.SyncPrimitive

	switch {
	case f.CooperativeOnly:
		caps = caps.Set(hal.CapThreadCooperative)
		sync = []hal.SyncPrimitive{hal.SyncRecursiveMutex, hal.SyncEvent}
	case cores <= 1:
		caps = caps.Set(hal.CapThreadCooperative)
		sync = []hal.SyncPrimitive{hal.SyncRecursiveMutex, hal.SyncEvent}
	default:
		caps = caps.Set(hal.CapThreadPreemptive).Set(hal.CapThreadCooperative).Set(hal.CapThreadReaderWriterLock).Set(hal.CapThreadBarrier)
		sync = []hal.SyncPrimitive{
			hal.SyncMutex, hal.SyncRecursiveMutex, hal.SyncSemaphore, hal.SyncBinarySemaphore,
			hal.SyncConditionVariable, hal.SyncEvent, hal.SyncBarrier, hal.SyncReaderWriterLock,
		}
	}
	resp.Sync = sync
	resp.Capabilities = caps
	return nil
}
