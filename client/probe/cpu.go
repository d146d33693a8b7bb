// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package probe

import (
	"runtime"

	"github.com/hashicorp/go-hclog"
)

// CPUFingerprinter detects core count and architecture, grounded on the
// teacher's CPUFingerprint which populates cpu.numcores/cpu.modelname node
// attributes from the host.
type CPUFingerprinter struct {
	StaticFingerprinter
	logger hclog.Logger
}

func NewCPUFingerprinter(logger hclog.Logger) *CPUFingerprinter {
	return &CPUFingerprinter{logger: logger.Named("cpu")}
}

func (f *CPUFingerprinter) Fingerprint(req *Request, resp *Response) error {
	resp.Detected = true
	resp.Name = "cpu"
	resp.Architecture = runtime.GOARCH
	resp.CPUCores = runtime.NumCPU()
	return nil
}
