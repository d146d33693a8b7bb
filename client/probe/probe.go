// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package probe builds the immutable hal.PlatformInfo the rest of the
// core depends on. It is organized the way the teacher's client/fingerprint
// package organizes node attribute detection: a small Fingerprinter
// contract, one implementation per concern (CPU, memory, clocks, sync
// primitives, allocators), and a runner that merges every implementation's
// contribution into one result.
package probe

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/flight-hal/core/hal"
)

// Request is the input handed to every Fingerprinter.
type Request struct {
	// Base is the result accumulated by fingerprinters that already ran;
	// later fingerprinters may read it (e.g. the threading fingerprinter
	// reads CPUCores contributed by the CPU fingerprinter) but must not
	// mutate it directly — they write through
	// Response instead.
	Base *hal.PlatformInfo
}

// Response accumulates one Fingerprinter's contribution. The runner merges
// every non-zero field into the platform info under construction.
type Response struct {
	Detected            bool
	Name                string
	Architecture        string
	CPUCores            int
	TotalPhysicalMemory uint64
	Clocks              []hal.ClockType
	Sync                []hal.SyncPrimitive
	Allocators          []hal.AllocatorType
	Capabilities        hal.Mask
	Fallbacks           hal.Mask
	Endian              *hal.Endian
	PageSize            uint32
}

// Fingerprinter detects one platform concern. Implementations must be safe
// to call exactly once per Probe(); StaticFingerprinter documents that
// contract by embedding.
type Fingerprinter interface {
	Fingerprint(req *Request, resp *Response) error
}

// StaticFingerprinter marks a Fingerprinter whose result never changes
// across calls within one process lifetime — embedding it is purely
// documentation, matching the teacher's zero-method marker interface of
// the same name.
type StaticFingerprinter struct{}

// RetryWrapper retries a flaky Fingerprinter up to Attempts times with
// Delay between tries, the way the teacher's network/link fingerprinters
// retry a probe that can observe a NIC mid-negotiation. A capability probe
// that shells out to a driver ioctl during early boot is the equivalent
// case in this core.
type RetryWrapper struct {
	Inner    Fingerprinter
	Attempts int
	Delay    time.Duration
}

func (r *RetryWrapper) Fingerprint(req *Request, resp *Response) error {
	var lastErr error
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		lastErr = r.Inner.Fingerprint(req, resp)
		if lastErr == nil {
			return nil
		}
		if i < attempts-1 && r.Delay > 0 {
			time.Sleep(r.Delay)
		}
	}
	return lastErr
}

// Probe runs every Fingerprinter in order and merges their results into an
// immutable *hal.PlatformInfo. Fingerprinters run sequentially and in the
// order given, since later ones (notably the threading fingerprinter) read
// fields earlier ones contributed via req.Base. The tier is reclassified
// from the merged result after every fingerprinter.
func Probe(logger hclog.Logger, fingerprinters ...Fingerprinter) (*hal.PlatformInfo, error) {
	logger = logger.Named("probe")
	info := &hal.PlatformInfo{PageSize: 4096}
	var result *multierror.Error

	for _, fp := range fingerprinters {
		req := &Request{Base: info}
		var resp Response
		if err := fp.Fingerprint(req, &resp); err != nil {
			result = multierror.Append(result, fmt.Errorf("fingerprint: %w", err))
			continue
		}
		if !resp.Detected {
			continue
		}
		merge(info, &resp)
		logger.Debug("fingerprint applied", "name", resp.Name)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return info, nil
}

func merge(info *hal.PlatformInfo, resp *Response) {
	if resp.Name != "" {
		info.Name = resp.Name
	}
	if resp.Architecture != "" {
		info.Architecture = resp.Architecture
	}
	if resp.CPUCores > 0 {
		info.CPUCores = resp.CPUCores
	}
	if resp.TotalPhysicalMemory > 0 {
		info.TotalPhysicalMemory = resp.TotalPhysicalMemory
	}
	if resp.PageSize > 0 {
		info.PageSize = resp.PageSize
	}
	if resp.Endian != nil {
		info.Endian = *resp.Endian
	}
	info.SupportedClocks = appendUniqueClocks(info.SupportedClocks, resp.Clocks)
	info.SupportedSync = appendUniqueSync(info.SupportedSync, resp.Sync)
	info.SupportedAllocators = appendUniqueAllocators(info.SupportedAllocators, resp.Allocators)
	info.Capabilities = info.Capabilities.Union(resp.Capabilities)
	info.Fallbacks = info.Fallbacks.Union(resp.Fallbacks)
	info.Tier = classifyTier(info)
}

// classifyTier derives the coarse performance tier from detected core
// count and memory, matching §4.1's PlatformInfo.tier() contract. The
// thresholds below are intentionally coarse: this is a classification for
// fallback policy, not a benchmark.
func classifyTier(info *hal.PlatformInfo) hal.Tier {
	const mb = 1024 * 1024
	switch {
	case info.TotalPhysicalMemory <= 32*mb:
		return hal.TierMinimal
	case info.TotalPhysicalMemory <= 128*mb:
		return hal.TierLimited
	case info.CPUCores <= 2:
		return hal.TierStandard
	case info.CPUCores <= 8:
		return hal.TierHigh
	default:
		return hal.TierMaximum
	}
}

func appendUniqueClocks(dst, src []hal.ClockType) []hal.ClockType {
	for _, c := range src {
		if !containsClock(dst, c) {
			dst = append(dst, c)
		}
	}
	return dst
}

func containsClock(s []hal.ClockType, v hal.ClockType) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func appendUniqueSync(dst, src []hal.SyncPrimitive) []hal.SyncPrimitive {
	for _, c := range src {
		found := false
		for _, x := range dst {
			if x == c {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, c)
		}
	}
	return dst
}

func appendUniqueAllocators(dst, src []hal.AllocatorType) []hal.AllocatorType {
	for _, c := range src {
		found := false
		for _, x := range dst {
			if x == c {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, c)
		}
	}
	return dst
}

// once guards Fingerprinters that genuinely must run at most one time per
// process (e.g. they open a device node). Embed it alongside
// StaticFingerprinter when the underlying probe is not idempotent.
type once struct {
	mu   sync.Mutex
	done bool
}

func (o *once) markOrSkip() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return false
	}
	o.done = true
	return true
}
