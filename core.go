// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package core is the top-level bootstrap: it wires client/probe,
// client/memory, client/timing, client/thread, client/event,
// client/resource, client/metrics, and client/registry into one
// plugins/base.CoreServices bundle plus the driver registry that
// consumes it, the way the teacher's client.NewClient assembles its own
// fingerprint manager, stats collector, and plugin manager into one
// *client.Client before accepting any allocation.
package core

import (
	"github.com/hashicorp/go-hclog"

	coreconfig "github.com/flight-hal/core/client/config"
	"github.com/flight-hal/core/client/event"
	"github.com/flight-hal/core/client/memory"
	gometrics "github.com/flight-hal/core/client/metrics"
	"github.com/flight-hal/core/client/probe"
	"github.com/flight-hal/core/client/registry"
	"github.com/flight-hal/core/client/resource"
	"github.com/flight-hal/core/client/thread"
	"github.com/flight-hal/core/client/timing"
	"github.com/flight-hal/core/hal"
	"github.com/flight-hal/core/plugins/base"
)

// Core bundles everything a running HAL instance needs: the
// CoreServices every driver's Initialize receives, plus the Registry
// that activates drivers against it and the PlatformInfo the probe
// detected. Shutdown tears every Active driver down in reverse-dependency
// order and stops the event dispatch goroutine.
type Core struct {
	Platform *hal.PlatformInfo
	Services *base.CoreServices
	Registry *registry.Registry

	logger hclog.Logger
}

// Boot runs the platform probe, builds every L1/L2 façade from cfg, and
// returns a Core ready to accept driver registrations. metricsCfg may be
// the zero value to use client/metrics.New's defaults.
func Boot(logger hclog.Logger, cfg coreconfig.Config, metricsCfg gometrics.Config) (*Core, *hal.Error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	platform, err := probe.Probe(logger.Named("probe"),
		probe.NewCPUFingerprinter(logger),
		probe.NewMemoryFingerprinter(logger, 0),
		probe.NewClockFingerprinter(logger, true),
		probe.NewThreadingFingerprinter(logger, false),
	)
	if err != nil {
		return nil, hal.Wrap(hal.ErrPlatformError, "core: probing platform", err)
	}

	m, merr := gometrics.New(metricsCfg)
	if merr != nil {
		return nil, hal.Wrap(hal.ErrInternalError, "core: building metrics sink", merr)
	}

	bus := event.NewBus(
		event.WithCapacity(cfg.EventQueueCapacity),
		event.WithOverflowPolicy(toEventPolicy(cfg.EventOverflowPolicy)),
	)
	bus.Run()

	memFacade := memory.NewFacade(logger.Named("memory"), m, platform.TotalPhysicalMemory)
	timeRegistry := timing.NewRegistry(platform.SupportedClocks)
	threadModel := toThreadModel(cfg.ThreadingModel)
	threadFacade := thread.NewFacade(threadModel, platform.CPUCores)
	resources := resource.New(logger.Named("resource"), m, bus)

	services := &base.CoreServices{
		Memory:    memFacade,
		Time:      timeRegistry,
		Thread:    threadFacade,
		EventBus:  bus,
		Resources: resources,
		Metrics:   m,
		Logger:    logger,
	}

	reg, rerr := registry.New(platform, bus)
	if rerr != nil {
		return nil, rerr
	}

	return &Core{Platform: platform, Services: services, Registry: reg, logger: logger}, nil
}

// Shutdown tears every Active driver down (reverse-dependency order, per
// §4.1) and stops the event bus's dispatch goroutine.
func (c *Core) Shutdown() *hal.Error {
	if err := c.Registry.ShutdownAll(); err != nil {
		return err
	}
	c.Services.EventBus.Stop()
	return nil
}

func toEventPolicy(p coreconfig.OverflowPolicy) event.OverflowPolicy {
	if p == coreconfig.DropOldest {
		return event.DropOldest
	}
	return event.DropNewest
}

func toThreadModel(m coreconfig.ThreadingModel) *thread.Model {
	var model thread.Model
	switch m {
	case coreconfig.ThreadingSingleThreaded:
		model = thread.SingleThreaded
	case coreconfig.ThreadingCooperative:
		model = thread.Cooperative
	case coreconfig.ThreadingWebWorkers:
		model = thread.WebWorkers
	case coreconfig.ThreadingPreemptive:
		model = thread.Preemptive
	default:
		return nil // ThreadingAuto: let thread.SelectModel decide
	}
	return &model
}
