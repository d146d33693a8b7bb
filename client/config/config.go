// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package config builds the immutable Config value every façade reads at
// construction, matching the teacher's pattern of a mutable builder
// merged and validated once before a client starts (client/config.Config
// plus the default-merge-finalize flow driven by client/config.Builder).
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// OverflowPolicy selects the event queue's behavior under backpressure.
type OverflowPolicy uint8

const (
	DropNewest OverflowPolicy = iota
	DropOldest
)

func (p OverflowPolicy) String() string {
	if p == DropOldest {
		return "drop-oldest"
	}
	return "drop-newest"
}

// ThreadingModel mirrors hal's threading models for configuration-time
// override purposes; core.go maps it onto client/thread's Model, so
// neither package imports the other and config stays free of façade
// dependencies.
type ThreadingModel uint8

const (
	ThreadingAuto ThreadingModel = iota
	ThreadingSingleThreaded
	ThreadingCooperative
	ThreadingWebWorkers
	ThreadingPreemptive
)

// SleepStrategy mirrors client/timing's sleep dispatcher modes.
type SleepStrategy uint8

const (
	SleepAdaptive SleepStrategy = iota
	SleepBusy
	SleepYield
	SleepBlock
)

// Config is the enumerated configuration table from spec §6. It is built
// only through Builder and is read-only once Build() returns.
type Config struct {
	EventQueueCapacity      int
	EventOverflowPolicy     OverflowPolicy
	BatchingEnabled         bool
	BatchSize               int
	BatchTimeout            time.Duration
	ThreadingModel          ThreadingModel
	CooperativeQuantum      time.Duration
	PressureLowThreshold    float64
	PressureMediumThreshold float64
	PressureHighThreshold   float64
	PressureCriticalThreshold float64
	SleepStrategyDefault    SleepStrategy
	EmergencyReserveBytes   uint64
	DispatcherThreadPriority int
}

// Builder accumulates configuration overrides and produces an immutable
// Config. The zero value is ready to use; every Set* method returns the
// builder for chaining, matching the teacher's functional-options-free
// direct-mutation builder style used for client/config.Config.
type Builder struct {
	cfg  Config
	errs *multierror.Error
}

// NewBuilder returns a Builder pre-seeded with the defaults from spec §6.
func NewBuilder() *Builder {
	return &Builder{
		cfg: Config{
			EventQueueCapacity:        2048,
			EventOverflowPolicy:       DropNewest,
			BatchingEnabled:           false,
			BatchSize:                 64,
			BatchTimeout:              5 * time.Millisecond,
			ThreadingModel:            ThreadingAuto,
			CooperativeQuantum:        time.Millisecond,
			PressureLowThreshold:      0.50,
			PressureMediumThreshold:   0.25,
			PressureHighThreshold:     0.10,
			PressureCriticalThreshold: 0.05,
			SleepStrategyDefault:      SleepAdaptive,
			EmergencyReserveBytes:     0,
			DispatcherThreadPriority:  0,
		},
	}
}

func (b *Builder) WithEventQueueCapacity(n int) *Builder {
	if n <= 0 {
		b.errs = multierror.Append(b.errs, fmt.Errorf("event_queue_capacity must be positive, got %d", n))
		return b
	}
	b.cfg.EventQueueCapacity = n
	return b
}

func (b *Builder) WithEventOverflowPolicy(p OverflowPolicy) *Builder {
	b.cfg.EventOverflowPolicy = p
	return b
}

func (b *Builder) WithBatching(enabled bool, size int, timeout time.Duration) *Builder {
	if enabled && size <= 0 {
		b.errs = multierror.Append(b.errs, fmt.Errorf("batch_size must be positive when batching is enabled, got %d", size))
	}
	b.cfg.BatchingEnabled = enabled
	b.cfg.BatchSize = size
	b.cfg.BatchTimeout = timeout
	return b
}

func (b *Builder) WithThreadingModel(m ThreadingModel) *Builder {
	b.cfg.ThreadingModel = m
	return b
}

func (b *Builder) WithCooperativeQuantum(d time.Duration) *Builder {
	if d <= 0 {
		b.errs = multierror.Append(b.errs, fmt.Errorf("cooperative_quantum_us must be positive, got %s", d))
		return b
	}
	b.cfg.CooperativeQuantum = d
	return b
}

func (b *Builder) WithPressureThresholds(low, medium, high, critical float64) *Builder {
	if !(critical < high && high < medium && medium < low && low <= 1.0 && critical >= 0) {
		b.errs = multierror.Append(b.errs, fmt.Errorf(
			"pressure thresholds must satisfy 0 <= critical < high < medium < low <= 1.0, got low=%v medium=%v high=%v critical=%v",
			low, medium, high, critical))
		return b
	}
	b.cfg.PressureLowThreshold = low
	b.cfg.PressureMediumThreshold = medium
	b.cfg.PressureHighThreshold = high
	b.cfg.PressureCriticalThreshold = critical
	return b
}

func (b *Builder) WithSleepStrategyDefault(s SleepStrategy) *Builder {
	b.cfg.SleepStrategyDefault = s
	return b
}

func (b *Builder) WithEmergencyReserveBytes(n uint64) *Builder {
	b.cfg.EmergencyReserveBytes = n
	return b
}

func (b *Builder) WithDispatcherThreadPriority(p int) *Builder {
	b.cfg.DispatcherThreadPriority = p
	return b
}

// Build validates the accumulated configuration and returns an immutable
// Config, or the aggregate of every validation error collected along the
// way — matching the teacher's preference for go-multierror over
// fail-fast validation so a misconfigured deployment sees every problem
// in one report instead of being trained to run it once per error.
func (b *Builder) Build() (Config, error) {
	if err := b.errs.ErrorOrNil(); err != nil {
		return Config{}, err
	}
	return b.cfg, nil
}
