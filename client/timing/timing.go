// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package timing implements the L1 Time façade: clocks, frame timing, and
// a sleep dispatcher. It follows the teacher's client/stats package in
// spirit - a small set of pollable counters fed by a background loop -
// but is grounded on oss.indeed.com/go/libtime for the actual clock
// reads rather than calling time.Now directly, the way the teacher
// reaches for a library wrapper instead of the raw stdlib call at the
// point contention or testability matters. Sleeps use time.Sleep and
// runtime.Gosched directly (see sleep.go).
package timing

import (
	"fmt"

	"oss.indeed.com/go/libtime"

	"github.com/flight-hal/core/hal"
)

// Precision is the unit a Timestamp or Duration value is expressed in,
// per §3.
type Precision uint8

const (
	PrecisionNanoseconds Precision = iota
	PrecisionMicroseconds
	PrecisionMilliseconds
	PrecisionCentiseconds
	PrecisionSeconds
)

// Timestamp is the {value, precision, source} triple from §3. Two
// Timestamps are only subtractable when they share ClockSource; §4.6
// restricts that further to monotonic-class clocks.
type Timestamp struct {
	Value     int64
	Precision Precision
	Source    hal.ClockType
}

// Duration is a plain {value, precision} pair with no clock source.
type Duration struct {
	Value     int64
	Precision Precision
}

func (d Duration) Nanoseconds() int64 {
	switch d.Precision {
	case PrecisionMicroseconds:
		return d.Value * 1e3
	case PrecisionMilliseconds:
		return d.Value * 1e6
	case PrecisionCentiseconds:
		return d.Value * 1e7
	case PrecisionSeconds:
		return d.Value * 1e9
	default:
		return d.Value
	}
}

var monotonicClasses = map[hal.ClockType]bool{
	hal.ClockMonotonic:      true,
	hal.ClockHighResolution: true,
	hal.ClockGameTimer:      true,
	hal.ClockProfileTimer:   true,
	hal.ClockProcess:        true,
	hal.ClockThread:         true,
}

// Sub subtracts other from t, returning IncompatibleClocks if either clock
// is not monotonic-class or the sources differ, per §4.6: "Only
// monotonic-class clocks are subtractable with each other."
func (t Timestamp) Sub(other Timestamp) (Duration, *hal.Error) {
	if t.Source != other.Source {
		return Duration{}, hal.New(hal.ErrIncompatibleClocks, fmt.Sprintf("cannot subtract %v from %v", other.Source, t.Source))
	}
	if !monotonicClasses[t.Source] {
		return Duration{}, hal.New(hal.ErrIncompatibleClocks, fmt.Sprintf("clock %v is not monotonic-class", t.Source))
	}
	return Duration{Value: t.Value - other.Value, Precision: t.Precision}, nil
}

// Clock reads Timestamps from one clock source.
type Clock interface {
	Type() hal.ClockType
	Now() Timestamp
}

// monotonicClock wraps libtime.Clock for the clock sources the Go runtime
// can actually distinguish (Monotonic, Process, Thread, HighResolution).
// Values are nanoseconds elapsed since monotonicEpoch, measured with the
// monotonic reading time.Time carries, so they never decrease; only
// Realtime can jump.
type monotonicClock struct {
	kind libtime.Clock
	src  hal.ClockType
}

// monotonicEpoch is the shared origin of every monotonicClock's values.
var monotonicEpoch = libtime.SystemClock().Now()

func newMonotonicClock(src hal.ClockType) *monotonicClock {
	return &monotonicClock{kind: libtime.SystemClock(), src: src}
}

func (c *monotonicClock) Type() hal.ClockType { return c.src }

func (c *monotonicClock) Now() Timestamp {
	return Timestamp{Value: c.kind.Now().Sub(monotonicEpoch).Nanoseconds(), Precision: PrecisionNanoseconds, Source: c.src}
}

// realtimeClock is the one clock source allowed to jump (NTP adjustment,
// manual clock set), per §4.6.
type realtimeClock struct {
	kind libtime.Clock
}

func newRealtimeClock() *realtimeClock { return &realtimeClock{kind: libtime.SystemClock()} }

func (c *realtimeClock) Type() hal.ClockType { return hal.ClockRealtime }

func (c *realtimeClock) Now() Timestamp {
	return Timestamp{Value: c.kind.Now().UnixNano(), Precision: PrecisionNanoseconds, Source: hal.ClockRealtime}
}

// gameTimerClock pauses independent of wall-clock time, per §4.6: "pauses
// when the game is paused (controlled by a pause() API)."
type gameTimerClock struct {
	base   *monotonicClock
	paused bool
	offset int64 // accumulated paused duration, subtracted from reads
	pauseT int64
}

func newGameTimerClock() *gameTimerClock {
	return &gameTimerClock{base: newMonotonicClock(hal.ClockGameTimer)}
}

func (c *gameTimerClock) Type() hal.ClockType { return hal.ClockGameTimer }

func (c *gameTimerClock) Now() Timestamp {
	raw := c.base.Now().Value
	if c.paused {
		raw = c.pauseT
	}
	return Timestamp{Value: raw - c.offset, Precision: PrecisionNanoseconds, Source: hal.ClockGameTimer}
}

// Pause freezes the game timer at its current value until Resume.
func (c *gameTimerClock) Pause() {
	if c.paused {
		return
	}
	c.paused = true
	c.pauseT = c.base.Now().Value
}

// Resume un-freezes the game timer, folding the paused interval into
// offset so elapsed time excludes it.
func (c *gameTimerClock) Resume() {
	if !c.paused {
		return
	}
	c.paused = false
	c.offset += c.base.Now().Value - c.pauseT
}

// Registry is the set of clocks a platform exposes, keyed by ClockType.
type Registry struct {
	clocks   map[hal.ClockType]Clock
	GameTime *gameTimerClock
}

// NewRegistry builds a Registry populated with every clock source named
// in available, which should come from hal.PlatformInfo.SupportedClocks.
func NewRegistry(available []hal.ClockType) *Registry {
	r := &Registry{clocks: make(map[hal.ClockType]Clock, len(available))}
	for _, ct := range available {
		switch ct {
		case hal.ClockRealtime:
			r.clocks[ct] = newRealtimeClock()
		case hal.ClockGameTimer:
			r.GameTime = newGameTimerClock()
			r.clocks[ct] = r.GameTime
		default:
			r.clocks[ct] = newMonotonicClock(ct)
		}
	}
	return r
}

// Now reads the named clock, or FeatureNotSupported if the platform never
// registered it.
func (r *Registry) Now(ct hal.ClockType) (Timestamp, *hal.Error) {
	c, ok := r.clocks[ct]
	if !ok {
		return Timestamp{}, hal.New(hal.ErrFeatureNotSupported, fmt.Sprintf("clock %v not available on this platform", ct))
	}
	return c.Now(), nil
}
