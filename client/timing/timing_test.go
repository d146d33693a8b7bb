// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package timing

import (
	"errors"
	"testing"
	"time"

	"github.com/shoenig/test/must"
	"github.com/shoenig/test/wait"

	"github.com/flight-hal/core/hal"
	"github.com/flight-hal/core/internal/ci"
)

// fakeClock is a deterministic Clock for tests that need exact deltas.
type fakeClock struct {
	src hal.ClockType
	now int64
}

func (f *fakeClock) Type() hal.ClockType { return f.src }
func (f *fakeClock) Now() Timestamp {
	return Timestamp{Value: f.now, Precision: PrecisionNanoseconds, Source: f.src}
}
func (f *fakeClock) Advance(d time.Duration) { f.now += d.Nanoseconds() }

func TestTimestamp_SubRequiresMatchingMonotonicSource(t *testing.T) {
	ci.Parallel(t)

	a := Timestamp{Value: 100, Source: hal.ClockMonotonic}
	b := Timestamp{Value: 40, Source: hal.ClockMonotonic}
	d, err := a.Sub(b)
	must.Nil(t, err)
	must.Eq(t, int64(60), d.Value)

	realtime := Timestamp{Value: 100, Source: hal.ClockRealtime}
	_, err = a.Sub(realtime)
	must.NotNil(t, err)
	must.Eq(t, hal.ErrIncompatibleClocks, err.Kind)

	_, err = realtime.Sub(Timestamp{Value: 10, Source: hal.ClockRealtime})
	must.NotNil(t, err)
	must.Eq(t, hal.ErrIncompatibleClocks, err.Kind)
}

func TestRegistry_NowReportsFeatureNotSupportedForUnregisteredClock(t *testing.T) {
	ci.Parallel(t)

	r := NewRegistry([]hal.ClockType{hal.ClockMonotonic})
	_, err := r.Now(hal.ClockMonotonic)
	must.Nil(t, err)

	_, err = r.Now(hal.ClockHighResolution)
	must.NotNil(t, err)
	must.Eq(t, hal.ErrFeatureNotSupported, err.Kind)
}

func TestFrameTimer_RejectsOutOfOrderTransitions(t *testing.T) {
	ci.Parallel(t)

	clock := &fakeClock{src: hal.ClockMonotonic}
	ft := NewFrameTimer(clock, 0.1)

	err := ft.EndFrame()
	must.NotNil(t, err)
	must.Eq(t, hal.ErrInvalidState, err.Kind)

	must.Nil(t, ft.BeginFrame())
	err = ft.BeginFrame()
	must.NotNil(t, err)
	must.Eq(t, hal.ErrInvalidState, err.Kind)
}

func TestFrameTimer_MeasuresPositiveDelta(t *testing.T) {
	ci.Parallel(t)

	clock := &fakeClock{src: hal.ClockMonotonic}
	ft := NewFrameTimer(clock, 0.1)

	must.Nil(t, ft.BeginFrame())
	clock.Advance(16600 * time.Microsecond)
	must.Nil(t, ft.EndFrame())

	timing := ft.Latest()
	must.Greater(t, int64(0), timing.Delta.Value)
	must.Eq(t, FrameEnded, ft.State())
}

// TestFrameTimer_Scenario reproduces spec Scenario F: 120 frames paced at
// a fixed 16.666ms must average within +/-5% of 60 FPS.
func TestFrameTimer_Scenario(t *testing.T) {
	ci.Parallel(t)

	clock := &fakeClock{src: hal.ClockMonotonic}
	ft := NewFrameTimer(clock, 0.1)

	const frames = 120
	const frameTime = 16666666 * time.Nanosecond // ~16.666ms
	for i := 0; i < frames; i++ {
		must.Nil(t, ft.BeginFrame())
		clock.Advance(frameTime)
		must.Nil(t, ft.EndFrame())
	}

	fps := ft.Latest().SmoothedFPS
	must.Greater(t, 57.0, fps) // within -5% of 60
	must.Less(t, 63.0, fps)    // within +5% of 60
}

func TestDispatcher_AdaptivePicksBusyForShortSleeps(t *testing.T) {
	ci.Parallel(t)

	// Uses a real clock, not fakeClock: busy/yield spin on clock.Now()
	// advancing wall time, which a manually-advanced fake never does.
	clock := newMonotonicClock(hal.ClockMonotonic)
	d := NewDispatcher(clock, SleepAdaptive)

	before := time.Now()
	d.Sleep(10 * time.Microsecond)
	must.Less(t, 50*time.Millisecond, time.Since(before))
}

func TestRingBuff_RetainsLastNInOrder(t *testing.T) {
	ci.Parallel(t)

	r, err := newRingBuff(3)
	must.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		r.Enqueue(Snapshot{At: Timestamp{Value: i}})
	}

	vals := r.Values()
	must.Eq(t, 3, len(vals))
	must.Eq(t, int64(3), vals[0].At.Value)
	must.Eq(t, int64(4), vals[1].At.Value)
	must.Eq(t, int64(5), vals[2].At.Value)
	must.Eq(t, int64(5), r.Peek().At.Value)
}

func TestRingBuff_RejectsNonPositiveCapacity(t *testing.T) {
	ci.Parallel(t)

	_, err := newRingBuff(0)
	must.Error(t, err)
}

func TestPerfCounters_PollsRegisteredSources(t *testing.T) {
	ci.Parallel(t)

	clock := &fakeClock{src: hal.ClockMonotonic}
	pc := NewPerfCounters(clock).WithCapacity(8).WithInterval(5 * time.Millisecond)
	pc.Register("frame_time_ns", func() float64 { return 16.6 })
	pc.Start()
	defer pc.Stop()

	must.Wait(t, wait.InitialSuccess(
		wait.ErrorFunc(func() error {
			if len(pc.History()) == 0 {
				return errors.New("waiting for first poll")
			}
			return nil
		}),
		wait.Timeout(200*time.Millisecond),
		wait.Gap(5*time.Millisecond),
	))

	snap := pc.Latest()
	must.Eq(t, 16.6, snap.Values["frame_time_ns"])
}
