// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package timing

import "github.com/flight-hal/core/hal"

// FrameState is one state of the §4.6 frame timer state machine.
type FrameState uint8

const (
	FrameIdle FrameState = iota
	FrameStarted
	FrameInFrame
	FrameEnded
)

func (s FrameState) String() string {
	switch s {
	case FrameStarted:
		return "Started"
	case FrameInFrame:
		return "InFrame"
	case FrameEnded:
		return "Ended"
	default:
		return "Idle"
	}
}

// FrameTiming is the measurement published at the end of each frame.
type FrameTiming struct {
	Delta         Duration
	SmoothedDelta Duration
	FrameCount    uint64
	FPS           float64
	SmoothedFPS   float64
}

// FrameTimer implements the Idle -> Started -> InFrame -> Ended state
// machine from §4.6. BeginFrame is valid from Started or Ended;
// NewFrameTimer constructs the timer already in Started, so the very
// first call is a Started -> InFrame transition and Idle is never
// entered. Every other transition attempt fails with InvalidState. Ended retains the last FrameTiming until the
// next BeginFrame.
type FrameTimer struct {
	clock Clock
	state FrameState
	alpha float64

	frameStart    Timestamp
	count         uint64
	last          FrameTiming
	smoothedDelta float64
	smoothedFPS   float64
	haveSmoothed  bool
}

// NewFrameTimer constructs a FrameTimer reading from clock, smoothing
// deltas with an exponential moving average of factor alpha (default 0.1
// per §4.6; clamped to [0, 1]). The timer starts in Started, the state
// §4.6's diagram shows Idle transitioning to before any begin_frame/
// end_frame call is possible - construction is that implicit transition.
func NewFrameTimer(clock Clock, alpha float64) *FrameTimer {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return &FrameTimer{clock: clock, alpha: alpha, state: FrameStarted}
}

// BeginFrame transitions Started|Ended -> InFrame, per §4.6.
func (f *FrameTimer) BeginFrame() *hal.Error {
	if f.state != FrameStarted && f.state != FrameEnded {
		return hal.New(hal.ErrInvalidState, "begin_frame requires Started or Ended")
	}
	f.frameStart = f.clock.Now()
	f.state = FrameInFrame
	return nil
}

// EndFrame transitions InFrame -> Ended, computing and smoothing this
// frame's delta.
func (f *FrameTimer) EndFrame() *hal.Error {
	if f.state != FrameInFrame {
		return hal.New(hal.ErrInvalidState, "end_frame requires InFrame")
	}
	now := f.clock.Now()
	delta, err := now.Sub(f.frameStart)
	if err != nil {
		return err
	}

	f.count++
	deltaNs := float64(delta.Nanoseconds())
	if !f.haveSmoothed {
		f.smoothedDelta = deltaNs
		f.haveSmoothed = true
	} else {
		f.smoothedDelta = f.alpha*deltaNs + (1-f.alpha)*f.smoothedDelta
	}

	fps := nsToFPS(deltaNs)
	f.smoothedFPS = nsToFPS(f.smoothedDelta)

	f.last = FrameTiming{
		Delta:         delta,
		SmoothedDelta: Duration{Value: int64(f.smoothedDelta), Precision: PrecisionNanoseconds},
		FrameCount:    f.count,
		FPS:           fps,
		SmoothedFPS:   f.smoothedFPS,
	}
	f.state = FrameEnded
	return nil
}

func nsToFPS(ns float64) float64 {
	if ns <= 0 {
		return 0
	}
	return 1e9 / ns
}

// State returns the timer's current state.
func (f *FrameTimer) State() FrameState { return f.state }

// Latest returns the most recent completed frame's timing, retained
// across Ended until the next BeginFrame per §4.6.
func (f *FrameTimer) Latest() FrameTiming { return f.last }
