// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package thread

import "time"

// defaultQuantum is the cooperative scheduling quantum from §4.5.
const defaultQuantum = time.Millisecond

// scheduler drives cooperative/single-threaded primitive semantics: a
// primitive that cannot complete immediately retries its non-blocking
// attempt in a loop and calls tick() between attempts, instead of the OS
// scheduler preempting a thread. tick() makes one pass over the polls
// added through register. The quantum is stored (SetQuantum) but tick()
// does not read it: a pass is neither timed nor limited to a quantum.
type scheduler struct {
	quantum time.Duration
	pending []func() bool // returns true when the condition it polls is now satisfied
}

func newScheduler() *scheduler {
	return &scheduler{quantum: defaultQuantum}
}

// SetQuantum overrides the default 1ms cooperative quantum.
func (s *scheduler) SetQuantum(d time.Duration) { s.quantum = d }

// register adds poll to the set tick() re-evaluates on every call. poll
// must be idempotent and side-effect-free until it returns true.
func (s *scheduler) register(poll func() bool) {
	s.pending = append(s.pending, poll)
}

// tick runs every registered poll once; any that return true are
// removed. It returns after that single pass.
func (s *scheduler) tick() {
	remaining := s.pending[:0]
	for _, poll := range s.pending {
		if !poll() {
			remaining = append(remaining, poll)
		}
	}
	s.pending = remaining
}
