// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package thread

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/flight-hal/core/hal"
)

// Pool is the Preemptive-model thread pool from §4.5: sized to
// max(1, cpu_cores-1) by default, with dynamic resize supported only
// under Preemptive. It is built on golang.org/x/sync's weighted
// semaphore for admission control and errgroup for fan-out-and-wait
// submission, the same pairing the teacher's dependency set offers for
// bounded concurrent work (rather than a hand-rolled worker-channel
// pool).
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

// NewPool constructs a pool admitting at most size concurrent tasks.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Resize changes the pool's admission limit. Per §4.5 this is only valid
// under Preemptive; Facade is responsible for not exposing Pool under
// other models (Pool() returns nil there).
func (p *Pool) Resize(size int) {
	if size < 1 {
		size = 1
	}
	p.sem = semaphore.NewWeighted(int64(size))
	p.size = int64(size)
}

// Size returns the current admission limit.
func (p *Pool) Size() int64 { return p.size }

// Submit runs each fn concurrently, admitting at most Size() at once, and
// waits for all to complete. The first non-nil error is returned after
// every task finishes (errgroup.Group semantics); ctx cancellation aborts
// admission of not-yet-started tasks.
func (p *Pool) Submit(ctx context.Context, fns ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		if err := p.sem.Acquire(gctx, 1); err != nil {
			return hal.Wrap(hal.ErrCancelled, "pool admission cancelled", err)
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			return fn(gctx)
		})
	}
	return g.Wait()
}
