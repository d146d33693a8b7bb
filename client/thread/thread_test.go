// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package thread

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/flight-hal/core/hal"
	"github.com/flight-hal/core/internal/ci"
)

func TestSelectModel_HonorsOverride(t *testing.T) {
	ci.Parallel(t)

	override := Cooperative
	must.Eq(t, Cooperative, SelectModel(&override, 16))
}

func TestSelectModel_DefaultsByCoreCount(t *testing.T) {
	ci.Parallel(t)

	must.Eq(t, Cooperative, SelectModel(nil, 1))
	must.Eq(t, Preemptive, SelectModel(nil, 4))
}

func TestSupports_SingleThreadedOnlySupportsRecursiveMutexAndEvent(t *testing.T) {
	ci.Parallel(t)

	must.True(t, Supports(SingleThreaded, hal.SyncRecursiveMutex))
	must.True(t, Supports(SingleThreaded, hal.SyncEvent))
	must.False(t, Supports(SingleThreaded, hal.SyncMutex))
	must.False(t, Supports(SingleThreaded, hal.SyncBarrier))
}

func TestFacade_NewMutexRejectedUnderSingleThreaded(t *testing.T) {
	ci.Parallel(t)

	single := SingleThreaded
	f := NewFacade(&single, 1)
	_, err := f.NewMutex()
	must.NotNil(t, err)
	must.Eq(t, hal.ErrFeatureNotSupported, err.Kind)
}

func TestFacade_MutexPreemptiveBlocks(t *testing.T) {
	ci.Parallel(t)

	preempt := Preemptive
	f := NewFacade(&preempt, 4)
	m, err := f.NewMutex()
	must.Nil(t, err)

	m.Lock()
	must.False(t, m.TryLock())
	m.Unlock()
	must.True(t, m.TryLock())
	m.Unlock()
}

func TestFacade_MutexCooperativeTicksToAcquire(t *testing.T) {
	ci.Parallel(t)

	coop := Cooperative
	f := NewFacade(&coop, 1)
	m, err := f.NewMutex()
	must.Nil(t, err)

	must.True(t, m.TryLock())
	m.Unlock()

	done := make(chan struct{})
	go func() {
		m.Lock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cooperative Lock never acquired despite the mutex being free")
	}
}

func TestEvent_SetWakesWaiters(t *testing.T) {
	ci.Parallel(t)

	e := newEvent()
	must.False(t, e.IsSet())

	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()

	e.Set()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event Wait never returned after Set")
	}
	must.True(t, e.IsSet())
}

func TestBarrier_ReleasesAllPartiesTogether(t *testing.T) {
	ci.Parallel(t)

	b := newBarrier(3)
	results := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			b.Wait()
			results <- i
		}()
	}

	timeout := time.After(time.Second)
	for i := 0; i < 3; i++ {
		select {
		case <-results:
		case <-timeout:
			t.Fatal("barrier did not release all parties")
		}
	}
}

func TestPool_SubmitRunsConcurrentlyAndWaits(t *testing.T) {
	ci.Parallel(t)

	p := NewPool(4)
	var n int32
	err := p.Submit(context.Background(),
		func(context.Context) error { n++; return nil },
		func(context.Context) error { n++; return nil },
		func(context.Context) error { n++; return nil },
	)
	must.NoError(t, err)
	must.Eq(t, int32(3), n)
}

func TestWorkQueue_DetectsCycle(t *testing.T) {
	ci.Parallel(t)

	q := NewWorkQueue(NewPool(2))
	tasks := []Task{
		{ID: "a", DependsOn: []TaskID{"b"}, Run: func(context.Context) error { return nil }},
		{ID: "b", DependsOn: []TaskID{"a"}, Run: func(context.Context) error { return nil }},
	}
	err := q.Submit(context.Background(), tasks)
	must.NotNil(t, err)
	must.Eq(t, hal.ErrCyclicDependency, err.Kind)
}

func TestWorkQueue_RunsInDependencyOrder(t *testing.T) {
	ci.Parallel(t)

	q := NewWorkQueue(NewPool(4))
	var order []string
	ch := make(chan string, 3)

	tasks := []Task{
		{ID: "a", Run: func(context.Context) error { ch <- "a"; return nil }},
		{ID: "b", DependsOn: []TaskID{"a"}, Run: func(context.Context) error { ch <- "b"; return nil }},
		{ID: "c", DependsOn: []TaskID{"b"}, Run: func(context.Context) error { ch <- "c"; return nil }},
	}
	err := q.Submit(context.Background(), tasks)
	must.Nil(t, err)
	close(ch)
	for v := range ch {
		order = append(order, v)
	}
	must.Eq(t, []string{"a", "b", "c"}, order)
}

func TestFacade_BinarySemaphoreCapsAtOnePermit(t *testing.T) {
	ci.Parallel(t)

	preempt := Preemptive
	f := NewFacade(&preempt, 4)
	s, err := f.NewBinarySemaphore(false)
	must.Nil(t, err)

	must.False(t, s.TryAcquire())
	s.Release()
	s.Release() // idempotent: still only one permit
	must.True(t, s.TryAcquire())
	must.False(t, s.TryAcquire())
}

func TestFacade_ConditionVariableSignalWakesOneWaiter(t *testing.T) {
	ci.Parallel(t)

	preempt := Preemptive
	f := NewFacade(&preempt, 4)
	var mu sync.Mutex
	cv, err := f.NewConditionVariable(&mu)
	must.Nil(t, err)

	ready := false
	done := make(chan struct{})
	go func() {
		mu.Lock()
		for !ready {
			cv.Wait()
		}
		mu.Unlock()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	ready = true
	mu.Unlock()
	cv.Signal()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("condition variable Wait never returned after Signal")
	}
}

func TestFacade_SyncPrimitivesRejectedUnderSingleThreaded(t *testing.T) {
	ci.Parallel(t)

	single := SingleThreaded
	f := NewFacade(&single, 1)

	_, err := f.NewBinarySemaphore(false)
	must.NotNil(t, err)
	must.Eq(t, hal.ErrFeatureNotSupported, err.Kind)

	_, err = f.NewConditionVariable(&sync.Mutex{})
	must.NotNil(t, err)
	must.Eq(t, hal.ErrFeatureNotSupported, err.Kind)
}

func TestWorkQueue_SubmitWorkImmediateRunsBeforeReturn(t *testing.T) {
	ci.Parallel(t)

	q := NewWorkQueue(NewPool(2))
	var ran bool
	handles, err := q.SubmitWork(context.Background(), []WorkItem{
		{ID: "a", Mode: Immediate, Run: func(context.Context) error { ran = true; return nil }},
	})
	must.Nil(t, err)
	must.Eq(t, 1, len(handles))
	must.True(t, ran)
}

func TestWorkQueue_SubmitWorkDetectsCycle(t *testing.T) {
	ci.Parallel(t)

	q := NewWorkQueue(NewPool(2))
	_, err := q.SubmitWork(context.Background(), []WorkItem{
		{ID: "a", DependsOn: []TaskID{"b"}, Mode: Parallel, Run: func(context.Context) error { return nil }},
		{ID: "b", DependsOn: []TaskID{"a"}, Mode: Parallel, Run: func(context.Context) error { return nil }},
	})
	must.NotNil(t, err)
	must.Eq(t, hal.ErrCyclicDependency, err.Kind)
}

func TestWorkQueue_SubmitWorkSequentialRunsInSubmissionOrder(t *testing.T) {
	ci.Parallel(t)

	q := NewWorkQueue(NewPool(4))
	ch := make(chan int, 3)
	_, err := q.SubmitWork(context.Background(), []WorkItem{
		{ID: "a", Mode: Sequential, Run: func(context.Context) error { ch <- 1; return nil }},
		{ID: "b", Mode: Sequential, Run: func(context.Context) error { ch <- 2; return nil }},
		{ID: "c", Mode: Sequential, Run: func(context.Context) error { ch <- 3; return nil }},
	})
	must.Nil(t, err)

	var order []int
	for i := 0; i < 3; i++ {
		select {
		case v := <-ch:
			order = append(order, v)
		case <-time.After(time.Second):
			t.Fatal("sequential work items never completed")
		}
	}
	must.Eq(t, []int{1, 2, 3}, order)
}

func TestWorkQueue_SubmitWorkDeferredRunsOnlyOnDrain(t *testing.T) {
	ci.Parallel(t)

	q := NewWorkQueue(NewPool(2))
	var ran bool
	_, err := q.SubmitWork(context.Background(), []WorkItem{
		{ID: "a", Mode: Deferred, Run: func(context.Context) error { ran = true; return nil }},
	})
	must.Nil(t, err)
	must.False(t, ran)

	q.Drain()
	must.True(t, ran)
}

func TestWorkQueue_CancelBeforeStartSucceedsSilentlyAndNeverRuns(t *testing.T) {
	ci.Parallel(t)

	q := NewWorkQueue(NewPool(2))
	var ran bool
	handles, err := q.SubmitWork(context.Background(), []WorkItem{
		{ID: "a", Mode: Deferred, Run: func(context.Context) error { ran = true; return nil }},
	})
	must.Nil(t, err)

	must.Nil(t, q.Cancel(handles[0]))
	q.Drain()
	must.False(t, ran)

	_, _, _, cancelled, herr := q.Status(handles[0])
	must.Nil(t, herr)
	must.True(t, cancelled)
}
