// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package thread implements the L1 Threading façade: model selection,
// sync primitives that degrade per model, a work queue with DAG cycle
// detection, and a thread pool. It is grounded on the teacher's
// client/pluginmanager, which validates a dependency set before
// admitting work the same way the work queue here validates a DAG before
// submission, and on golang.org/x/sync for the preemptive-model pool.
package thread

import (
	"sync"

	"github.com/flight-hal/core/hal"
)

// Model is one of the four threading models §4.5 names, chosen once at
// initialize time and immutable afterward.
type Model uint8

const (
	SingleThreaded Model = iota
	Cooperative
	WebWorkers
	Preemptive
)

func (m Model) String() string {
	switch m {
	case Cooperative:
		return "Cooperative"
	case WebWorkers:
		return "WebWorkers"
	case Preemptive:
		return "Preemptive"
	default:
		return "SingleThreaded"
	}
}

// SelectModel implements §4.5's model-selection rule: an explicit
// override wins; absent one, cpuCores drives the default — a single core
// gets Cooperative (no OS threads to preempt with), multiple cores get
// Preemptive, matching the platform tiers the spec associates with each
// model (Dreamcast/PSP single-core -> Cooperative, desktop -> Preemptive).
func SelectModel(override *Model, cpuCores int) Model {
	if override != nil {
		return *override
	}
	if cpuCores <= 1 {
		return Cooperative
	}
	return Preemptive
}

// supportMatrix encodes §4.5's primitive-support table: which SyncPrimitive
// values are supported on which Model, ignoring Cooperative's additional
// "succeeds only if it can complete without blocking" behavioral
// restriction (enforced separately by each primitive).
var supportMatrix = map[Model]map[hal.SyncPrimitive]bool{
	SingleThreaded: {
		hal.SyncRecursiveMutex: true,
		hal.SyncEvent:          true,
	},
	Cooperative: {
		hal.SyncMutex:             true,
		hal.SyncRecursiveMutex:    true,
		hal.SyncSemaphore:         true,
		hal.SyncBinarySemaphore:   true,
		hal.SyncConditionVariable: true,
		hal.SyncEvent:             true,
		hal.SyncBarrier:           true,
		hal.SyncReaderWriterLock:  true,
	},
	WebWorkers: {
		hal.SyncMutex:             true,
		hal.SyncRecursiveMutex:    true,
		hal.SyncSemaphore:         true,
		hal.SyncBinarySemaphore:   true,
		hal.SyncConditionVariable: true,
		hal.SyncEvent:             true,
		hal.SyncBarrier:           true,
		hal.SyncReaderWriterLock:  true,
	},
	Preemptive: {
		hal.SyncMutex:             true,
		hal.SyncRecursiveMutex:    true,
		hal.SyncSemaphore:         true,
		hal.SyncBinarySemaphore:   true,
		hal.SyncConditionVariable: true,
		hal.SyncEvent:             true,
		hal.SyncBarrier:           true,
		hal.SyncReaderWriterLock:  true,
	},
}

// Supports reports whether primitive p is available under model m, per
// §4.5's table: SingleThreaded supports only RecursiveMutex and Event.
func Supports(m Model, p hal.SyncPrimitive) bool {
	return supportMatrix[m][p]
}

// Facade is the Threading façade: it knows its own immutable Model and
// hands out primitives, a work queue, and a pool consistent with it.
type Facade struct {
	model Model
	pool  *Pool
	sched *scheduler
}

// NewFacade selects the model (honoring override) and constructs the
// thread pool / cooperative scheduler appropriate to it.
func NewFacade(override *Model, cpuCores int) *Facade {
	m := SelectModel(override, cpuCores)
	f := &Facade{model: m}
	if m == Preemptive {
		f.pool = NewPool(poolSize(cpuCores))
	} else {
		f.sched = newScheduler()
	}
	return f
}

func poolSize(cpuCores int) int {
	if cpuCores-1 < 1 {
		return 1
	}
	return cpuCores - 1
}

// Model returns the immutable model this façade was constructed with.
func (f *Facade) Model() Model { return f.model }

// Pool returns the thread pool, non-nil only under Preemptive.
func (f *Facade) Pool() *Pool { return f.pool }

// NewMutex constructs a Mutex honoring this façade's model, or returns
// FeatureNotSupported per the §4.5 support table.
func (f *Facade) NewMutex() (*Mutex, *hal.Error) {
	if !Supports(f.model, hal.SyncMutex) {
		return nil, hal.New(hal.ErrFeatureNotSupported, "mutex unsupported under "+f.model.String())
	}
	return newMutex(f.model, f.sched), nil
}

// NewRecursiveMutex constructs a RecursiveMutex; supported on every model.
func (f *Facade) NewRecursiveMutex() *RecursiveMutex {
	return newRecursiveMutex()
}

// NewSemaphore constructs a counting Semaphore with the given initial
// permits, or FeatureNotSupported under SingleThreaded.
func (f *Facade) NewSemaphore(permits int) (*Semaphore, *hal.Error) {
	if !Supports(f.model, hal.SyncSemaphore) {
		return nil, hal.New(hal.ErrFeatureNotSupported, "semaphore unsupported under "+f.model.String())
	}
	return newSemaphore(permits, f.model, f.sched), nil
}

// NewEvent constructs an Event (manual-reset signal); supported on every
// model.
func (f *Facade) NewEvent() *Event {
	return newEvent()
}

// NewBarrier constructs a Barrier for n parties, or FeatureNotSupported
// under SingleThreaded.
func (f *Facade) NewBarrier(n int) (*Barrier, *hal.Error) {
	if !Supports(f.model, hal.SyncBarrier) {
		return nil, hal.New(hal.ErrFeatureNotSupported, "barrier unsupported under "+f.model.String())
	}
	return newBarrier(n), nil
}

// NewReaderWriterLock constructs a ReaderWriterLock, or
// FeatureNotSupported under SingleThreaded.
func (f *Facade) NewReaderWriterLock() (*ReaderWriterLock, *hal.Error) {
	if !Supports(f.model, hal.SyncReaderWriterLock) {
		return nil, hal.New(hal.ErrFeatureNotSupported, "reader-writer lock unsupported under "+f.model.String())
	}
	return newReaderWriterLock(), nil
}

// NewBinarySemaphore constructs a BinarySemaphore, initially signaled if
// signaled is true, or FeatureNotSupported under SingleThreaded.
func (f *Facade) NewBinarySemaphore(signaled bool) (*BinarySemaphore, *hal.Error) {
	if !Supports(f.model, hal.SyncBinarySemaphore) {
		return nil, hal.New(hal.ErrFeatureNotSupported, "binary semaphore unsupported under "+f.model.String())
	}
	return newBinarySemaphore(signaled, f.model, f.sched), nil
}

// NewConditionVariable constructs a ConditionVariable guarding l, or
// FeatureNotSupported under SingleThreaded.
func (f *Facade) NewConditionVariable(l sync.Locker) (*ConditionVariable, *hal.Error) {
	if !Supports(f.model, hal.SyncConditionVariable) {
		return nil, hal.New(hal.ErrFeatureNotSupported, "condition variable unsupported under "+f.model.String())
	}
	return newConditionVariable(l), nil
}

// Tick runs one pass of the cooperative scheduler. It is a no-op
// under Preemptive, where the OS scheduler already runs goroutines
// concurrently; callers that don't know their model can always call it.
func (f *Facade) Tick() {
	if f.sched != nil {
		f.sched.tick()
	}
}
