// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package thread

import (
	"context"
	"sort"
	"sync"

	"github.com/flight-hal/core/hal"
)

// TaskID names one node in a WorkQueue's dependency DAG.
type TaskID string

// Task is one unit of work submitted to a WorkQueue.
type Task struct {
	ID        TaskID
	DependsOn []TaskID
	Run       func(context.Context) error
}

// WorkQueue validates a task DAG at submit time - an iterative DFS cycle
// check grounded on the teacher's client/pluginmanager pattern of
// validating a plugin's configuration/dependency set before it is
// dispensed - then runs tasks in dependency order, fanning independent
// tasks out across pool. SubmitWork layers §4.5's prioritized WorkItem/
// WorkHandle/mode API on the same pool and DAG-validation machinery.
type WorkQueue struct {
	pool *Pool

	mu       sync.Mutex
	handles  *hal.Table[*workRecord]
	deferred []deferredEntry
	seqWake  chan struct{} // closed when the Sequential chain is free to run its next item
}

// NewWorkQueue builds a WorkQueue that executes ready tasks through pool.
func NewWorkQueue(pool *Pool) *WorkQueue {
	return &WorkQueue{pool: pool}
}

// Submit validates tasks' dependency graph for cycles, then runs every
// task, respecting DependsOn order; independent tasks run concurrently
// through the pool. Returns CyclicDependency if the graph has a cycle, or
// the first task error otherwise.
func (q *WorkQueue) Submit(ctx context.Context, tasks []Task) *hal.Error {
	byID := make(map[TaskID]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	if cyc := detectCycle(tasks); cyc {
		return hal.New(hal.ErrCyclicDependency, "work queue dependency graph contains a cycle")
	}

	done := make(map[TaskID]chan struct{}, len(tasks))
	for _, t := range tasks {
		done[t.ID] = make(chan struct{})
	}

	fns := make([]func(context.Context) error, 0, len(tasks))
	for _, t := range tasks {
		t := t
		fns = append(fns, func(ctx context.Context) error {
			for _, dep := range t.DependsOn {
				select {
				case <-done[dep]:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			err := t.Run(ctx)
			close(done[t.ID])
			return err
		})
	}

	if err := q.pool.Submit(ctx, fns...); err != nil {
		return hal.Wrap(hal.ErrInternalError, "work queue task failed", err)
	}
	return nil
}

// WorkPriority orders pending WorkItems within a WorkQueue; higher runs
// first among items that are otherwise ready at the same time.
type WorkPriority int

const (
	PriorityLow WorkPriority = iota
	PriorityNormal
	PriorityHigh
)

// WorkMode selects how a WorkItem is admitted, per §4.5's "Work queue"
// paragraph: Immediate, Deferred, Parallel, Sequential, Adaptive.
type WorkMode uint8

const (
	// Immediate runs on the calling SubmitWork goroutine, after its
	// DependsOn predecessors finish, before SubmitWork returns.
	Immediate WorkMode = iota
	// Deferred is queued and only runs when Drain is called, priority
	// order first, the cooperative-tick rendering of "deferred" work.
	Deferred
	// Parallel is admitted through the pool's semaphore and runs
	// concurrently with every other Parallel/Adaptive-as-Parallel item.
	Parallel
	// Sequential runs strictly after every previously submitted
	// Sequential (or Adaptive-as-Sequential) item, in submission order.
	Sequential
	// Adaptive is Parallel if the pool has a free admission slot at
	// submit time, Sequential otherwise - the work-queue analogue of
	// §4.6's Busy/Yield/Block Adaptive sleep strategy picking its
	// behavior from present load rather than a fixed mode.
	Adaptive
)

func (m WorkMode) String() string {
	switch m {
	case Deferred:
		return "Deferred"
	case Parallel:
		return "Parallel"
	case Sequential:
		return "Sequential"
	case Adaptive:
		return "Adaptive"
	default:
		return "Immediate"
	}
}

// WorkItem is one unit of prioritized, DAG-dependent work submitted to a
// WorkQueue via SubmitWork, per §4.5's "Work queue" paragraph.
type WorkItem struct {
	ID        TaskID
	DependsOn []TaskID
	Priority  WorkPriority
	Mode      WorkMode
	Run       func(context.Context) error
}

// WorkHandle identifies one submitted WorkItem, minted from the same
// generation-counted hal.Table allocator every other subsystem uses for
// handle identity, per §9's "raw pointers across APIs" redesign flag.
type WorkHandle = hal.Handle

// kindWork tags every handle SubmitWork mints.
const kindWork hal.Kind = 6

type workStatus uint8

const (
	workQueued workStatus = iota
	workRunning
	workDone
	workCancelled
)

// workRecord is the mutable state SubmitWork tracks per WorkItem, enough
// for Cancel to tell "not started yet" (succeeds silently) from "already
// running" (best-effort only) per §4.5's cancellation rule.
type workRecord struct {
	item   WorkItem
	status workStatus
	cancel context.CancelFunc
	err    error
}

// SubmitWork validates items' DependsOn graph for cycles (same check
// Submit uses), then admits each item per its Mode and returns one
// WorkHandle per item, in the same order. Each item runs at most once.
func (q *WorkQueue) SubmitWork(ctx context.Context, items []WorkItem) ([]WorkHandle, *hal.Error) {
	asTasks := make([]Task, len(items))
	for i, it := range items {
		asTasks[i] = Task{ID: it.ID, DependsOn: it.DependsOn}
	}
	if detectCycle(asTasks) {
		return nil, hal.New(hal.ErrCyclicDependency, "work queue dependency graph contains a cycle")
	}

	q.mu.Lock()
	if q.handles == nil {
		q.handles = hal.NewTable[*workRecord](kindWork)
	}
	if q.seqWake == nil {
		q.seqWake = make(chan struct{})
		close(q.seqWake) // sequential chain starts already "released"
	}

	handles := make([]WorkHandle, len(items))
	records := make(map[TaskID]*workRecord, len(items))
	done := make(map[TaskID]chan struct{}, len(items))
	for _, it := range items {
		done[it.ID] = make(chan struct{})
	}
	for i, it := range items {
		rec := &workRecord{item: it, status: workQueued}
		records[it.ID] = rec
		handles[i] = q.handles.Alloc(rec)
	}
	seqTail := q.seqWake
	q.mu.Unlock()

	sortedByPriority := append([]WorkItem(nil), items...)
	sort.SliceStable(sortedByPriority, func(i, j int) bool {
		return sortedByPriority[i].Priority > sortedByPriority[j].Priority
	})

	run := func(it WorkItem, rec *workRecord) {
		for _, dep := range it.DependsOn {
			<-done[dep]
		}
		itemCtx, cancel := context.WithCancel(ctx)
		q.mu.Lock()
		if rec.status == workCancelled {
			cancel()
			q.mu.Unlock()
			close(done[it.ID])
			return
		}
		rec.status = workRunning
		rec.cancel = cancel
		q.mu.Unlock()

		rec.err = it.Run(itemCtx)
		cancel()

		q.mu.Lock()
		rec.status = workDone
		q.mu.Unlock()
		close(done[it.ID])
	}

	scheduleSequential := func(it WorkItem, rec *workRecord) {
		prev := seqTail
		next := make(chan struct{})
		seqTail = next
		go func(prev, next chan struct{}) {
			<-prev
			run(it, rec)
			close(next)
		}(prev, next)
		q.mu.Lock()
		q.seqWake = seqTail
		q.mu.Unlock()
	}

	for _, it := range sortedByPriority {
		it := it
		rec := records[it.ID]
		switch it.Mode {
		case Immediate:
			run(it, rec)
		case Deferred:
			q.mu.Lock()
			q.deferred = append(q.deferred, deferredEntry{item: it, rec: rec, run: run})
			q.mu.Unlock()
		case Sequential:
			scheduleSequential(it, rec)
		case Parallel:
			go func() {
				if q.pool.sem.Acquire(ctx, 1) != nil {
					// Admission itself was cancelled: the item never ran, so
					// it resolves the same way a pre-start Cancel does.
					q.mu.Lock()
					rec.status = workCancelled
					q.mu.Unlock()
					close(done[it.ID])
					return
				}
				defer q.pool.sem.Release(1)
				run(it, rec)
			}()
		case Adaptive:
			if q.pool.sem.TryAcquire(1) {
				go func() { defer q.pool.sem.Release(1); run(it, rec) }()
			} else {
				scheduleSequential(it, rec)
			}
		}
	}

	return handles, nil
}

// Drain runs every still-queued Deferred item concurrently, waiting for
// all to finish. Priority only breaks ties in the order goroutines start;
// it cannot force a higher-priority item ahead of one it depends on.
// Nothing in this package calls it: Facade.Tick does not drain the
// queue, so Deferred items run only when a caller invokes Drain.
func (q *WorkQueue) Drain() {
	q.mu.Lock()
	pending := q.deferred
	q.deferred = nil
	q.mu.Unlock()

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].item.Priority > pending[j].item.Priority
	})
	var wg sync.WaitGroup
	wg.Add(len(pending))
	for _, d := range pending {
		d := d
		go func() {
			defer wg.Done()
			d.run(d.item, d.rec)
		}()
	}
	wg.Wait()
}

// Cancel cancels a submitted WorkItem. If it has not started, it is
// marked cancelled and never runs - the silent pre-start cancellation
// §4.5 requires. If it is already running, its context is cancelled as a
// best-effort signal; Run must observe ctx.Done() to actually stop.
func (q *WorkQueue) Cancel(h WorkHandle) *hal.Error {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, herr := q.handles.Deref(h)
	if herr != nil {
		return herr
	}
	switch rec.status {
	case workQueued:
		rec.status = workCancelled
	case workRunning:
		rec.cancel()
	}
	return nil
}

// Status reports a submitted WorkItem's current lifecycle state.
func (q *WorkQueue) Status(h WorkHandle) (queued, running, done, cancelled bool, herr *hal.Error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, herr := q.handles.Deref(h)
	if herr != nil {
		return false, false, false, false, herr
	}
	switch rec.status {
	case workQueued:
		return true, false, false, false, nil
	case workRunning:
		return false, true, false, false, nil
	case workCancelled:
		return false, false, false, true, nil
	default:
		return false, false, true, false, nil
	}
}

type deferredEntry struct {
	item WorkItem
	rec  *workRecord
	run  func(WorkItem, *workRecord)
}

// detectCycle runs an iterative DFS with a three-color mark (white/gray/
// black) over the DependsOn graph, per SPEC_FULL's "simple iterative DFS
// over the dependency graph" note.
func detectCycle(tasks []Task) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	byID := make(map[TaskID]Task, len(tasks))
	color := make(map[TaskID]int, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		color[t.ID] = white
	}

	type frame struct {
		id   TaskID
		next int
	}

	for _, start := range tasks {
		if color[start.ID] != white {
			continue
		}
		stack := []frame{{id: start.ID}}
		color[start.ID] = gray
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := byID[top.id].DependsOn
			if top.next < len(deps) {
				dep := deps[top.next]
				top.next++
				switch color[dep] {
				case white:
					color[dep] = gray
					stack = append(stack, frame{id: dep})
				case gray:
					return true
				}
				continue
			}
			color[top.id] = black
			stack = stack[:len(stack)-1]
		}
	}
	return false
}
