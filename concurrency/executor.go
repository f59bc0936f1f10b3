// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"runtime"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/monocoque/monocoque/api"
)

// TaskFunc is a unit of work submitted to an Executor.
type TaskFunc func()

// Executor dispatches tasks across a resizable pool of worker goroutines.
// Each worker drains its own lock-free local queue first; a task whose
// chosen local queue is momentarily full spills into a shared overflow
// queue guarded by a mutex, so the rare contended path degrades to a normal
// lock instead of silently failing the submit.
type Executor struct {
	mu       sync.Mutex
	overflow *queue.Queue
	overflowNotEmpty *sync.Cond

	localQueues []*LockFreeQueue[TaskFunc]
	workers     []*worker

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup

	resizeMu sync.Mutex
}

// NewExecutor starts an Executor with numWorkers goroutines, defaulting to
// runtime.NumCPU() when numWorkers <= 0.
func NewExecutor(numWorkers int) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		overflow: queue.New(),
		closeCh:  make(chan struct{}),
	}
	e.overflowNotEmpty = sync.NewCond(&e.mu)
	e.localQueues = make([]*LockFreeQueue[TaskFunc], numWorkers)
	e.workers = make([]*worker, numWorkers)
	for i := 0; i < numWorkers; i++ {
		e.localQueues[i] = NewLockFreeQueue[TaskFunc](1024)
	}
	for i := 0; i < numWorkers; i++ {
		w := &worker{id: i, executor: e, localQueue: e.localQueues[i], stopCh: make(chan struct{}), stoppedCh: make(chan struct{})}
		e.workers[i] = w
		e.wg.Add(1)
		go w.run(&e.wg)
	}
	return e
}

// Submit schedules task on one worker's local queue, picked from the
// current time, spilling to the mutex-guarded overflow queue when that
// queue is momentarily full.
func (e *Executor) Submit(task func()) error {
	if e.isClosed() {
		return ErrExecutorClosed
	}
	idx := int(time.Now().UnixNano()) % len(e.localQueues)
	if e.localQueues[idx].Enqueue(TaskFunc(task)) {
		return nil
	}
	e.mu.Lock()
	e.overflow.Add(TaskFunc(task))
	e.overflowNotEmpty.Signal()
	e.mu.Unlock()
	return nil
}

func (e *Executor) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Executor) popOverflow() (TaskFunc, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.overflow.Length() == 0 {
		return nil, false
	}
	item := e.overflow.Remove()
	task, ok := item.(TaskFunc)
	return task, ok
}

// NumWorkers returns the current worker count.
func (e *Executor) NumWorkers() int {
	e.resizeMu.Lock()
	defer e.resizeMu.Unlock()
	return len(e.workers)
}

// Resize scales the worker pool up or down, waiting for removed workers to
// fully drain and exit before returning.
func (e *Executor) Resize(newCount int) {
	if newCount <= 0 {
		newCount = 1
	}
	e.resizeMu.Lock()
	defer e.resizeMu.Unlock()

	current := len(e.workers)
	if newCount > current {
		for i := current; i < newCount; i++ {
			q := NewLockFreeQueue[TaskFunc](1024)
			e.localQueues = append(e.localQueues, q)
			w := &worker{id: i, executor: e, localQueue: q, stopCh: make(chan struct{}), stoppedCh: make(chan struct{})}
			e.workers = append(e.workers, w)
			e.wg.Add(1)
			go w.run(&e.wg)
		}
		return
	}
	if newCount < current {
		for i := newCount; i < current; i++ {
			close(e.workers[i].stopCh)
		}
		for i := newCount; i < current; i++ {
			<-e.workers[i].stoppedCh
		}
		e.workers = e.workers[:newCount]
		e.localQueues = e.localQueues[:newCount]
	}
}

// Close stops all workers and waits for them to exit.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.overflowNotEmpty.Broadcast()
	e.mu.Unlock()

	close(e.closeCh)
	e.resizeMu.Lock()
	for _, w := range e.workers {
		close(w.stopCh)
	}
	e.resizeMu.Unlock()
	e.wg.Wait()
	return nil
}

var (
	_ api.Executor        = (*Executor)(nil)
	_ api.GracefulShutdown = (*Executor)(nil)
)

type worker struct {
	id         int
	executor   *Executor
	localQueue *LockFreeQueue[TaskFunc]
	stopCh     chan struct{}
	stoppedCh  chan struct{}
}

func (w *worker) run(wg *sync.WaitGroup) {
	defer func() {
		for {
			task, ok := w.localQueue.Dequeue()
			if !ok {
				break
			}
			w.safeExecute(task)
		}
		wg.Done()
		close(w.stoppedCh)
	}()
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}
		if task, ok := w.localQueue.Dequeue(); ok {
			w.safeExecute(task)
			continue
		}
		if task, ok := w.executor.popOverflow(); ok {
			w.safeExecute(task)
			continue
		}
		select {
		case <-w.stopCh:
			return
		case <-time.After(time.Millisecond):
		}
	}
}

func (w *worker) safeExecute(task TaskFunc) {
	defer func() { recover() }()
	task()
}
