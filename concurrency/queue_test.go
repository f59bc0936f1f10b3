package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestLockFreeQueueMPMC(t *testing.T) {
	q := NewLockFreeQueue[int](1024)
	producers, consumers, itemsPerProducer := 8, 8, 5000
	total := int64(producers * itemsPerProducer)

	var wg sync.WaitGroup
	var sentSum, receivedSum, receivedCount int64

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				v := pid*itemsPerProducer + i + 1
				for !q.Enqueue(v) {
					runtime.Gosched()
				}
				atomic.AddInt64(&sentSum, int64(v))
			}
		}(p)
	}

	var cwg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				if v, ok := q.Dequeue(); ok {
					atomic.AddInt64(&receivedSum, int64(v))
					if atomic.AddInt64(&receivedCount, 1) == total {
						return
					}
				} else if atomic.LoadInt64(&receivedCount) >= total {
					return
				} else {
					runtime.Gosched()
				}
			}
		}()
	}

	wg.Wait()
	cwg.Wait()
	if sentSum != receivedSum {
		t.Fatalf("checksum mismatch: sent %d received %d", sentSum, receivedSum)
	}
}

func TestExecutorSubmitRuns(t *testing.T) {
	e := NewExecutor(4)
	defer e.Close()

	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		if err := e.Submit(func() {
			n.Add(1)
			wg.Done()
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	wg.Wait()
	if n.Load() != 1000 {
		t.Fatalf("expected 1000 executions, got %d", n.Load())
	}
}

func TestExecutorResize(t *testing.T) {
	e := NewExecutor(2)
	defer e.Close()
	e.Resize(4)
	if e.NumWorkers() != 4 {
		t.Fatalf("expected 4 workers, got %d", e.NumWorkers())
	}
	e.Resize(1)
	if e.NumWorkers() != 1 {
		t.Fatalf("expected 1 worker, got %d", e.NumWorkers())
	}
}

func TestExecutorRejectsAfterClose(t *testing.T) {
	e := NewExecutor(1)
	e.Close()
	if err := e.Submit(func() {}); err != ErrExecutorClosed {
		t.Fatalf("expected ErrExecutorClosed, got %v", err)
	}
}
