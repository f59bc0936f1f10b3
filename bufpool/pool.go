package bufpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/concurrency"
)

var errSlabOverflow = errors.New("bufpool: write exceeds slab capacity")

// sizeClasses are the power-of-two buffer sizes a Pool maintains separate
// free lists for; a request is rounded up to the smallest class that fits,
// the same bucketing scheme ZMTP framing uses for small control frames vs.
// large multi-megabyte payload frames.
var sizeClasses = [...]int{
	256,
	1024,
	4 * 1024,
	16 * 1024,
	64 * 1024,
	256 * 1024,
	1024 * 1024,
	4 * 1024 * 1024,
	16 * 1024 * 1024,
}

func classFor(size int) int {
	for i, c := range sizeClasses {
		if size <= c {
			return i
		}
	}
	return len(sizeClasses) - 1
}

// classPool is the free list for a single size class: a lock-free queue of
// previously-used backing arrays plus allocation counters for Stats.
type classPool struct {
	size       int
	freelist   *concurrency.LockFreeQueue[[]byte]
	allocated  atomic.Int64
	recycled   atomic.Int64
}

func newClassPool(size int) *classPool {
	return &classPool{size: size, freelist: concurrency.NewLockFreeQueue[[]byte](4096)}
}

func (cp *classPool) get() []byte {
	if buf, ok := cp.freelist.Dequeue(); ok {
		return buf[:0:cp.size]
	}
	cp.allocated.Add(1)
	return make([]byte, 0, cp.size)
}

func (cp *classPool) put(buf []byte) {
	if cp.freelist.Enqueue(buf) {
		cp.recycled.Add(1)
	}
	// Queue full: drop the buffer and let the GC reclaim it rather than
	// block the releasing goroutine.
}

// Stats reports coarse allocation counters for one size class.
type Stats struct {
	Size      int
	Allocated int64
	Recycled  int64
	InUse     int64
}

// Pool is a size-classed, lock-free slab allocator. A process normally
// shares one Pool (see Default) across every connection so idle
// connections' freed buffers are available to busy ones.
type Pool struct {
	mu      sync.RWMutex
	classes map[int]*classPool
}

// NewPool constructs an empty Pool; classes are created lazily on first use.
func NewPool() *Pool {
	return &Pool{classes: make(map[int]*classPool)}
}

func (p *Pool) classPoolFor(idx int) *classPool {
	p.mu.RLock()
	cp, ok := p.classes[idx]
	p.mu.RUnlock()
	if ok {
		return cp
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if cp, ok = p.classes[idx]; ok {
		return cp
	}
	cp = newClassPool(sizeClasses[idx])
	p.classes[idx] = cp
	return cp
}

// Alloc checks out a Slab with capacity at least capacity, rounded up to
// the nearest size class. This is the pool's one allocation entry point;
// every Slab in the system starts here.
func (p *Pool) Alloc(capacity int) Slab {
	idx := classFor(capacity)
	cp := p.classPoolFor(idx)
	buf := cp.get()
	return Slab{buf: buf[:cap(buf)], class: idx, pool: p}
}

// Read performs one kernel read into s's backing array and returns s by
// value alongside the number of bytes the stream produced, satisfying the
// linear-ownership contract of spec §4.1: s is consumed by value and handed
// back by value, so the caller never retains a stale handle across the
// read. ctx is honored only before the read begins — api.NetConn.Read has
// no cancellation hook of its own, matching the teacher's synchronous
// transport boundary.
func (p *Pool) Read(ctx context.Context, nc api.NetConn, s Slab) (Slab, int, error) {
	if err := ctx.Err(); err != nil {
		return s, 0, err
	}
	n, err := nc.Read(s.Mutable())
	return s, n, err
}

// release returns buf to its size class's free list. Invoked by Slab.Discard
// and ImmutableView.Release, never directly by callers.
func (p *Pool) release(buf []byte, classIdx int) {
	cp := p.classPoolFor(classIdx)
	cp.put(buf[:0])
}

// Stats returns a snapshot of every size class this Pool has allocated from.
func (p *Pool) Stats() []Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Stats, 0, len(p.classes))
	for _, cp := range p.classes {
		alloc := cp.allocated.Load()
		recy := cp.recycled.Load()
		out = append(out, Stats{Size: cp.size, Allocated: alloc, Recycled: recy, InUse: alloc - recy})
	}
	return out
}

var (
	defaultOnce sync.Once
	defaultPool *Pool
)

// Default returns the process-wide Pool, constructing it on first use so
// every socket in a process shares one set of free lists instead of
// fragmenting allocations per connection.
func Default() *Pool {
	defaultOnce.Do(func() {
		defaultPool = NewPool()
	})
	return defaultPool
}
