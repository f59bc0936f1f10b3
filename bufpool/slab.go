package bufpool

import "fmt"

// Slab is a mutable, exclusively-owned byte buffer checked out of a Pool.
// It has linear ownership: exactly one goroutine may hold and mutate it,
// and it must be consumed exactly once, either by Freeze (handing the bytes
// off as a shared, immutable view) or by Discard (returning it to the pool
// unused). Using a Slab after it has been consumed panics rather than
// silently corrupting a concurrently-shared view.
type Slab struct {
	buf      []byte
	class    int
	pool     *Pool
	consumed bool
}

// Mutable returns the full-capacity backing slice for writing. Panics if
// the slab has already been frozen or discarded.
func (s *Slab) Mutable() []byte {
	s.checkLive()
	return s.buf
}

// Cap reports the slab's size class (its full backing-array length).
func (s *Slab) Cap() int {
	return cap(s.buf)
}

// Discard returns an unused slab to its pool without producing a view. Safe
// to call on a zero-value Slab (no-op).
func (s *Slab) Discard() {
	if s.pool == nil || s.consumed {
		return
	}
	s.consumed = true
	s.pool.release(s.buf, s.class)
}

func (s *Slab) checkLive() {
	if s.consumed {
		panic(fmt.Sprintf("bufpool: use of consumed slab (class=%d)", s.class))
	}
}

// Freeze consumes s and returns a refcounted, read-only view bounded to
// s.Mutable()[:n]. After Freeze returns, s must not be used again; ownership
// of the backing array has passed to the returned ImmutableView (refcount
// starts at 1) and, transitively, to whoever the view is shared with via
// Retain.
func Freeze(s *Slab, n int) ImmutableView {
	s.checkLive()
	if n < 0 || n > cap(s.buf) {
		panic("bufpool: Freeze length out of range")
	}
	s.consumed = true
	rc := new(refcount)
	rc.n.Store(1)
	return ImmutableView{
		buf:   s.buf[:n:cap(s.buf)],
		class: s.class,
		pool:  s.pool,
		rc:    rc,
	}
}
