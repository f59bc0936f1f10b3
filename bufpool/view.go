package bufpool

import "sync/atomic"

// refcount is split out of ImmutableView so that copying the view (passing
// it by value to a subscriber mailbox, appending it to a batch) shares the
// same counter instead of each copy tracking its own.
type refcount struct {
	n atomic.Int32
}

// ImmutableView is a read-only, refcounted window over a frozen Slab's
// backing array. Cloning a view with Retain is the zero-copy fanout
// primitive: PUB delivering the same payload to a thousand subscribers
// increments one counter instead of copying the frame a thousand times.
// The final Release returns the backing array to its origin Pool.
type ImmutableView struct {
	buf   []byte
	class int
	pool  *Pool
	rc    *refcount
}

// Bytes returns the frozen payload. Callers must not mutate the returned
// slice.
func (v ImmutableView) Bytes() []byte { return v.buf }

// Len reports the frozen payload length (not the backing capacity).
func (v ImmutableView) Len() int { return len(v.buf) }

// Retain increments the view's refcount and returns a copy sharing the same
// backing array and counter. Call Release exactly once per Retain (and once
// for the original) when the view is no longer needed.
func (v ImmutableView) Retain() ImmutableView {
	v.rc.n.Add(1)
	return v
}

// Release decrements the refcount; once it reaches zero the backing array
// is returned to its pool. Calling Release more times than the view was
// retained is a double-free and will under-count in-flight consumers, so
// callers must pair every Retain (including the implicit first reference
// from Freeze) with exactly one Release.
func (v ImmutableView) Release() {
	if v.pool == nil {
		return
	}
	if v.rc.n.Add(-1) == 0 {
		v.pool.release(v.buf[:0:cap(v.buf)], v.class)
	}
}

// Slice returns a zero-copy sub-view [start:end) sharing the same refcount
// as v; it does not itself change the refcount, so it must not outlive v's
// last Release.
func (v ImmutableView) Slice(start, end int) ImmutableView {
	v.buf = v.buf[start:end]
	return v
}

// Encoder accumulates bytes into a mutable Slab up to its capacity, then
// finalizes into an ImmutableView. It is the staging area the framing codec
// writes an encoded frame's header and payload into before handing it to
// the connection engine's send path.
type Encoder struct {
	slab Slab
	n    int
}

// NewEncoder wraps a freshly checked-out slab for incremental writes.
func NewEncoder(slab Slab) *Encoder {
	return &Encoder{slab: slab}
}

// Write appends p, returning an error if it would overflow the slab's
// capacity. Satisfies io.Writer.
func (e *Encoder) Write(p []byte) (int, error) {
	dst := e.slab.Mutable()
	if e.n+len(p) > len(dst) {
		return 0, errSlabOverflow
	}
	copy(dst[e.n:], p)
	e.n += len(p)
	return len(p), nil
}

// Len reports bytes written so far.
func (e *Encoder) Len() int { return e.n }

// Freeze finalizes the accumulated bytes into a shareable ImmutableView.
func (e *Encoder) Freeze() ImmutableView {
	return Freeze(&e.slab, e.n)
}

// Discard abandons the write, returning the slab unused.
func (e *Encoder) Discard() { e.slab.Discard() }

// WriteView wraps an already-frozen ImmutableView for the connection
// engine's write path: Bytes hands the ring a zero-copy slice to write
// directly to the stream, and Release returns the backing slab to its pool
// once the write completes (or is abandoned), satisfying the ring's
// ownership-passing contract for writes without copying the payload.
type WriteView struct {
	view ImmutableView
}

// Wrap adapts a frozen ImmutableView into a WriteView.
func Wrap(v ImmutableView) *WriteView {
	return &WriteView{view: v}
}

// Bytes returns the payload to write. Callers must not mutate it.
func (w *WriteView) Bytes() []byte { return w.view.Bytes() }

// Len reports the payload length.
func (w *WriteView) Len() int { return w.view.Len() }

// Release returns the backing slab to its pool.
func (w *WriteView) Release() { w.view.Release() }
