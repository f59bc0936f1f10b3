package bufpool

// Batch is a zero-alloc, single-goroutine accumulator of ImmutableViews,
// used by engine.Conn.Flush to hand a connection's queued messages to I/O
// as one unit without copying any payload.
type Batch struct {
	views []ImmutableView
}

// NewBatch allocates a batch with the given initial capacity.
func NewBatch(capacity int) *Batch {
	return &Batch{views: make([]ImmutableView, 0, capacity)}
}

// Append adds a view to the batch. The batch takes no implicit reference;
// callers that want the batch to own a reference must Retain before
// Append and Release after the batch is consumed.
func (b *Batch) Append(v ImmutableView) {
	b.views = append(b.views, v)
}

// Len reports the number of frames in the batch.
func (b *Batch) Len() int { return len(b.views) }

// At returns the i-th view.
func (b *Batch) At(i int) ImmutableView { return b.views[i] }

// Underlying exposes the raw slice for vectored I/O (net.Buffers-style
// writes).
func (b *Batch) Underlying() []ImmutableView { return b.views }

// ReleaseAll releases every view in the batch and empties it.
func (b *Batch) ReleaseAll() {
	for _, v := range b.views {
		v.Release()
	}
	b.views = b.views[:0]
}

// Reset clears the batch without releasing references, retaining capacity.
func (b *Batch) Reset() {
	b.views = b.views[:0]
}
