package bufpool

import "testing"

func TestFreezeAndRelease(t *testing.T) {
	p := NewPool()
	slab := p.Alloc(128)
	copy(slab.Mutable(), []byte("hello"))
	view := Freeze(&slab, 5)
	if string(view.Bytes()) != "hello" {
		t.Fatalf("got %q", view.Bytes())
	}
	view.Release()
}

func TestRetainSharesBackingArray(t *testing.T) {
	p := NewPool()
	slab := p.Alloc(64)
	copy(slab.Mutable(), []byte("payload"))
	view := Freeze(&slab, 7)

	clone := view.Retain()
	if string(clone.Bytes()) != "payload" {
		t.Fatalf("retained view diverged: %q", clone.Bytes())
	}

	// Releasing both references should not panic or double-return the
	// buffer to a zero-refcount pool.
	view.Release()
	clone.Release()
}

func TestFreezeConsumesSlab(t *testing.T) {
	p := NewPool()
	slab := p.Alloc(32)
	_ = Freeze(&slab, 0)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic reusing a consumed slab")
		}
	}()
	slab.Mutable()
}

func TestPoolRecyclesBuffers(t *testing.T) {
	p := NewPool()
	slab := p.Alloc(512)
	view := Freeze(&slab, 16)
	view.Release()

	again := p.Alloc(512)
	again.Discard()

	stats := p.Stats()
	var found bool
	for _, s := range stats {
		if s.Size == sizeClasses[classFor(512)] {
			found = true
			if s.Recycled == 0 {
				t.Fatalf("expected at least one recycled buffer, got %+v", s)
			}
		}
	}
	if !found {
		t.Fatal("no stats entry for the 512-byte size class")
	}
}

func TestEncoderOverflow(t *testing.T) {
	p := NewPool()
	slab := p.Alloc(8) // rounded up to the smallest size class
	capacity := slab.Cap()
	enc := NewEncoder(slab)
	if _, err := enc.Write(make([]byte, capacity)); err != nil {
		t.Fatalf("unexpected error filling capacity: %v", err)
	}
	if _, err := enc.Write([]byte("x")); err == nil {
		t.Fatal("expected overflow error")
	}
	view := enc.Freeze()
	defer view.Release()
	if view.Len() != capacity {
		t.Fatalf("expected frozen length %d, got %d", capacity, view.Len())
	}
}

func TestWrapWritesFrozenView(t *testing.T) {
	p := NewPool()
	slab := p.Alloc(16)
	copy(slab.Mutable(), []byte("framed-payload"))
	view := Freeze(&slab, len("framed-payload"))

	wv := Wrap(view)
	if string(wv.Bytes()) != "framed-payload" {
		t.Fatalf("got %q", wv.Bytes())
	}
	if wv.Len() != len("framed-payload") {
		t.Fatalf("expected len %d, got %d", len("framed-payload"), wv.Len())
	}
	wv.Release()
}

func TestDefaultPoolIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Fatal("Default() should return the same process-wide Pool")
	}
}
