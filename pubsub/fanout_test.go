package pubsub

import (
	"sync"
	"testing"
	"time"

	"github.com/monocoque/monocoque/bufpool"
)

type fakeDeliverer struct {
	mu       sync.Mutex
	received [][]bufpool.ImmutableView
	poisoned bool
	delay    time.Duration
}

func (f *fakeDeliverer) Deliver(frames []bufpool.ImmutableView) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.received = append(f.received, frames)
	f.mu.Unlock()
	return nil
}

func (f *fakeDeliverer) Poison() {
	f.mu.Lock()
	f.poisoned = true
	f.mu.Unlock()
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func (f *fakeDeliverer) isPoisoned() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.poisoned
}

func frameOf(t *testing.T, payload string) bufpool.ImmutableView {
	t.Helper()
	slab := bufpool.Default().Alloc(len(payload))
	n := copy(slab.Mutable(), payload)
	return bufpool.Freeze(&slab, n)
}

func TestFanoutBroadcastDeliversToMatchingSubscriber(t *testing.T) {
	f := NewFanout(2, time.Second)
	d := &fakeDeliverer{}
	f.AddSubscriber(1, 1, d)
	f.Subscribe(1, 1, "topic.")

	view := frameOf(t, "hello")
	f.Broadcast("topic.a", []bufpool.ImmutableView{view})
	view.Release()

	deadline := time.Now().Add(time.Second)
	for d.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if d.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", d.count())
	}
}

func TestFanoutDoesNotDeliverToNonMatchingSubscriber(t *testing.T) {
	f := NewFanout(1, time.Second)
	d := &fakeDeliverer{}
	f.AddSubscriber(1, 1, d)
	f.Subscribe(1, 1, "other.")

	view := frameOf(t, "hello")
	f.Broadcast("topic.a", []bufpool.ImmutableView{view})
	view.Release()

	time.Sleep(10 * time.Millisecond)
	if d.count() != 0 {
		t.Fatalf("expected 0 deliveries, got %d", d.count())
	}
}

func TestFanoutPoisonsSlowSubscriberOnTimeout(t *testing.T) {
	f := NewFanout(1, 10*time.Millisecond)
	d := &fakeDeliverer{delay: 200 * time.Millisecond}
	f.AddSubscriber(1, 1, d)
	f.Subscribe(1, 1, "")

	view := frameOf(t, "hello")
	f.Broadcast("anything", []bufpool.ImmutableView{view})
	view.Release()

	deadline := time.Now().Add(time.Second)
	for !d.isPoisoned() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !d.isPoisoned() {
		t.Fatal("expected slow subscriber to be poisoned")
	}
}

func TestFanoutStaleEpochSubscribeIsIgnored(t *testing.T) {
	f := NewFanout(1, time.Second)
	d := &fakeDeliverer{}
	f.AddSubscriber(1, 5, d)
	f.Subscribe(1, 3, "topic.") // epoch 3 < registered epoch 5: stale, ignored

	view := frameOf(t, "hello")
	f.Broadcast("topic.a", []bufpool.ImmutableView{view})
	view.Release()

	time.Sleep(10 * time.Millisecond)
	if d.count() != 0 {
		t.Fatalf("expected stale subscribe to be ignored, got %d deliveries", d.count())
	}
}

func TestFanoutRemoveSubscriberStopsDelivery(t *testing.T) {
	f := NewFanout(1, time.Second)
	d := &fakeDeliverer{}
	f.AddSubscriber(1, 1, d)
	f.Subscribe(1, 1, "")
	f.RemoveSubscriber(1)

	view := frameOf(t, "hello")
	f.Broadcast("anything", []bufpool.ImmutableView{view})
	view.Release()

	time.Sleep(10 * time.Millisecond)
	if d.count() != 0 {
		t.Fatalf("expected no delivery after removal, got %d", d.count())
	}
}
