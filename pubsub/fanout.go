// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pubsub

import (
	"runtime"
	"sync"
	"time"

	"github.com/monocoque/monocoque/bufpool"
)

// DefaultMailboxCapacity bounds how many pending deliveries a subscriber's
// worker will queue before the sender considers it backed up; actual
// blocking is bounded by SendTimeout, not by this capacity alone.
const DefaultMailboxCapacity = 256

// DefaultSendTimeout is the per-subscriber delivery deadline; a subscriber
// slower than this is poisoned rather than left to stall the fanout.
const DefaultSendTimeout = 5 * time.Second

// Deliverer is the fanout's view of a subscriber connection: Deliver
// attempts to hand frames to the connection's send path, and Poison marks
// it permanently broken after a delivery timeout.
type Deliverer interface {
	Deliver(frames []bufpool.ImmutableView) error
	Poison()
}

type mailbox struct {
	id    SubscriberID
	ch    chan []bufpool.ImmutableView
	peer  Deliverer
	epoch uint64
}

// Worker owns one shard of subscribers and their Index. Callers reach a
// Worker from whatever goroutine the socket layer runs on (accept loop,
// SUBSCRIBE handler, publisher), not only from the worker's own drain
// goroutines, so index and mailboxes are guarded by mu rather than assumed
// single-threaded.
type Worker struct {
	mu        sync.RWMutex
	index     *Index
	mailboxes map[SubscriberID]*mailbox
	sendTO    time.Duration
	wg        sync.WaitGroup
}

func newWorker(sendTimeout time.Duration) *Worker {
	return &Worker{
		index:     NewIndex(),
		mailboxes: make(map[SubscriberID]*mailbox),
		sendTO:    sendTimeout,
	}
}

// Fanout runs N workers (default runtime.NumCPU()), assigns subscribers to
// them round-robin, and broadcasts a published message to every worker so
// each can match against its own shard of the subscription index.
type Fanout struct {
	workers []*Worker
	next    int
	mu      sync.Mutex
}

// NewFanout constructs a Fanout with numWorkers workers (<=0 defaults to
// runtime.NumCPU()) and the given per-subscriber send timeout (<=0 uses
// DefaultSendTimeout).
func NewFanout(numWorkers int, sendTimeout time.Duration) *Fanout {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	f := &Fanout{workers: make([]*Worker, numWorkers)}
	for i := range f.workers {
		f.workers[i] = newWorker(sendTimeout)
	}
	return f
}

// AddSubscriber assigns a newly accepted connection to a worker shard
// round-robin and starts its delivery goroutine.
func (f *Fanout) AddSubscriber(id SubscriberID, epoch uint64, peer Deliverer) {
	f.mu.Lock()
	w := f.workers[f.next%len(f.workers)]
	f.next++
	f.mu.Unlock()

	mb := &mailbox{id: id, ch: make(chan []bufpool.ImmutableView, DefaultMailboxCapacity), peer: peer, epoch: epoch}
	w.mu.Lock()
	w.mailboxes[id] = mb
	w.mu.Unlock()
	w.wg.Add(1)
	go w.drain(mb)
}

// RemoveSubscriber evicts a subscriber from whichever worker holds it and
// stops its delivery goroutine.
func (f *Fanout) RemoveSubscriber(id SubscriberID) {
	for _, w := range f.workers {
		w.mu.Lock()
		mb, ok := w.mailboxes[id]
		if ok {
			delete(w.mailboxes, id)
			w.index.RemoveSubscriber(id)
		}
		w.mu.Unlock()
		if ok {
			close(mb.ch)
			return
		}
	}
}

// Subscribe records prefix for subscriber id, ignoring events whose epoch
// is older than the subscriber's current registration (a stale reconnect
// race).
func (f *Fanout) Subscribe(id SubscriberID, epoch uint64, prefix string) {
	if w, mbEpoch, ok := f.ownerOf(id); ok && mbEpoch <= epoch {
		w.mu.Lock()
		w.index.Subscribe(prefix, id)
		w.mu.Unlock()
	}
}

// Unsubscribe removes prefix for subscriber id, with the same epoch guard
// as Subscribe.
func (f *Fanout) Unsubscribe(id SubscriberID, epoch uint64, prefix string) {
	if w, mbEpoch, ok := f.ownerOf(id); ok && mbEpoch <= epoch {
		w.mu.Lock()
		w.index.Unsubscribe(prefix, id)
		w.mu.Unlock()
	}
}

func (f *Fanout) ownerOf(id SubscriberID) (w *Worker, epoch uint64, ok bool) {
	for _, w := range f.workers {
		w.mu.RLock()
		mb, found := w.mailboxes[id]
		if found {
			epoch = mb.epoch
		}
		w.mu.RUnlock()
		if found {
			return w, epoch, true
		}
	}
	return nil, 0, false
}

// Broadcast matches topic against every worker's index and enqueues a
// Retain()ed clone of frames to each matching subscriber's mailbox. Each
// view's refcount is incremented once per delivered subscriber; the
// caller's own reference should be Released after Broadcast returns.
func (f *Fanout) Broadcast(topic string, frames []bufpool.ImmutableView) {
	for _, w := range f.workers {
		w.mu.RLock()
		hits := w.index.Match(topic)
		targets := make([]*mailbox, 0, len(hits))
		for _, id := range hits {
			if mb, ok := w.mailboxes[id]; ok {
				targets = append(targets, mb)
			}
		}
		w.mu.RUnlock()

		for _, mb := range targets {
			clone := make([]bufpool.ImmutableView, len(frames))
			for i, v := range frames {
				clone[i] = v.Retain()
			}
			select {
			case mb.ch <- clone:
			default:
				// Mailbox full: drop this delivery's references rather
				// than block the broadcaster; the subscriber's own drain
				// loop will poison it on its next timeout if it's truly
				// stuck.
				for _, v := range clone {
					v.Release()
				}
			}
		}
	}
}

func (w *Worker) drain(mb *mailbox) {
	defer w.wg.Done()
	for frames := range mb.ch {
		done := make(chan error, 1)
		go func(frames []bufpool.ImmutableView) {
			err := mb.peer.Deliver(frames)
			for _, v := range frames {
				v.Release()
			}
			done <- err
		}(frames)
		select {
		case <-done:
		case <-time.After(w.sendTO):
			mb.peer.Poison()
			// The delivery goroutine still owns frames and releases them
			// itself once Deliver returns; we must not touch them here.
		}
	}
}
