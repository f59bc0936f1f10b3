// Package registry tracks live peers by ZMTP identity: which connection
// currently owns an identity, and an epoch counter that lets a socket tell
// a stale reconnect attempt apart from the current one. It is adapted from
// the sharded session-table pattern used elsewhere in this codebase for
// high-concurrency per-connection state.
package registry

import (
	"hash/fnv"
	"sync"
)

// Peer is one registered identity's current connection handle and epoch.
type Peer struct {
	Identity string
	Epoch    uint64
	Handle   any // set by the engine to its *engine.Conn; kept untyped to avoid an import cycle
}

type shard struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// Table is a sharded, concurrent identity -> Peer map. ROUTER sockets use
// it to resolve send(identity, message) and ejg a peer's prior connection
// when a newer one claims the same identity.
type Table struct {
	shards []*shard
	mask   uint32
	epoch  struct {
		mu sync.Mutex
		n  uint64
	}
}

// NewTable constructs a Table with shardCount shards, rounded up to a
// power of two (default 16).
func NewTable(shardCount int) *Table {
	if shardCount <= 0 {
		shardCount = 16
	}
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard, m)
	for i := range shards {
		shards[i] = &shard{peers: make(map[string]*Peer)}
	}
	return &Table{shards: shards, mask: m - 1}
}

func (t *Table) shardFor(identity string) *shard {
	h := fnv.New32a()
	h.Write([]byte(identity))
	return t.shards[h.Sum32()&t.mask]
}

// NextEpoch returns a fresh, monotonically increasing epoch value for a
// newly established connection, used to detect races between a dying
// connection's cleanup and a reconnect under the same identity.
func (t *Table) NextEpoch() uint64 {
	t.epoch.mu.Lock()
	defer t.epoch.mu.Unlock()
	t.epoch.n++
	return t.epoch.n
}

// Register associates identity with handle at the given epoch, replacing
// (and returning) whatever peer previously held that identity.
func (t *Table) Register(identity string, epoch uint64, handle any) (previous *Peer) {
	sh := t.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	previous = sh.peers[identity]
	sh.peers[identity] = &Peer{Identity: identity, Epoch: epoch, Handle: handle}
	return previous
}

// Lookup returns the current peer for identity, if any.
func (t *Table) Lookup(identity string) (*Peer, bool) {
	sh := t.shardFor(identity)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	p, ok := sh.peers[identity]
	return p, ok
}

// Unregister removes identity's entry, but only if the entry's epoch still
// matches — a disconnect callback for an old connection must not evict a
// newer one that has already reclaimed the identity.
func (t *Table) Unregister(identity string, epoch uint64) {
	sh := t.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if p, ok := sh.peers[identity]; ok && p.Epoch == epoch {
		delete(sh.peers, identity)
	}
}

// Range applies fn to every registered peer across all shards.
func (t *Table) Range(fn func(*Peer)) {
	for _, sh := range t.shards {
		sh.mu.RLock()
		for _, p := range sh.peers {
			fn(p)
		}
		sh.mu.RUnlock()
	}
}

func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
