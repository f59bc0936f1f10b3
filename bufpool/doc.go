// Package bufpool implements linear-ownership buffer management: a Slab is
// a mutable, exclusively-owned byte buffer checked out of a size-classed
// free list; Freeze consumes a Slab by value and produces a refcounted
// ImmutableView that can be shared across goroutines (the PUB fanout layer,
// the connection engine's send queue) without copying the payload.
package bufpool
