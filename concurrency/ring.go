package concurrency

import "github.com/monocoque/monocoque/api"

// Ring adapts LockFreeQueue to the api.Ring[T] interface.
type Ring[T any] struct {
	*LockFreeQueue[T]
}

// NewRing allocates a ring of the given power-of-two capacity.
func NewRing[T any](capacity int) *Ring[T] {
	return &Ring[T]{LockFreeQueue: NewLockFreeQueue[T](capacity)}
}

var _ api.Ring[any] = (*Ring[any])(nil)
