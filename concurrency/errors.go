// Package concurrency provides the lock-free queue, ring buffer, and worker
// pool primitives shared by the buffer pool, the fanout layer, and the
// connection engine.
package concurrency

import "errors"

var (
	// ErrExecutorClosed indicates the executor has been shut down.
	ErrExecutorClosed = errors.New("executor is closed")

	// ErrInvalidWorkerCount indicates an invalid worker count configuration.
	ErrInvalidWorkerCount = errors.New("invalid worker count")
)
