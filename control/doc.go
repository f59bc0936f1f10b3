// Package control holds the operator-facing surface around a socket:
// dynamic configuration, runtime metrics, hot-reload hooks, and debug
// probes. None of it sits on the hot path; sockets read it at
// construction and write counters into it as they run.
//
// Provides concurrent-safe state handling primitives including:
//   - Immutable snapshot config reads and atomic updates
//   - Runtime observers for hot-reload
//   - Metrics telemetry contracts
//   - State export, debug hooks, and probe registration
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
