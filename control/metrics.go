// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector: a thread-safe map of gauge/counter values a
// socket or connection reports under a dotted key, exported to Prometheus
// by metrics.Collector. The canonical key names below match the counters
// the teacher's dashboards expect for a hioload-style transport, adapted
// to ZMTP sockets: handshake outcomes, reconnect churn, and per-pattern
// queue depth.

package control

import (
	"fmt"
	"sync"
	"time"

	"github.com/monocoque/monocoque/api"
)

// Canonical metric key prefixes. A caller appends the socket type, e.g.
// MetricHandshakeFailures(api.SocketRouter) -> "socket.ROUTER.handshake_failures_total".
const (
	metricHandshakeFailures = "handshake_failures_total"
	metricReconnectAttempts = "reconnect_attempts_total"
	metricQueueDepth        = "queue_depth"
)

// MetricHandshakeFailures, MetricReconnectAttempts, and MetricQueueDepth
// namespace a counter under "socket.<type>." so metrics from a ROUTER and
// a DEALER in the same process never collide in one MetricsRegistry.
func MetricHandshakeFailures(t api.SocketType) string { return socketMetricKey(t, metricHandshakeFailures) }
func MetricReconnectAttempts(t api.SocketType) string { return socketMetricKey(t, metricReconnectAttempts) }
func MetricQueueDepth(t api.SocketType) string        { return socketMetricKey(t, metricQueueDepth) }

func socketMetricKey(t api.SocketType, name string) string {
	return fmt.Sprintf("socket.%s.%s", t, name)
}

// MetricsRegistry holds mutable and read-only metrics.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]any),
	}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Incr adds delta to the counter at key, initializing it at delta if unset.
// Counters reported via Incr are int64; mixing Set and Incr on the same key
// is the caller's responsibility to avoid.
func (mr *MetricsRegistry) Incr(key string, delta int64) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	cur, _ := mr.metrics[key].(int64)
	mr.metrics[key] = cur + delta
	mr.updated = time.Now()
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}
