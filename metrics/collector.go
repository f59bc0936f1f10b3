// Package metrics exposes a control.MetricsRegistry snapshot as Prometheus
// gauges, an optional collector that lives outside the kernel — sockets
// write into the registry; nothing in the kernel imports this package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/monocoque/monocoque/control"
)

// Collector adapts a *control.MetricsRegistry snapshot to the Prometheus
// collector interface: each numeric entry in the snapshot becomes a sample
// of the gauge monocoque_metric labelled key="<key>", with non-numeric
// entries skipped.
type Collector struct {
	registry *control.MetricsRegistry
	desc     *prometheus.Desc
}

// NewCollector wraps registry for Prometheus registration.
func NewCollector(registry *control.MetricsRegistry) *Collector {
	return &Collector{
		registry: registry,
		desc:     prometheus.NewDesc("monocoque_metric", "A Monocoque runtime metric.", []string{"key"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for key, value := range c.registry.GetSnapshot() {
		f, ok := asFloat(value)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, f, key)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
