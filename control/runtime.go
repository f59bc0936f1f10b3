// control/runtime.go
//
// Runtime composes ConfigStore, MetricsRegistry, and DebugProbes behind
// the single api.Control surface a composition root hands to callers that
// only need one handle for config, stats, and debug probes.

package control

import (
	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/socket"
)

// Runtime bundles the three operator-facing stores behind api.Control.
type Runtime struct {
	Config  *ConfigStore
	Metrics *MetricsRegistry
	Debug   *DebugProbes
}

// NewRuntime constructs a Runtime with fresh, empty stores.
func NewRuntime() *Runtime {
	return &Runtime{
		Config:  NewConfigStore(),
		Metrics: NewMetricsRegistry(),
		Debug:   NewDebugProbes(),
	}
}

func (r *Runtime) GetConfig() map[string]any { return r.Config.GetSnapshot() }

func (r *Runtime) SetConfig(cfg map[string]any) error {
	r.Config.SetConfig(cfg)
	return nil
}

func (r *Runtime) Stats() map[string]any { return r.Metrics.GetSnapshot() }

func (r *Runtime) OnReload(fn func()) { r.Config.OnReload(fn) }

// SocketOptions builds a socket.Options from the current config snapshot;
// see ConfigStore.SocketOptions.
func (r *Runtime) SocketOptions() socket.Options { return r.Config.SocketOptions() }

func (r *Runtime) RegisterDebugProbe(name string, fn func() any) { r.Debug.RegisterProbe(name, fn) }

// GetDebug exposes the underlying probe registry as api.Debug, matching
// the teacher's control.(interface{ GetDebug() api.Debug }) escape hatch.
func (r *Runtime) GetDebug() api.Debug { return r.Debug }

var (
	_ api.Control = (*Runtime)(nil)
	_ api.Debug   = (*DebugProbes)(nil)
)
