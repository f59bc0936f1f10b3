// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Dynamic socket configuration: a thread-safe map of the recognized
// Options keys (send_hwm, recv_hwm, tcp_nodelay, req_relaxed,
// req_correlate, router_mandatory, router_handover, xpub_verbose,
// identity, ...) that a deployment can override at runtime without
// restarting the process, plus hot-reload propagation to whatever holds
// a live socket.Options built from it.

package control

import (
	"sync"
	"time"

	"github.com/monocoque/monocoque/socket"
)

// ConfigStore is a dynamic key/value map of socket.Options overrides, with
// atomic snapshot and reload-listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config:    make(map[string]any),
		listeners: make([]func(), 0),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	copy := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		copy[k] = v
	}
	return copy
}

// SetConfig merges new values and dispatches reload to both local listeners
// and the process-wide hot-reload hooks registered via RegisterReloadHook.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	cs.mu.Unlock()
	cs.dispatchReload()
	TriggerHotReload()
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// dispatchReload invokes all listeners.
func (cs *ConfigStore) dispatchReload() {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	for _, fn := range cs.listeners {
		go fn()
	}
}

// SocketOptions builds a socket.Options from the recognized keys present in
// the current snapshot, leaving every field socket.Options.withDefaults
// would otherwise fill in at its zero value. A process typically calls this
// once per new socket rather than caching the result, so a config reload
// between sockets takes effect without restarting anything.
func (cs *ConfigStore) SocketOptions() socket.Options {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	var o socket.Options
	if v, ok := cs.config["identity"].([]byte); ok {
		o.Identity = v
	}
	if v, ok := cs.config["send_hwm"].(int); ok {
		o.SendHWM = v
	}
	if v, ok := cs.config["recv_hwm"].(int); ok {
		o.RecvHWM = v
	}
	if v, ok := cs.config["tcp_nodelay"].(bool); ok {
		o.TCPNoDelay = v
	}
	if v, ok := cs.config["handshake_timeout"].(time.Duration); ok {
		o.HandshakeTimeout = v
	}
	if v, ok := cs.config["connect_timeout"].(time.Duration); ok {
		o.ConnectTimeout = v
	}
	if v, ok := cs.config["reconnect_ivl"].(time.Duration); ok {
		o.ReconnectIVL = v
	}
	if v, ok := cs.config["reconnect_ivl_max"].(time.Duration); ok {
		o.ReconnectIVLMax = v
	}
	if v, ok := cs.config["req_relaxed"].(bool); ok {
		o.ReqRelaxed = v
	}
	if v, ok := cs.config["req_correlate"].(bool); ok {
		o.ReqCorrelate = v
	}
	if v, ok := cs.config["router_mandatory"].(bool); ok {
		o.RouterMandatory = v
	}
	if v, ok := cs.config["router_handover"].(bool); ok {
		o.RouterHandover = v
	}
	if v, ok := cs.config["xpub_verbose"].(bool); ok {
		o.XPubVerbose = v
	}
	return o
}
