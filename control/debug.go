// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Debug probe registry: named, on-demand introspection hooks an operator
// can dump without a restart — per-connection handshake state, queue
// depths, size-class pool occupancy — alongside the host- and
// platform-level probes in hostprobe.go and platform_*.go.

package control

import (
	"sync"

	"github.com/monocoque/monocoque/engine"
)

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]func() any),
	}
}

// RegisterProbe inserts a named debug hook.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// RegisterConnProbe wires a connection's coarse lifecycle state
// (Greeting/Handshaking/Active/Closed) into the registry under name, so a
// debug dump can report the connection stage without the socket package
// depending on control.
func (dp *DebugProbes) RegisterConnProbe(name string, c *engine.Conn) {
	dp.RegisterProbe(name, func() any { return c.State().String() })
}

// DumpState returns output of all probes.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make(map[string]any)
	for k, fn := range dp.probes {
		out[k] = fn()
	}
	return out
}
