// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Process-wide reload hooks, triggered by ConfigStore.SetConfig whenever a
// deployment pushes new socket.Options overrides. A long-lived socket
// wrapper that wants to pick up req_relaxed or router_mandatory changes
// without a restart registers here instead of polling GetSnapshot.

package control

var reloadHooks []func()

// RegisterReloadHook adds a component reload listener.
func RegisterReloadHook(fn func()) {
	reloadHooks = append(reloadHooks, fn)
}

// TriggerHotReload dispatches all reload hooks. Called automatically by
// ConfigStore.SetConfig; exported so a caller can also force a reload of
// hook-registered components without changing any config value (e.g. to
// pick up a rotated TLS certificate referenced by an unchanged path).
func TriggerHotReload() {
	for _, fn := range reloadHooks {
		go fn()
	}
}
