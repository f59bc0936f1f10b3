//go:build linux
// +build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific debug probes: the runtime.NumCPU() value PUB/XPUB's fanout pool
// falls back to when socket.Options.FanoutWorkers is left at zero.

package control

import (
	"runtime"
)

// RegisterPlatformProbes reports the CPU count a zero-valued FanoutWorkers
// would resolve to on this host.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.fanout_default_workers", func() any {
		return runtime.NumCPU()
	})
}
