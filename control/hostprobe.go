// control/hostprobe.go
//
// Host-level CPU/memory probes, registered into a DebugProbes alongside
// the build-tag-partitioned platform probes.

package control

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// RegisterHostProbes adds cross-platform CPU and memory usage probes,
// sampled fresh on every DumpState call rather than cached.
func RegisterHostProbes(dp *DebugProbes) {
	dp.RegisterProbe("host.cpu_percent", func() any {
		pct, err := cpu.Percent(0, false)
		if err != nil || len(pct) == 0 {
			return 0.0
		}
		return pct[0]
	})
	dp.RegisterProbe("host.mem_used_percent", func() any {
		v, err := mem.VirtualMemory()
		if err != nil {
			return 0.0
		}
		return v.UsedPercent
	})
}
