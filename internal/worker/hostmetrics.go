package worker

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/bobmcallan/quartzqueue/internal/model"
)

// collectHostMetrics fills in ping's vcpu/memory fields from the host the
// worker process runs on (spec §4.D "memory (container RSS and
// platform-internal allocations)"). Best-effort: a failed probe leaves the
// corresponding field at its zero value rather than failing the ping.
func collectHostMetrics(ping *model.WorkerPing) {
	if counts, err := cpu.Counts(true); err == nil {
		ping.VCPUs = counts
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	ping.MemoryBytes = vm.Total
	ping.MemoryUsage = vm.UsedPercent / 100
	ping.PlatformMemoryUsage = vm.UsedPercent / 100
}
