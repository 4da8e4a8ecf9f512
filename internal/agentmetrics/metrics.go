// Package agentmetrics samples host resource usage for the heartbeat
// pusher to attach to status pushes. Display-only on the coordinator side:
// no scheduling or reconciliation decision reads these numbers.
package agentmetrics

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a point-in-time reading of host resource usage, all
// percentages in [0, 100].
type Snapshot struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
}

// Collect samples CPU, memory and disk utilization for the path the agent
// runs experiments under. A failure on any one metric leaves it at zero
// rather than failing the whole snapshot — a heartbeat with partial
// diagnostics is still worth sending.
func Collect(ctx context.Context, experimentPath string) Snapshot {
	var snap Snapshot

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemPercent = vm.UsedPercent
	}

	if du, err := disk.UsageWithContext(ctx, experimentPath); err == nil {
		snap.DiskPercent = du.UsedPercent
	}

	return snap
}
