package enrich

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemInfo is a point-in-time host snapshot attached to every delivery.
type SystemInfo struct {
	Timestamp     time.Time
	Hostname      string
	OS            string
	Arch          string
	Platform      string
	Runtime       string
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
}

// CollectSystemInfo gathers the snapshot. It is effectively infallible:
// any metric that cannot be read is left at its zero value.
func CollectSystemInfo() SystemInfo {
	info := SystemInfo{
		Timestamp: time.Now(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Runtime:   runtime.Version(),
	}

	if hn, err := os.Hostname(); err == nil {
		info.Hostname = hn
	}
	if hi, err := host.Info(); err == nil {
		info.Platform = strings.TrimSpace(hi.Platform + " " + hi.PlatformVersion)
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		info.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryPercent = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		info.DiskPercent = du.UsedPercent
	}

	return info
}
