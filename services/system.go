package services

import (
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemSnapshot is the host health view shown on the dashboard.
type SystemSnapshot struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	MemoryUsedMB   uint64  `json:"memory_used_mb"`
	MemoryTotalMB  uint64  `json:"memory_total_mb"`
	DiskPercent    float64 `json:"disk_percent"`
	DiskFreeMB     uint64  `json:"disk_free_mb"`
	CollectedAtUTC string  `json:"collected_at"`
}

// SystemMonitor samples host resources for the artifact volume.
type SystemMonitor struct {
	dataPath string
}

func NewSystemMonitor(dataPath string) *SystemMonitor {
	return &SystemMonitor{dataPath: dataPath}
}

// Snapshot collects a point-in-time reading. Individual probe failures leave
// their fields zeroed rather than failing the whole snapshot.
func (m *SystemMonitor) Snapshot() SystemSnapshot {
	snapshot := SystemSnapshot{CollectedAtUTC: time.Now().UTC().Format(time.RFC3339)}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snapshot.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snapshot.MemoryPercent = vm.UsedPercent
		snapshot.MemoryUsedMB = vm.Used / 1024 / 1024
		snapshot.MemoryTotalMB = vm.Total / 1024 / 1024
	}
	if usage, err := disk.Usage(m.dataPath); err == nil {
		snapshot.DiskPercent = usage.UsedPercent
		snapshot.DiskFreeMB = usage.Free / 1024 / 1024
	}
	return snapshot
}
