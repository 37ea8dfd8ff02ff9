package utils

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

// cpuSampler cached die letzte CPU-Messung, damit häufige Statusabfragen nicht blockieren
type cpuSampler struct {
	mu       sync.Mutex
	sampled  time.Time
	percent  float64
	maxAge   time.Duration
	interval time.Duration
}

var sampler = &cpuSampler{maxAge: 5 * time.Second, interval: 200 * time.Millisecond}

// PoolStats liefert die Kennzahlen des Worker-Pools
type PoolStats interface {
	GetWorkerCount() int
	ActiveJobCount() int
	GetQueueCapacity() int
}

// RuntimeStats beschreibt den Go-Prozess
type RuntimeStats struct {
	NumCPU      int     `json:"num_cpu"`
	Goroutines  int     `json:"goroutines"`
	CPUPercent  float64 `json:"cpu_percent"`
	HeapAlloc   uint64  `json:"heap_alloc"`
	HeapAllocHR string  `json:"heap_alloc_human"`
	SysMemory   uint64  `json:"sys_memory"`
}

// HostStats beschreibt den Rechner
type HostStats struct {
	MemoryPercent float64 `json:"memory_percent"`
	MemoryTotalHR string  `json:"memory_total_human,omitempty"`
}

// PoolSnapshot sind die Kennzahlen des Worker-Pools zum Abfragezeitpunkt
type PoolSnapshot struct {
	Workers       int `json:"workers"`
	ActiveJobs    int `json:"active_jobs"`
	QueueCapacity int `json:"queue_capacity"`
}

// StorageStats beschreibt den Speicherordner der Erkennungsbilder
type StorageStats struct {
	Folder      string  `json:"folder"`
	Files       int     `json:"files"`
	UsedPercent float64 `json:"disk_used_percent"`
	FreeHR      string  `json:"disk_free_human,omitempty"`
}

// SystemStats enthält aktuelle System- und Anwendungsstatistiken
type SystemStats struct {
	Runtime   RuntimeStats  `json:"runtime"`
	Host      HostStats     `json:"host"`
	Pool      *PoolSnapshot `json:"pool,omitempty"`
	Storage   *StorageStats `json:"storage,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// FormatBytes formatiert Bytes in lesbare Einheiten (KB, MB, GB)
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d Bytes", bytes)
	}
	value := float64(bytes)
	for _, suffix := range []string{"KB", "MB", "GB"} {
		value /= unit
		if value < unit || suffix == "GB" {
			return fmt.Sprintf("%.2f %s", value, suffix)
		}
	}
	return fmt.Sprintf("%d Bytes", bytes)
}

// CPUPercent liefert die CPU-Auslastung aller Kerne. Innerhalb von maxAge wird der letzte Wert wiederverwendet.
func CPUPercent() float64 {
	sampler.mu.Lock()
	defer sampler.mu.Unlock()

	if !sampler.sampled.IsZero() && time.Since(sampler.sampled) < sampler.maxAge {
		return sampler.percent
	}
	percentages, err := cpu.Percent(sampler.interval, false)
	if err != nil || len(percentages) == 0 {
		log.WithError(err).Debug("CPU usage measurement failed")
		return sampler.percent
	}
	sampler.sampled = time.Now()
	sampler.percent = percentages[0]
	return sampler.percent
}

// GetSystemStats erfasst Laufzeit-, Host-, Pool- und Speicherordnerstatistiken.
// pool und snapshotDir sind optional.
func GetSystemStats(pool PoolStats, snapshotDir string) *SystemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := &SystemStats{
		Runtime: RuntimeStats{
			NumCPU:      runtime.NumCPU(),
			Goroutines:  runtime.NumGoroutine(),
			CPUPercent:  CPUPercent(),
			HeapAlloc:   ms.Alloc,
			HeapAllocHR: FormatBytes(ms.Alloc),
			SysMemory:   ms.Sys,
		},
		Timestamp: time.Now(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.Host = HostStats{MemoryPercent: vm.UsedPercent, MemoryTotalHR: FormatBytes(vm.Total)}
	}
	if pool != nil {
		stats.Pool = &PoolSnapshot{
			Workers:       pool.GetWorkerCount(),
			ActiveJobs:    pool.ActiveJobCount(),
			QueueCapacity: pool.GetQueueCapacity(),
		}
	}
	if snapshotDir != "" {
		stats.Storage = storageStats(snapshotDir)
	}
	return stats
}

func storageStats(dir string) *StorageStats {
	s := &StorageStats{Folder: dir}
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				s.Files++
			}
		}
	}
	if usage, err := disk.Usage(dir); err == nil {
		s.UsedPercent = usage.UsedPercent
		s.FreeHR = FormatBytes(usage.Free)
	} else {
		log.WithError(err).Debugf("Disk usage for %s not available", dir)
	}
	return s
}
