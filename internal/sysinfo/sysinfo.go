// Package sysinfo reports host resource usage for the status surface
package sysinfo

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const sampleInterval = 5 * time.Second

// Monitor samples CPU and memory usage in the background. Reads are
// cheap and never block on the sampler.
type Monitor struct {
	mu     sync.RWMutex
	cpu    float64
	memory float64

	running bool
	stopCh  chan struct{}
	logger  *slog.Logger
}

// NewMonitor creates a resource monitor
func NewMonitor() *Monitor {
	return &Monitor{
		logger: slog.Default().With("component", "sysinfo"),
	}
}

// Start launches the sampling loop
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	go m.sample(m.stopCh)
}

// Stop halts the sampling loop
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	m.running = false
}

func (m *Monitor) sample(stopCh chan struct{}) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	var cpuPct, memPct float64

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	} else if err != nil {
		m.logger.Debug("CPU sample failed", "error", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		memPct = vm.UsedPercent
	} else {
		m.logger.Debug("Memory sample failed", "error", err)
	}

	m.mu.Lock()
	m.cpu = cpuPct
	m.memory = memPct
	m.mu.Unlock()
}

// CPUPercent returns the last sampled CPU usage
func (m *Monitor) CPUPercent() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cpu
}

// MemoryPercent returns the last sampled memory usage
func (m *Monitor) MemoryPercent() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memory
}
