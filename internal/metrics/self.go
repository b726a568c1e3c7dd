package metrics

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	selfCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Subsystem: "self",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the monitor process itself.",
		},
	)
	selfMemoryMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Subsystem: "self",
			Name:      "memory_mb",
			Help:      "Resident memory in MB of the monitor process itself.",
		},
	)
)

// SampleSelf refreshes the monitor's own resource gauges. Failures are
// ignored; the gauges simply keep their previous values.
func SampleSelf() {
	if !regOK.Load() {
		return
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	if cpu, err := p.CPUPercent(); err == nil {
		selfCPUPercent.Set(cpu)
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		selfMemoryMB.Set(float64(mem.RSS) / (1024 * 1024))
	}
}
